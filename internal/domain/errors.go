package domain

import "errors"

// ErrInvalidURL is returned when the input is not a well-formed absolute URL.
// Scoring is never attempted for such input.
var ErrInvalidURL = errors.New("invalid url")
