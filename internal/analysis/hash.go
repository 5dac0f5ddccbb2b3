package analysis

import "unicode/utf16"

// HostHash is the classic 31-multiplier rolling hash over the UTF-16 code
// units of host, wrapped to a signed 32-bit integer, then made absolute.
//
// It stands in for signals that are not available offline (domain age,
// model output). The value carries no meaning beyond compatibility; do not
// build new rules on it.
func HostHash(host string) int64 {
	var h int32
	for _, cu := range utf16.Encode([]rune(host)) {
		h = h*31 + int32(cu)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}
