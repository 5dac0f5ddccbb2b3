package domain

import "time"

// RuleConfig is an operator-defined scoring rule expressed in CEL.
// Custom rules run after the built-in heuristics; when Expression evaluates
// to true the rule deducts Deduction points and emits a factor.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression to evaluate, must return bool
	Expression string `json:"expression"`

	Level     Level `json:"level"`
	Deduction int   `json:"deduction"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Factor returns the threat factor emitted when the rule matches.
func (r *RuleConfig) Factor() ThreatFactor {
	return ThreatFactor{
		Name:        r.Name,
		Description: r.Description,
		Level:       r.Level,
	}
}
