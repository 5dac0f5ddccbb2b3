// Package refdata holds the immutable reference tables consulted by the
// scoring engine: known threat patterns, domain reputation, suspicious TLDs
// and phishing keywords.
package refdata

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opensource-finance/phishguard/internal/domain"
)

// ErrInvalidTables is returned when reference tables fail validation.
var ErrInvalidTables = errors.New("invalid reference data")

// ThreatPattern is a known phishing URL shape. Exactly one of Literal or
// Regex is set.
type ThreatPattern struct {
	Literal     string
	Regex       *regexp.Regexp
	Severity    domain.Level
	Description string
}

// Matches reports whether the pattern matches the raw URL.
// Literal patterns are case-sensitive substrings; regex patterns are
// compiled case-insensitive.
func (p ThreatPattern) Matches(raw string) bool {
	if p.Regex != nil {
		return p.Regex.MatchString(raw)
	}
	return p.Literal != "" && strings.Contains(raw, p.Literal)
}

// String returns the pattern source.
func (p ThreatPattern) String() string {
	if p.Regex != nil {
		return p.Regex.String()
	}
	return p.Literal
}

// Tables is the serialisable form of the reference data.
type Tables struct {
	Patterns       []PatternSpec  `yaml:"patterns" json:"patterns"`
	Reputation     map[string]int `yaml:"reputation" json:"reputation"`
	SuspiciousTLDs []string       `yaml:"suspiciousTlds" json:"suspiciousTlds"`
	Keywords       []string       `yaml:"keywords" json:"keywords"`
}

// PatternSpec describes a threat pattern before compilation.
type PatternSpec struct {
	Literal     string       `yaml:"literal,omitempty" json:"literal,omitempty"`
	Regex       string       `yaml:"regex,omitempty" json:"regex,omitempty"`
	Severity    domain.Level `yaml:"severity" json:"severity"`
	Description string       `yaml:"description" json:"description"`
}

// ReferenceData is the read-only view used by the scoring engine.
// It is never mutated after New returns and is safe for concurrent use.
type ReferenceData struct {
	patterns   []ThreatPattern
	reputation map[string]int
	tlds       map[string]struct{}
	tldList    []string
	keywords   []string
}

// New validates and compiles the given tables.
func New(t Tables) (*ReferenceData, error) {
	rd := &ReferenceData{
		patterns:   make([]ThreatPattern, 0, len(t.Patterns)),
		reputation: make(map[string]int, len(t.Reputation)),
		tlds:       make(map[string]struct{}, len(t.SuspiciousTLDs)),
	}

	for i, spec := range t.Patterns {
		p, err := compilePattern(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %d: %v", ErrInvalidTables, i, err)
		}
		rd.patterns = append(rd.patterns, p)
	}

	for d, score := range t.Reputation {
		if score < 0 || score > 100 {
			return nil, fmt.Errorf("%w: reputation for %q out of range: %d", ErrInvalidTables, d, score)
		}
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, fmt.Errorf("%w: empty reputation domain", ErrInvalidTables)
		}
		rd.reputation[d] = score
	}

	for _, tld := range t.SuspiciousTLDs {
		tld = strings.ToLower(strings.TrimSpace(tld))
		if tld == "" {
			continue
		}
		if !strings.HasPrefix(tld, ".") {
			tld = "." + tld
		}
		if _, dup := rd.tlds[tld]; dup {
			continue
		}
		rd.tlds[tld] = struct{}{}
		rd.tldList = append(rd.tldList, tld)
	}

	seen := make(map[string]struct{}, len(t.Keywords))
	for _, kw := range t.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		rd.keywords = append(rd.keywords, kw)
	}

	return rd, nil
}

func compilePattern(spec PatternSpec) (ThreatPattern, error) {
	if !spec.Severity.Valid() {
		return ThreatPattern{}, fmt.Errorf("unknown severity %q", spec.Severity)
	}
	if (spec.Literal == "") == (spec.Regex == "") {
		return ThreatPattern{}, errors.New("exactly one of literal or regex is required")
	}

	p := ThreatPattern{
		Literal:     spec.Literal,
		Severity:    spec.Severity,
		Description: spec.Description,
	}
	if spec.Regex != "" {
		re, err := regexp.Compile("(?i)" + spec.Regex)
		if err != nil {
			return ThreatPattern{}, err
		}
		p.Regex = re
	}
	return p, nil
}

// Patterns returns the threat patterns in match order.
func (r *ReferenceData) Patterns() []ThreatPattern {
	return r.patterns
}

// Reputation returns the trust score for a base domain.
func (r *ReferenceData) Reputation(baseDomain string) (int, bool) {
	score, ok := r.reputation[baseDomain]
	return score, ok
}

// IsSuspiciousTLD reports whether tld (with leading dot) is flagged.
func (r *ReferenceData) IsSuspiciousTLD(tld string) bool {
	_, ok := r.tlds[tld]
	return ok
}

// SuspiciousTLDs returns the flagged TLDs in table order.
func (r *ReferenceData) SuspiciousTLDs() []string {
	return append([]string(nil), r.tldList...)
}

// Keywords returns the distinct lower-case phishing keywords in table order.
func (r *ReferenceData) Keywords() []string {
	return r.keywords
}

// PatternCount returns the number of known threat patterns.
func (r *ReferenceData) PatternCount() int { return len(r.patterns) }

// DomainCount returns the number of domains with a reputation score.
func (r *ReferenceData) DomainCount() int { return len(r.reputation) }
