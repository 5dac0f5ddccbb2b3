// Package analysis is the URL scoring engine. Scoring is a left-to-right
// fold over an ordered list of rules: each rule sees the running score,
// may deduct points and may emit threat factors. No rule restores points.
//
// The package holds no state; reference data is passed explicitly and every
// call is independent, so Analyze is safe for concurrent use.
package analysis

import (
	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/urlparse"
)

// StartingScore is the score every URL starts from before deductions.
const StartingScore = 100

// State is the running state visible to a rule.
type State struct {
	Score       int
	FactorCount int
}

// Outcome is what a rule contributes: a non-negative deduction and zero or
// more factors, appended in order.
type Outcome struct {
	Deduction int
	Factors   []domain.ThreatFactor
}

// Rule evaluates one heuristic against a parsed URL.
type Rule func(st State, p *urlparse.ParsedURL, raw string, ref *refdata.ReferenceData) Outcome

// Score runs the built-in rules followed by extra, in order, and returns the
// unclamped points and the factors in detection order.
func Score(p *urlparse.ParsedURL, raw string, ref *refdata.ReferenceData, extra ...Rule) (int, []domain.ThreatFactor) {
	st := State{Score: StartingScore}
	var factors []domain.ThreatFactor

	apply := func(rule Rule) {
		out := rule(st, p, raw, ref)
		if out.Deduction > 0 {
			st.Score -= out.Deduction
		}
		factors = append(factors, out.Factors...)
		st.FactorCount = len(factors)
	}

	for _, rule := range builtinRules {
		apply(rule)
	}
	for _, rule := range extra {
		apply(rule)
	}

	return st.Score, factors
}

// Analyze parses raw, scores it and assembles the result. Parse failures are
// returned as-is (wrapping domain.ErrInvalidURL) and no scoring happens.
func Analyze(raw string, ref *refdata.ReferenceData, extra ...Rule) (domain.AnalysisResult, error) {
	p, err := urlparse.Parse(raw)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	points, factors := Score(p, raw, ref, extra...)
	return Assemble(raw, points, factors), nil
}
