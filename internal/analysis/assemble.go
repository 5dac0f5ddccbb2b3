package analysis

import "github.com/opensource-finance/phishguard/internal/domain"

// NoThreatsFactor is substituted when no rule emitted a factor.
var NoThreatsFactor = domain.ThreatFactor{
	Name:        "No Threats Detected",
	Description: "Our analysis did not find any suspicious patterns in this URL.",
	Level:       domain.LevelLow,
}

// Assemble clamps points to [0, 100], guarantees a non-empty factor list and
// derives the phishing verdict. url is echoed verbatim.
func Assemble(url string, points int, factors []domain.ThreatFactor) domain.AnalysisResult {
	score := min(max(points, 0), 100)

	out := make([]domain.ThreatFactor, len(factors))
	copy(out, factors)
	if len(out) == 0 {
		out = []domain.ThreatFactor{NoThreatsFactor}
	}

	return domain.AnalysisResult{
		URL:           url,
		SafetyScore:   score,
		ThreatFactors: out,
		IsPhishing:    score < domain.PhishingThreshold,
	}
}
