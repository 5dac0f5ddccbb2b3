package domain

// Level is the severity attached to a threat pattern or a threat factor.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// ThreatFactor is one explanatory reason contributing to a safety score.
type ThreatFactor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       Level  `json:"level"`
}

// AnalysisResult is the scored outcome for a single URL.
// SafetyScore is in [0, 100], higher is safer. ThreatFactors is never empty
// and is ordered by detection, not severity.
type AnalysisResult struct {
	URL           string         `json:"url"`
	SafetyScore   int            `json:"safetyScore"`
	ThreatFactors []ThreatFactor `json:"threatFactors"`
	IsPhishing    bool           `json:"isPhishing"`
}

// PhishingThreshold is the score below which a URL is reported as phishing.
const PhishingThreshold = 50

// Verdict is the coarse band shown to end users.
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictDangerous  Verdict = "dangerous"
)

// VerdictFor maps a safety score to its display band.
//   - score >= 80: safe
//   - 50 <= score < 80: suspicious
//   - score < 50: dangerous
func VerdictFor(score int) Verdict {
	switch {
	case score >= 80:
		return VerdictSafe
	case score >= PhishingThreshold:
		return VerdictSuspicious
	default:
		return VerdictDangerous
	}
}

// Message returns the user-facing summary for a verdict.
func (v Verdict) Message() string {
	switch v {
	case VerdictSafe:
		return "This URL appears to be safe"
	case VerdictSuspicious:
		return "This URL may be suspicious - proceed with caution"
	default:
		return "This URL has been flagged as potentially dangerous"
	}
}
