package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/urlparse"
)

// Deductions applied by the built-in rules.
const (
	unrecognizedDomainDeduction = 10
	suspiciousTLDDeduction      = 25
	longDomainDeduction         = 15
	numbersInDomainDeduction    = 5
	multipleHyphensDeduction    = 10
	phishingKeywordsDeduction   = 25
	suspiciousKeywordsDeduction = 10
	insecureProtocolDeduction   = 20
	ipAddressDeduction          = 30
	suspiciousStructDeduction   = 15
	recentRegistrationDeduction = 10

	longDomainLength      = 30
	phishingKeywordsCount = 3
)

var ipv4Host = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// Order matters: the structural checks gate on the running score.
var builtinRules = []Rule{
	DomainReputation,
	PhishingKeywords,
	InsecureProtocol,
	IPAddressHost,
	KnownThreatPattern,
	SuspiciousStructure,
	RecentRegistration,
}

// BuiltinRules returns the built-in rules in evaluation order.
func BuiltinRules() []Rule {
	return append([]Rule(nil), builtinRules...)
}

// DomainReputation looks the base domain up in the reputation table. Known
// domains get a Low "Recognized Domain" factor; unknown domains lose points
// and are checked for TLD, length, digits and hyphens.
func DomainReputation(_ State, p *urlparse.ParsedURL, _ string, ref *refdata.ReferenceData) Outcome {
	if _, ok := ref.Reputation(p.BaseDomain); ok {
		return Outcome{Factors: []domain.ThreatFactor{{
			Name:        "Recognized Domain",
			Description: "This is a well-known domain with established reputation.",
			Level:       domain.LevelLow,
		}}}
	}

	out := Outcome{Deduction: unrecognizedDomainDeduction}
	host := p.Hostname

	if ref.IsSuspiciousTLD(p.TLD) {
		out.Deduction += suspiciousTLDDeduction
		out.Factors = append(out.Factors, domain.ThreatFactor{
			Name:        "Suspicious TLD",
			Description: fmt.Sprintf("The domain uses a TLD (%s) commonly associated with free domains and abuse.", p.TLD),
			Level:       domain.LevelHigh,
		})
	}

	if len(host) > longDomainLength {
		out.Deduction += longDomainDeduction
		out.Factors = append(out.Factors, domain.ThreatFactor{
			Name:        "Unusually Long Domain",
			Description: "The domain name is unusually long, which is a common phishing tactic.",
			Level:       domain.LevelMedium,
		})
	}

	if strings.ContainsAny(host, "0123456789") {
		out.Deduction += numbersInDomainDeduction
		out.Factors = append(out.Factors, domain.ThreatFactor{
			Name:        "Numbers in Domain",
			Description: "The domain contains numbers, which can sometimes indicate a generated phishing domain.",
			Level:       domain.LevelLow,
		})
	}

	if strings.Count(host, "-") > 1 {
		out.Deduction += multipleHyphensDeduction
		out.Factors = append(out.Factors, domain.ThreatFactor{
			Name:        "Multiple Hyphens",
			Description: "The domain uses multiple hyphens, which is sometimes used in phishing domains.",
			Level:       domain.LevelMedium,
		})
	}

	return out
}

// PhishingKeywords counts distinct keywords contained in the lower-cased raw
// URL. Three or more is High, one or two is Medium.
func PhishingKeywords(_ State, _ *urlparse.ParsedURL, raw string, ref *refdata.ReferenceData) Outcome {
	lower := strings.ToLower(raw)

	var found []string
	for _, kw := range ref.Keywords() {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}

	switch {
	case len(found) >= phishingKeywordsCount:
		return Outcome{
			Deduction: phishingKeywordsDeduction,
			Factors: []domain.ThreatFactor{{
				Name:        "Phishing Keywords",
				Description: "URL contains multiple suspicious keywords: " + strings.Join(found[:phishingKeywordsCount], ", "),
				Level:       domain.LevelHigh,
			}},
		}
	case len(found) > 0:
		return Outcome{
			Deduction: suspiciousKeywordsDeduction,
			Factors: []domain.ThreatFactor{{
				Name:        "Suspicious Keywords",
				Description: "URL contains potentially suspicious keywords: " + strings.Join(found, ", "),
				Level:       domain.LevelMedium,
			}},
		}
	}
	return Outcome{}
}

// InsecureProtocol flags plain http.
func InsecureProtocol(_ State, p *urlparse.ParsedURL, _ string, _ *refdata.ReferenceData) Outcome {
	if p.Scheme != "http" {
		return Outcome{}
	}
	return Outcome{
		Deduction: insecureProtocolDeduction,
		Factors: []domain.ThreatFactor{{
			Name:        "Insecure Protocol",
			Description: "The URL uses HTTP instead of secure HTTPS protocol.",
			Level:       domain.LevelHigh,
		}},
	}
}

// IPAddressHost flags dotted-quad hostnames. urlparse has already rewritten
// numeric hosts such as 3232235777 into that form.
func IPAddressHost(_ State, p *urlparse.ParsedURL, _ string, _ *refdata.ReferenceData) Outcome {
	if !ipv4Host.MatchString(p.Hostname) {
		return Outcome{}
	}
	return Outcome{
		Deduction: ipAddressDeduction,
		Factors: []domain.ThreatFactor{{
			Name:        "IP Address URL",
			Description: "The URL uses an IP address instead of a domain name, which is highly suspicious.",
			Level:       domain.LevelHigh,
		}},
	}
}

// KnownThreatPattern applies the first matching threat pattern only.
func KnownThreatPattern(_ State, _ *urlparse.ParsedURL, raw string, ref *refdata.ReferenceData) Outcome {
	pattern, ok := FirstMatch(ref.Patterns(), raw)
	if !ok {
		return Outcome{}
	}
	return Outcome{
		Deduction: SeverityDeduction(pattern.Severity),
		Factors: []domain.ThreatFactor{{
			Name:        "Known Threat Pattern",
			Description: pattern.Description,
			Level:       pattern.Severity,
		}},
	}
}

// FirstMatch returns the first pattern in table order matching raw.
func FirstMatch(patterns []refdata.ThreatPattern, raw string) (refdata.ThreatPattern, bool) {
	for _, p := range patterns {
		if p.Matches(raw) {
			return p, true
		}
	}
	return refdata.ThreatPattern{}, false
}

// SeverityDeduction is the penalty for a known threat pattern of the given
// severity.
func SeverityDeduction(l domain.Level) int {
	switch l {
	case domain.LevelHigh:
		return 50
	case domain.LevelMedium:
		return 30
	case domain.LevelLow:
		return 15
	}
	return 0
}

// SuspiciousStructure fires when the host hash is divisible by 17 and the
// running score is above 40.
func SuspiciousStructure(st State, p *urlparse.ParsedURL, _ string, _ *refdata.ReferenceData) Outcome {
	if HostHash(p.Hostname)%17 != 0 || st.Score <= 40 {
		return Outcome{}
	}
	return Outcome{
		Deduction: suspiciousStructDeduction,
		Factors: []domain.ThreatFactor{{
			Name:        "Suspicious Structure",
			Description: "The URL structure matches patterns seen in phishing campaigns.",
			Level:       domain.LevelMedium,
		}},
	}
}

// RecentRegistration fires when the host hash is divisible by 23 and the
// running score is above 30.
func RecentRegistration(st State, p *urlparse.ParsedURL, _ string, _ *refdata.ReferenceData) Outcome {
	if HostHash(p.Hostname)%23 != 0 || st.Score <= 30 {
		return Outcome{}
	}
	return Outcome{
		Deduction: recentRegistrationDeduction,
		Factors: []domain.ThreatFactor{{
			Name:        "Recent Registration",
			Description: "This domain appears to be recently registered, which can be a risk factor.",
			Level:       domain.LevelMedium,
		}},
	}
}
