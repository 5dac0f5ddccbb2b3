package refdata

import "github.com/opensource-finance/phishguard/internal/domain"

// Default returns the built-in reference tables.
func Default() *ReferenceData {
	rd, err := New(DefaultTables())
	if err != nil {
		panic("refdata: built-in tables are invalid: " + err.Error())
	}
	return rd
}

// DefaultTables returns the uncompiled built-in tables. Pattern order is
// significant: the first matching pattern wins.
func DefaultTables() Tables {
	return Tables{
		Patterns: []PatternSpec{
			{Regex: `login.*\.tk`, Severity: domain.LevelHigh, Description: "Suspicious TLD often used for phishing"},
			{Regex: `paypal.*\.com-`, Severity: domain.LevelHigh, Description: "Imitation of PayPal domain"},
			{Regex: `bank.*login.*\.xyz`, Severity: domain.LevelHigh, Description: "Banking phishing attempt"},
			{Regex: `amazon.*\.site`, Severity: domain.LevelHigh, Description: "Suspicious Amazon impersonation"},
			{Regex: `google.*docs.*-secure`, Severity: domain.LevelHigh, Description: "Google Docs phishing pattern"},
			{Regex: `facebook.*account.*verify`, Severity: domain.LevelMedium, Description: "Potential Facebook verification scam"},
			{Regex: `free.*gift.*card`, Severity: domain.LevelMedium, Description: "Potential scam offering free rewards"},
			{Regex: `crypto.*investment`, Severity: domain.LevelMedium, Description: "Potential cryptocurrency scam"},
			{Regex: `microsoft.*support`, Severity: domain.LevelMedium, Description: "Potential tech support scam"},
			{Regex: `verify.*account`, Severity: domain.LevelLow, Description: "Account verification request"},
			{Regex: `unsubscribe.*now`, Severity: domain.LevelLow, Description: "Aggressive marketing tactics"},
			{Regex: `bit\.ly`, Severity: domain.LevelLow, Description: "URL shortener can mask destinations"},
			{Regex: `tiny\.url`, Severity: domain.LevelLow, Description: "URL shortener can mask destinations"},
		},
		Reputation: map[string]int{
			"google.com":        95,
			"facebook.com":      90,
			"amazon.com":        92,
			"microsoft.com":     94,
			"apple.com":         93,
			"paypal.com":        91,
			"netflix.com":       89,
			"chase.com":         90,
			"bankofamerica.com": 91,
			"wellsfargo.com":    89,
		},
		SuspiciousTLDs: []string{
			".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top",
			".work", ".dating", ".loan", ".racing",
		},
		Keywords: []string{
			"account", "secure", "banking", "login", "verify",
			"update", "password", "credential", "confirm", "paypal",
			"suspension", "unusual", "activity", "access",
		},
	}
}
