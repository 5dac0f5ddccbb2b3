package domain

import "time"

// Scan is one persisted analysis: the {url, result, timestamp, user} tuple.
type Scan struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	URL       string         `json:"url"`
	Result    AnalysisResult `json:"result"`
	Verdict   Verdict        `json:"verdict"`
	Cached    bool           `json:"cached"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AnonymousUser is recorded for scans made without a user identity.
const AnonymousUser = "anonymous"

// Stats summarises detection activity and the size of the reference data.
type Stats struct {
	URLsAnalyzed        int64 `json:"urlsAnalyzed"`
	ThreatsDetected     int64 `json:"threatsDetected"`
	KnownThreatPatterns int   `json:"knownThreatPatterns"`
	RecognizedDomains   int   `json:"recognizedDomains"`
	CustomRules         int   `json:"customRules"`
}
