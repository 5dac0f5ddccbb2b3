package analysis

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/urlparse"
)

// factorNames extracts factor names for easy assertion.
func factorNames(factors []domain.ThreatFactor) []string {
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = f.Name
	}
	return names
}

func findFactor(factors []domain.ThreatFactor, name string) (domain.ThreatFactor, bool) {
	for _, f := range factors {
		if f.Name == name {
			return f, true
		}
	}
	return domain.ThreatFactor{}, false
}

func mustAnalyze(t *testing.T, raw string) domain.AnalysisResult {
	t.Helper()
	res, err := Analyze(raw, refdata.Default())
	if err != nil {
		t.Fatalf("Analyze(%q) failed: %v", raw, err)
	}
	return res
}

func TestAnalyzeScenarios(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		score    int
		phishing bool
		factors  []string
	}{
		{
			name:    "RecognizedDomain",
			url:     "https://www.google.com/search?q=test",
			score:   100,
			factors: []string{"Recognized Domain"},
		},
		{
			name:     "IPAddressOverHTTP",
			url:      "http://192.168.1.1/login",
			score:    25,
			phishing: true,
			factors:  []string{"Numbers in Domain", "Suspicious Keywords", "Insecure Protocol", "IP Address URL"},
		},
		{
			name:     "DecimalIPv4Host",
			url:      "http://3232235777/",
			score:    35,
			phishing: true,
			factors:  []string{"Numbers in Domain", "Insecure Protocol", "IP Address URL"},
		},
		{
			name:     "HexIPv4Host",
			url:      "http://0x7f.0.0.1/",
			score:    35,
			phishing: true,
			factors:  []string{"Numbers in Domain", "Insecure Protocol", "IP Address URL"},
		},
		{
			name:    "OctalIPv4Host",
			url:     "https://0300.0250.1.1/",
			score:   55,
			factors: []string{"Numbers in Domain", "IP Address URL"},
		},
		{
			name:     "PayPalImitation",
			url:      "https://paypal-login.com-secure.xyz/verify/account",
			score:    0,
			phishing: true,
			factors:  []string{"Suspicious TLD", "Multiple Hyphens", "Phishing Keywords", "Known Threat Pattern"},
		},
		{
			name:    "UnknownCleanDomain",
			url:     "https://example.com/",
			score:   90,
			factors: []string{"No Threats Detected"},
		},
		{
			name:    "PlainHTTP",
			url:     "http://example.com",
			score:   70,
			factors: []string{"Insecure Protocol"},
		},
		{
			name:    "URLShortener",
			url:     "https://bit.ly/abc",
			score:   75,
			factors: []string{"Known Threat Pattern"},
		},
		{
			name:     "GiftCardScam",
			url:      "https://free-gift-card.top/claim",
			score:    25,
			phishing: true,
			factors:  []string{"Suspicious TLD", "Multiple Hyphens", "Known Threat Pattern"},
		},
		{
			name:     "LongHyphenatedDomain",
			url:      "https://my-secure-login-portal-account-center.example.net/",
			score:    40,
			phishing: true,
			factors:  []string{"Unusually Long Domain", "Multiple Hyphens", "Phishing Keywords"},
		},
		{
			name:    "RecognizedDomainWithKeyword",
			url:     "https://www.paypal.com/signin",
			score:   90,
			factors: []string{"Recognized Domain", "Suspicious Keywords"},
		},
		{
			name:    "UpperCaseInput",
			url:     "HTTP://EXAMPLE.COM/LOGIN",
			score:   60,
			factors: []string{"Suspicious Keywords", "Insecure Protocol"},
		},
		{
			name:    "ScoreOfFiftyIsNotPhishing",
			url:     "https://facebook.com/account/verify",
			score:   50,
			factors: []string{"Recognized Domain", "Suspicious Keywords", "Known Threat Pattern", "Recent Registration"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustAnalyze(t, tt.url)

			if res.URL != tt.url {
				t.Errorf("expected url %q echoed, got %q", tt.url, res.URL)
			}
			if res.SafetyScore != tt.score {
				t.Errorf("expected score %d, got %d (factors %v)", tt.score, res.SafetyScore, factorNames(res.ThreatFactors))
			}
			if res.IsPhishing != tt.phishing {
				t.Errorf("expected isPhishing=%v, got %v", tt.phishing, res.IsPhishing)
			}
			if got := factorNames(res.ThreatFactors); !reflect.DeepEqual(got, tt.factors) {
				t.Errorf("expected factors %v, got %v", tt.factors, got)
			}
		})
	}
}

func TestAnalyzeInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "example.com/login", "http://256.0.0.1/"} {
		_, err := Analyze(raw, refdata.Default())
		if !errors.Is(err, domain.ErrInvalidURL) {
			t.Errorf("expected ErrInvalidURL for %q, got %v", raw, err)
		}
	}
}

func TestAnalyzeInvalidURLSkipsScoring(t *testing.T) {
	called := false
	spy := func(State, *urlparse.ParsedURL, string, *refdata.ReferenceData) Outcome {
		called = true
		return Outcome{}
	}

	if _, err := Analyze("not a url", refdata.Default(), spy); err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Error("scoring must not run for invalid input")
	}
}

func TestFactorDescriptions(t *testing.T) {
	res := mustAnalyze(t, "https://paypal-login.com-secure.xyz/verify/account")

	tld, _ := findFactor(res.ThreatFactors, "Suspicious TLD")
	if tld.Level != domain.LevelHigh {
		t.Errorf("expected High TLD factor, got %s", tld.Level)
	}
	want := "The domain uses a TLD (.xyz) commonly associated with free domains and abuse."
	if tld.Description != want {
		t.Errorf("unexpected TLD description: %q", tld.Description)
	}

	kw, _ := findFactor(res.ThreatFactors, "Phishing Keywords")
	if kw.Description != "URL contains multiple suspicious keywords: account, secure, login" {
		t.Errorf("expected first three keywords in table order, got %q", kw.Description)
	}

	known, _ := findFactor(res.ThreatFactors, "Known Threat Pattern")
	if known.Description != "Imitation of PayPal domain" || known.Level != domain.LevelHigh {
		t.Errorf("unexpected known pattern factor: %+v", known)
	}

	ip := mustAnalyze(t, "http://192.168.1.1/login")
	sk, _ := findFactor(ip.ThreatFactors, "Suspicious Keywords")
	if sk.Description != "URL contains potentially suspicious keywords: login" || sk.Level != domain.LevelMedium {
		t.Errorf("unexpected keyword factor: %+v", sk)
	}
}

func TestPatternPrecedence(t *testing.T) {
	// Matches login.*\.tk, paypal.*\.com- and verify.*account; only the
	// first in table order may contribute.
	res := mustAnalyze(t, "https://paypal-x.com-login.tk/verify/account")

	count := 0
	for _, f := range res.ThreatFactors {
		if f.Name == "Known Threat Pattern" {
			count++
			if f.Description != "Suspicious TLD often used for phishing" {
				t.Errorf("expected first pattern to win, got %q", f.Description)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one Known Threat Pattern factor, got %d", count)
	}
}

func TestKnownThreatPatternDeductions(t *testing.T) {
	tests := []struct {
		level domain.Level
		want  int
	}{
		{domain.LevelHigh, 50},
		{domain.LevelMedium, 30},
		{domain.LevelLow, 15},
	}

	for _, tt := range tests {
		rd, err := refdata.New(refdata.Tables{
			Patterns: []refdata.PatternSpec{{Literal: "evil", Severity: tt.level, Description: "evil"}},
		})
		if err != nil {
			t.Fatalf("refdata.New failed: %v", err)
		}
		p, _ := urlparse.Parse("https://evil.example/")
		out := KnownThreatPattern(State{Score: 100}, p, "https://evil.example/", rd)
		if out.Deduction != tt.want {
			t.Errorf("%s: expected deduction %d, got %d", tt.level, tt.want, out.Deduction)
		}
		if len(out.Factors) != 1 || out.Factors[0].Level != tt.level {
			t.Errorf("%s: unexpected factors %+v", tt.level, out.Factors)
		}
	}
}

func TestStructuralGates(t *testing.T) {
	// HostHash("shop9.example.org") % 17 == 0
	// HostHash("shop10.example.org") % 23 == 0
	// HostHash("news26.example.org") is divisible by both
	tests := []struct {
		name    string
		url     string
		score   int
		factors []string
	}{
		{
			name:    "StructureFires",
			url:     "https://shop9.example.org/",
			score:   70,
			factors: []string{"Numbers in Domain", "Suspicious Structure"},
		},
		{
			name:    "StructureGatedByScore",
			url:     "http://shop9.example.org/login/verify/account",
			score:   25,
			factors: []string{"Numbers in Domain", "Phishing Keywords", "Insecure Protocol", "Known Threat Pattern"},
		},
		{
			name:    "RegistrationFires",
			url:     "https://shop10.example.org/",
			score:   75,
			factors: []string{"Numbers in Domain", "Recent Registration"},
		},
		{
			name:    "RegistrationGatedByScore",
			url:     "http://shop10.example.org/login/verify/account",
			score:   25,
			factors: []string{"Numbers in Domain", "Phishing Keywords", "Insecure Protocol", "Known Threat Pattern"},
		},
		{
			name:    "BothFire",
			url:     "https://news26.example.org/update",
			score:   50,
			factors: []string{"Numbers in Domain", "Suspicious Keywords", "Suspicious Structure", "Recent Registration"},
		},
		{
			name:    "RegistrationSeesStructureDeduction",
			url:     "http://news26.example.org/",
			score:   40,
			factors: []string{"Numbers in Domain", "Insecure Protocol", "Suspicious Structure", "Recent Registration"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustAnalyze(t, tt.url)
			if res.SafetyScore != tt.score {
				t.Errorf("expected score %d, got %d", tt.score, res.SafetyScore)
			}
			if got := factorNames(res.ThreatFactors); !reflect.DeepEqual(got, tt.factors) {
				t.Errorf("expected factors %v, got %v", tt.factors, got)
			}
		})
	}
}

func TestHostHash(t *testing.T) {
	tests := map[string]int64{
		"":                   0,
		"www.google.com":     702889725,
		"192.168.1.1":        55965973,
		"example.com":        1944013059,
		"shop9.example.org":  1342885131,
		"news26.example.org": 585893559,
	}
	for host, want := range tests {
		if got := HostHash(host); got != want {
			t.Errorf("HostHash(%q) = %d, want %d", host, got, want)
		}
	}
}

func TestProperties(t *testing.T) {
	urls := []string{
		"https://www.google.com/search?q=test",
		"http://192.168.1.1/login",
		"https://paypal-login.com-secure.xyz/verify/account",
		"http://bank-secure-login-update-account.verify-now.tk/confirm/password",
		"https://a.b.c.d.e.f.g.h.i.j.k.l.m.n.o.p.example.com",
		"ftp://files.example.org/pub",
		"http://[::1]:8080/",
		"https://xn--pypal-4ve.com/",
	}
	rd := refdata.Default()

	for _, raw := range urls {
		t.Run(raw, func(t *testing.T) {
			res, err := Analyze(raw, rd)
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if res.SafetyScore < 0 || res.SafetyScore > 100 {
				t.Errorf("score out of range: %d", res.SafetyScore)
			}
			if len(res.ThreatFactors) == 0 {
				t.Error("threat factors must never be empty")
			}
			if res.IsPhishing != (res.SafetyScore < 50) {
				t.Errorf("isPhishing=%v inconsistent with score %d", res.IsPhishing, res.SafetyScore)
			}

			again, _ := Analyze(raw, rd)
			if !reflect.DeepEqual(res, again) {
				t.Error("expected identical results for repeated analysis")
			}
		})
	}
}

func TestKnownDomainProperty(t *testing.T) {
	for _, raw := range []string{
		"https://google.com",
		"http://login.microsoft.com/",
		"https://deep.sub.domain.with-many-hyphens-1-2.amazon.com/x",
	} {
		res := mustAnalyze(t, raw)
		if _, ok := findFactor(res.ThreatFactors, "Recognized Domain"); !ok {
			t.Errorf("%s: expected Recognized Domain factor", raw)
		}
		for _, name := range []string{"Suspicious TLD", "Unusually Long Domain", "Numbers in Domain", "Multiple Hyphens"} {
			if _, ok := findFactor(res.ThreatFactors, name); ok {
				t.Errorf("%s: unexpected %s factor for recognized domain", raw, name)
			}
		}
	}
}

func TestInsecureProtocolProperty(t *testing.T) {
	for _, host := range []string{"example.com", "google.com", "10.0.0.1", "free-gift-card.top"} {
		secure := mustAnalyze(t, "https://"+host+"/")
		insecure := mustAnalyze(t, "http://"+host+"/")

		f, ok := findFactor(insecure.ThreatFactors, "Insecure Protocol")
		if !ok || f.Level != domain.LevelHigh {
			t.Errorf("%s: expected High Insecure Protocol factor", host)
		}
		if secure.SafetyScore > 20 && insecure.SafetyScore > secure.SafetyScore-20 {
			t.Errorf("%s: expected http to lose at least 20 points (%d vs %d)", host, insecure.SafetyScore, secure.SafetyScore)
		}
	}
}

func TestExtraRulesRunAfterBuiltins(t *testing.T) {
	var seen State
	extra := func(st State, _ *urlparse.ParsedURL, _ string, _ *refdata.ReferenceData) Outcome {
		seen = st
		return Outcome{
			Deduction: 5,
			Factors:   []domain.ThreatFactor{{Name: "Custom", Level: domain.LevelLow}},
		}
	}

	res, err := Analyze("http://example.com", refdata.Default(), extra)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if seen.Score != 70 || seen.FactorCount != 1 {
		t.Errorf("expected extra rule to see score 70 and 1 factor, got %+v", seen)
	}
	if res.SafetyScore != 65 {
		t.Errorf("expected 65, got %d", res.SafetyScore)
	}
	if got := factorNames(res.ThreatFactors); !reflect.DeepEqual(got, []string{"Insecure Protocol", "Custom"}) {
		t.Errorf("unexpected factors %v", got)
	}
}

func TestAssemble(t *testing.T) {
	t.Run("ClampLow", func(t *testing.T) {
		res := Assemble("u", -45, []domain.ThreatFactor{{Name: "x"}})
		if res.SafetyScore != 0 || !res.IsPhishing {
			t.Errorf("unexpected %+v", res)
		}
	})

	t.Run("ClampHigh", func(t *testing.T) {
		res := Assemble("u", 130, nil)
		if res.SafetyScore != 100 || res.IsPhishing {
			t.Errorf("unexpected %+v", res)
		}
	})

	t.Run("NoThreatsFactor", func(t *testing.T) {
		res := Assemble("u", 90, nil)
		if len(res.ThreatFactors) != 1 || res.ThreatFactors[0] != NoThreatsFactor {
			t.Errorf("expected synthetic factor, got %+v", res.ThreatFactors)
		}
	})

	t.Run("CopiesFactors", func(t *testing.T) {
		in := []domain.ThreatFactor{{Name: "a"}}
		res := Assemble("u", 90, in)
		in[0].Name = "mutated"
		if res.ThreatFactors[0].Name != "a" {
			t.Error("result must not alias the input slice")
		}
	})
}

func TestAnalyzeConcurrent(t *testing.T) {
	rd := refdata.Default()
	want := mustAnalyze(t, "https://paypal-login.com-secure.xyz/verify/account")

	var wg sync.WaitGroup
	errs := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Analyze(want.URL, rd)
			if err != nil || !reflect.DeepEqual(got, want) {
				errs <- "concurrent result differs"
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

func BenchmarkAnalyze(b *testing.B) {
	rd := refdata.Default()
	for i := 0; i < b.N; i++ {
		_, _ = Analyze("https://paypal-login.com-secure.xyz/verify/account", rd)
	}
}
