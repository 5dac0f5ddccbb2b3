package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/phishguard/internal/bus"
	"github.com/opensource-finance/phishguard/internal/cache"
	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/repository"
	"github.com/opensource-finance/phishguard/internal/rules"
	"github.com/opensource-finance/phishguard/internal/scanner"
)

// createTestServer creates a server backed by a temp SQLite database, an
// in-memory cache and the channel bus.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() {
		b.Close()
		c.Close()
		engine.Close()
		repo.Close()
	})

	svc := scanner.New(refdata.Default(),
		scanner.WithRules(engine),
		scanner.WithRepository(repo),
		scanner.WithCache(c),
		scanner.WithBus(b),
	)
	return NewServer(cfg, svc, repo, c, "test-v1")
}

func doRequest(server *Server, method, path, body, userID string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestAnalyzeEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SafeURL", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/analyze", `{"url":"https://www.google.com/search?q=test"}`, "user-1")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AnalysisResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.SafetyScore != 100 || resp.IsPhishing {
			t.Errorf("expected score 100 not phishing, got %d %v", resp.SafetyScore, resp.IsPhishing)
		}
		if resp.Verdict != domain.VerdictSafe {
			t.Errorf("expected safe verdict, got %s", resp.Verdict)
		}
		if resp.ScanID == "" {
			t.Error("expected scanId in response")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("ResultFields", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/analyze", `{"url":"http://192.168.1.1/login"}`, "")

		var raw map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		for _, key := range []string{"url", "safetyScore", "threatFactors", "isPhishing", "verdict", "cached"} {
			if _, ok := raw[key]; !ok {
				t.Errorf("response missing %q", key)
			}
		}
		if raw["safetyScore"].(float64) != 25 || raw["isPhishing"] != true {
			t.Errorf("unexpected result %v", raw)
		}
	})

	t.Run("TrimsInput", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/analyze", `{"url":"  https://example.com  "}`, "")

		var resp AnalysisResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.URL != "https://example.com" || resp.SafetyScore != 90 {
			t.Errorf("unexpected result %+v", resp.AnalysisResult)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/analyze", "not-json", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidURL", func(t *testing.T) {
		for _, body := range []string{`{"url":""}`, `{"url":"   "}`, `{"url":"not a url"}`} {
			rr := doRequest(server, http.MethodPost, "/analyze", body, "")
			if rr.Code != http.StatusUnprocessableEntity {
				t.Errorf("%s: expected status 422, got %d", body, rr.Code)
			}

			var resp map[string]string
			_ = json.Unmarshal(rr.Body.Bytes(), &resp)
			if !strings.HasPrefix(resp["error"], "invalid url") {
				t.Errorf("%s: unexpected error %q", body, resp["error"])
			}
		}
	})
}

func TestAnalyzeAsyncEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doRequest(server, http.MethodPost, "/analyze/async", `{"url":"https://bit.ly/abc"}`, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp AsyncResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.RequestID == "" || resp.TraceID == "" {
		t.Errorf("expected request and trace ids, got %+v", resp)
	}

	rr = doRequest(server, http.MethodPost, "/analyze/async", `{"url":"nope"}`, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rr.Code)
	}
}

func TestScanHistoryEndpoints(t *testing.T) {
	server := createTestServer(t)

	var firstID string
	for i, u := range []string{"https://example.com/", "http://example.com/", "https://bit.ly/x"} {
		rr := doRequest(server, http.MethodPost, "/analyze", `{"url":"`+u+`"}`, "alice")
		var resp AnalysisResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if i == 0 {
			firstID = resp.ScanID
		}
	}
	doRequest(server, http.MethodPost, "/analyze", `{"url":"https://example.com/"}`, "bob")

	t.Run("ListOwnScans", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/scans", "", "alice")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Scans []domain.Scan `json:"scans"`
			Count int           `json:"count"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 3 {
			t.Errorf("expected 3 scans for alice, got %d", resp.Count)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/scans?limit=1", "", "alice")

		var resp struct {
			Count int `json:"count"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 scan, got %d", resp.Count)
		}

		rr = doRequest(server, http.MethodGet, "/scans?limit=abc", "", "alice")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetScan", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/scans/"+firstID, "", "alice")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var scan domain.Scan
		_ = json.Unmarshal(rr.Body.Bytes(), &scan)
		if scan.ID != firstID || scan.URL != "https://example.com/" {
			t.Errorf("unexpected scan %+v", scan)
		}
	})

	t.Run("OtherUsersScanNotFound", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/scans/"+firstID, "", "bob")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/stats", "", "")

		var st domain.Stats
		_ = json.Unmarshal(rr.Body.Bytes(), &st)
		if st.URLsAnalyzed != 4 || st.ThreatsDetected != 0 {
			t.Errorf("unexpected stats %+v", st)
		}
		if st.KnownThreatPatterns != 13 || st.RecognizedDomains != 10 {
			t.Errorf("unexpected reference counts %+v", st)
		}
	})
}

func TestReferenceEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doRequest(server, http.MethodGet, "/reference", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var info scanner.ReferenceInfo
	_ = json.Unmarshal(rr.Body.Bytes(), &info)
	if len(info.SuspiciousTLDs) != 11 || len(info.Keywords) != 14 {
		t.Errorf("unexpected reference info %+v", info)
	}
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)
	var ruleID string

	t.Run("CreateRule", func(t *testing.T) {
		body := `{"name":"Login Path","expression":"path.contains(\"login\")","level":"medium","deduction":20}`
		rr := doRequest(server, http.MethodPost, "/rules", body, "")
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Rule domain.RuleConfig `json:"rule"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Rule.ID == "" || !resp.Rule.Enabled {
			t.Errorf("expected enabled rule with id, got %+v", resp.Rule)
		}
		ruleID = resp.Rule.ID
	})

	t.Run("CreateInvalidRule", func(t *testing.T) {
		tests := []string{
			`not-json`,
			`{"name":"x"}`,
			`{"name":"x","expression":"path +","level":"low"}`,
			`{"name":"x","expression":"score","level":"low"}`,
			`{"name":"x","expression":"true","level":"critical"}`,
		}
		for _, body := range tests {
			rr := doRequest(server, http.MethodPost, "/rules", body, "")
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", body, rr.Code)
			}
		}
	})

	t.Run("ListAndGet", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/rules", "", "")
		var resp struct {
			Count int `json:"count"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 rule, got %d", resp.Count)
		}

		rr = doRequest(server, http.MethodGet, "/rules/"+ruleID, "", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		rr = doRequest(server, http.MethodGet, "/rules/missing", "", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ReloadAppliesRule", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/rules/reload", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(server, http.MethodPost, "/analyze", `{"url":"https://www.google.com/login"}`, "")
		var resp AnalysisResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)

		// 100, one keyword -10, custom rule -20
		if resp.SafetyScore != 70 {
			t.Errorf("expected 70 with custom rule, got %d", resp.SafetyScore)
		}
	})

	t.Run("DisableRule", func(t *testing.T) {
		rr := doRequest(server, http.MethodDelete, "/rules/"+ruleID, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rr = doRequest(server, http.MethodPost, "/analyze", `{"url":"https://www.google.com/login"}`, "")
		var resp AnalysisResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.SafetyScore != 90 {
			t.Errorf("expected 90 after disable, got %d", resp.SafetyScore)
		}

		rr = doRequest(server, http.MethodDelete, "/rules/missing", "", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	rr := doRequest(server, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "healthy" || resp["version"] != "test-v1" {
		t.Errorf("unexpected health %v", resp)
	}

	rr = doRequest(server, http.MethodGet, "/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestMiddleware(t *testing.T) {
	server := createTestServer(t)

	t.Run("TraceHeaders", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/health", "", "")
		if rr.Header().Get(RequestIDHeader) == "" || rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected request and trace id headers")
		}
	})

	t.Run("RequestIDPropagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id req-123, got %s", got)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
		req.Header.Set("Origin", "https://app.example")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), UserIDHeader) {
			t.Error("expected X-User-ID in allowed headers")
		}
	})

	t.Run("AnonymousUser", func(t *testing.T) {
		var got string
		h := UserMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetUserID(r.Context())
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if got != domain.AnonymousUser {
			t.Errorf("expected anonymous user, got %q", got)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
