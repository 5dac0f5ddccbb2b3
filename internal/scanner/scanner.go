// Package scanner is the service layer around the scoring engine. A scan
// goes through the verdict cache, the analysis engine with the loaded
// custom rules, the scan history and the event bus, in that order.
//
// Only the analysis step can fail a scan. Cache, repository and publish
// failures are logged and the result is still returned.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/phishguard/internal/analysis"
	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/rules"
	"github.com/opensource-finance/phishguard/internal/urlparse"
)

// ErrUnavailable is returned when an operation needs a component that was
// not configured.
var ErrUnavailable = errors.New("component not available")

// Counter keys kept in the cache.
const (
	CounterScans    = "scans.total"
	CounterPhishing = "scans.phishing"
)

// DefaultResultTTL bounds how long a cached verdict is reused.
const DefaultResultTTL = time.Hour

var tracer = otel.Tracer("phishguard-scanner")

// Service runs scans and the operations around them. Every dependency but
// the reference data is optional.
type Service struct {
	ref       *refdata.ReferenceData
	engine    *rules.Engine
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	resultTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRules attaches the custom rule engine.
func WithRules(e *rules.Engine) Option { return func(s *Service) { s.engine = e } }

// WithRepository attaches scan history and rule storage.
func WithRepository(r domain.Repository) Option { return func(s *Service) { s.repo = r } }

// WithCache attaches the verdict cache.
func WithCache(c domain.Cache) Option { return func(s *Service) { s.cache = c } }

// WithBus attaches the event bus.
func WithBus(b domain.EventBus) Option { return func(s *Service) { s.bus = b } }

// WithResultTTL overrides DefaultResultTTL.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resultTTL = ttl
		}
	}
}

// New creates a scanner service.
func New(ref *refdata.ReferenceData, opts ...Option) *Service {
	s := &Service{
		ref:       ref,
		resultTTL: DefaultResultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan analyzes raw for userID. An empty userID is recorded as
// domain.AnonymousUser. Invalid input returns an error wrapping
// domain.ErrInvalidURL and nothing is persisted.
func (s *Service) Scan(ctx context.Context, userID, raw string) (*domain.Scan, error) {
	start := time.Now()
	if userID == "" {
		userID = domain.AnonymousUser
	}

	ctx, span := tracer.Start(ctx, "scanner.Scan")
	defer span.End()

	result, cached, err := s.analyze(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid url")
		return nil, err
	}

	scan := &domain.Scan{
		ID:        uuid.New().String(),
		UserID:    userID,
		URL:       raw,
		Result:    result,
		Verdict:   domain.VerdictFor(result.SafetyScore),
		Cached:    cached,
		CreatedAt: time.Now().UTC(),
	}

	span.SetAttributes(
		attribute.String("scan.id", scan.ID),
		attribute.Int("scan.safety_score", result.SafetyScore),
		attribute.Bool("scan.is_phishing", result.IsPhishing),
		attribute.Bool("scan.cached", cached),
	)

	if s.repo != nil {
		if err := s.repo.SaveScan(ctx, scan); err != nil {
			slog.Error("failed to save scan", "scan_id", scan.ID, "error", err)
		}
	}

	s.count(ctx, result.IsPhishing)
	s.publish(ctx, scan)

	slog.Info("url scanned",
		"scan_id", scan.ID,
		"user_id", userID,
		"url", raw,
		"safety_score", result.SafetyScore,
		"is_phishing", result.IsPhishing,
		"cached", cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return scan, nil
}

// analyze returns the verdict for raw, from the cache when possible.
func (s *Service) analyze(ctx context.Context, raw string) (domain.AnalysisResult, bool, error) {
	extra, ruleset := s.ruleSet()
	key := cacheKey(ruleset, raw)

	if s.cache != nil {
		hit, err := s.cache.GetResult(ctx, key)
		if err != nil {
			slog.Warn("cache read failed", "error", err)
		}
		if hit != nil {
			return *hit, true, nil
		}
	}

	p, err := urlparse.Parse(raw)
	if err != nil {
		return domain.AnalysisResult{}, false, err
	}

	_, span := tracer.Start(ctx, "analysis.Score")
	span.SetAttributes(attribute.String("url.host", p.Hostname))
	points, factors := analysis.Score(p, raw, s.ref, extra...)
	span.End()

	result := analysis.Assemble(raw, points, factors)

	if s.cache != nil {
		if err := s.cache.SetResult(ctx, key, &result, s.resultTTL); err != nil {
			slog.Warn("cache write failed", "error", err)
		}
	}

	return result, false, nil
}

func (s *Service) ruleSet() ([]analysis.Rule, string) {
	if s.engine == nil {
		return nil, rules.EmptyFingerprint
	}
	return s.engine.RuleSet()
}

// cacheKey scopes a verdict to the rule set that produced it. The
// fingerprint is derived from the rules themselves, so instances sharing a
// cache agree on it across restarts.
func cacheKey(ruleset, raw string) string {
	return "r" + ruleset + ":" + raw
}

func (s *Service) count(ctx context.Context, phishing bool) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.IncrementCounter(ctx, CounterScans, 0); err != nil {
		slog.Warn("failed to increment counter", "counter", CounterScans, "error", err)
	}
	if phishing {
		if _, err := s.cache.IncrementCounter(ctx, CounterPhishing, 0); err != nil {
			slog.Warn("failed to increment counter", "counter", CounterPhishing, "error", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, scan *domain.Scan) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(scan)
	if err != nil {
		slog.Error("failed to encode scan event", "scan_id", scan.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicScanCompleted, payload); err != nil {
		slog.Error("failed to publish scan", "scan_id", scan.ID, "error", err)
	}

	if scan.Result.IsPhishing {
		if err := s.bus.Publish(ctx, domain.TopicPhishingDetected, payload); err != nil {
			slog.Error("failed to publish phishing alert", "scan_id", scan.ID, "error", err)
		}
	}
}

// Request validates raw and publishes a scan request for the async worker.
// It returns the request ID carried as the trace ID.
func (s *Service) Request(ctx context.Context, userID, raw, traceID string) (string, error) {
	if s.bus == nil {
		return "", fmt.Errorf("%w: event bus", ErrUnavailable)
	}
	if _, err := urlparse.Parse(raw); err != nil {
		return "", err
	}

	if traceID == "" {
		traceID = uuid.New().String()
	}
	payload, err := json.Marshal(domain.ScanRequest{URL: raw, UserID: userID, TraceID: traceID})
	if err != nil {
		return "", err
	}

	if err := s.bus.Publish(ctx, domain.TopicScanRequested, payload); err != nil {
		return "", fmt.Errorf("failed to publish scan request: %w", err)
	}
	return traceID, nil
}

// History returns the most recent scans of userID.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*domain.Scan, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: repository", ErrUnavailable)
	}
	if userID == "" {
		userID = domain.AnonymousUser
	}
	return s.repo.ListScans(ctx, userID, limit)
}

// GetScan returns one scan of userID.
func (s *Service) GetScan(ctx context.Context, userID, scanID string) (*domain.Scan, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: repository", ErrUnavailable)
	}
	if userID == "" {
		userID = domain.AnonymousUser
	}
	return s.repo.GetScan(ctx, userID, scanID)
}

// Stats reports detection totals and reference data sizes. Totals come from
// the repository when present, otherwise from the cache counters.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	st := domain.Stats{
		KnownThreatPatterns: s.ref.PatternCount(),
		RecognizedDomains:   s.ref.DomainCount(),
	}
	if s.engine != nil {
		st.CustomRules = s.engine.RulesCount()
	}

	var err error
	switch {
	case s.repo != nil:
		if st.URLsAnalyzed, err = s.repo.CountScans(ctx); err != nil {
			return st, err
		}
		st.ThreatsDetected, err = s.repo.CountPhishing(ctx)
	case s.cache != nil:
		if st.URLsAnalyzed, err = s.cache.GetCounter(ctx, CounterScans); err != nil {
			return st, err
		}
		st.ThreatsDetected, err = s.cache.GetCounter(ctx, CounterPhishing)
	}
	return st, err
}

// ReferenceInfo summarises the loaded reference data.
type ReferenceInfo struct {
	KnownThreatPatterns int      `json:"knownThreatPatterns"`
	RecognizedDomains   int      `json:"recognizedDomains"`
	SuspiciousTLDs      []string `json:"suspiciousTlds"`
	Keywords            []string `json:"keywords"`
}

// Reference returns a summary of the reference data.
func (s *Service) Reference() ReferenceInfo {
	return ReferenceInfo{
		KnownThreatPatterns: s.ref.PatternCount(),
		RecognizedDomains:   s.ref.DomainCount(),
		SuspiciousTLDs:      s.ref.SuspiciousTLDs(),
		Keywords:            append([]string(nil), s.ref.Keywords()...),
	}
}
