package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/phishguard/internal/bus"
	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/scanner"
)

type recordingScanner struct {
	mu       sync.Mutex
	requests []domain.ScanRequest
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	err      error
}

func (s *recordingScanner) Scan(_ context.Context, userID, raw string) (*domain.Scan, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	s.requests = append(s.requests, domain.ScanRequest{URL: raw, UserID: userID})
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return &domain.Scan{ID: "scan-" + raw, UserID: userID, URL: raw}, nil
}

func (s *recordingScanner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func publishRequest(t *testing.T, b domain.EventBus, req domain.ScanRequest) {
	t.Helper()
	payload, _ := json.Marshal(req)
	if err := b.Publish(context.Background(), domain.TopicScanRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingScanner{})

		if err := w.Start(Config{Concurrency: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicScanRequested {
			t.Errorf("expected topic %s, got %s", domain.TopicScanRequested, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		s := &recordingScanner{}
		w := NewWorker(eventBus, s)
		_ = w.Start(Config{})
		defer w.Stop()

		publishRequest(t, eventBus, domain.ScanRequest{
			URL:     "https://example.com/",
			UserID:  "user-1",
			TraceID: "trace-001",
		})

		waitFor(t, func() bool { return w.GetStats().Processed == 1 })

		s.mu.Lock()
		got := s.requests[0]
		s.mu.Unlock()
		if got.URL != "https://example.com/" || got.UserID != "user-1" {
			t.Errorf("unexpected request %+v", got)
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		s := &recordingScanner{}
		w := NewWorker(eventBus, s)
		_ = w.Start(Config{})
		defer w.Stop()

		_ = eventBus.Publish(context.Background(), domain.TopicScanRequested, []byte("{not json"))

		waitFor(t, func() bool { return w.GetStats().Failed == 1 })
		if s.count() != 0 {
			t.Error("malformed payload must not reach the scanner")
		}
	})

	t.Run("ScanFailure", func(t *testing.T) {
		s := &recordingScanner{err: domain.ErrInvalidURL}
		w := NewWorker(eventBus, s)
		_ = w.Start(Config{})
		defer w.Stop()

		publishRequest(t, eventBus, domain.ScanRequest{URL: "nope"})

		waitFor(t, func() bool { return w.GetStats().Failed == 1 })
		if w.GetStats().Processed != 0 {
			t.Error("failed scan must not count as processed")
		}
	})
}

func TestWorkerConcurrencyLimit(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	s := &recordingScanner{delay: 20 * time.Millisecond}
	w := NewWorker(eventBus, s)
	if err := w.Start(Config{Concurrency: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		publishRequest(t, eventBus, domain.ScanRequest{URL: "https://example.com/" + string(rune('a'+i))})
	}

	waitFor(t, func() bool { return w.GetStats().Processed == 10 })
	_ = w.Stop()

	if peak := s.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent scans, saw %d", peak)
	}
}

func TestStopWaitsForInFlight(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	s := &recordingScanner{delay: 50 * time.Millisecond}
	w := NewWorker(eventBus, s)
	_ = w.Start(Config{Concurrency: 1})

	publishRequest(t, eventBus, domain.ScanRequest{URL: "https://example.com/"})
	waitFor(t, func() bool { return s.inFlight.Load() == 1 })

	_ = w.Stop()
	if s.count() != 1 {
		t.Errorf("expected in-flight scan to finish before Stop returns, got %d", s.count())
	}
}

func TestWorkerWithScannerService(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	svc := scanner.New(refdata.Default(), scanner.WithBus(eventBus))
	w := NewWorker(eventBus, svc)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	completed := make(chan domain.Scan, 1)
	_, _ = eventBus.Subscribe(context.Background(), domain.TopicScanCompleted, func(ctx context.Context, msg *domain.Message) error {
		var scan domain.Scan
		if err := json.Unmarshal(msg.Payload, &scan); err != nil {
			return err
		}
		completed <- scan
		return nil
	})

	if _, err := svc.Request(context.Background(), "user-7", "http://192.168.1.1/login", ""); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	select {
	case scan := <-completed:
		if scan.UserID != "user-7" || scan.Result.SafetyScore != 25 || !scan.Result.IsPhishing {
			t.Errorf("unexpected scan %+v", scan)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for scan completion")
	}
}

func TestWorkerRestart(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	s := &recordingScanner{}
	w := NewWorker(eventBus, s)

	for i := 1; i <= 2; i++ {
		if err := w.Start(Config{Concurrency: 1}); err != nil {
			t.Fatalf("Start #%d failed: %v", i, err)
		}
		publishRequest(t, eventBus, domain.ScanRequest{URL: "https://example.com/", UserID: "user-1"})

		want := int64(i)
		waitFor(t, func() bool { return w.GetStats().Processed == want })

		if err := w.Stop(); err != nil {
			t.Fatalf("Stop #%d failed: %v", i, err)
		}
	}

	if s.count() != 2 {
		t.Errorf("expected 2 scans across restarts, got %d", s.count())
	}
}

func TestHandleBeforeStart(t *testing.T) {
	w := NewWorker(bus.NewChannelBus(1), &recordingScanner{})
	payload, _ := json.Marshal(domain.ScanRequest{URL: "https://example.com/"})

	err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: payload})
	if err == nil || errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("expected not-started error, got %v", err)
	}
}
