// Package worker processes scan requests asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/phishguard/internal/domain"
)

// DefaultConcurrency is the number of scans run in parallel when Config
// leaves it unset.
const DefaultConcurrency = 4

// Scanner runs one scan. It is satisfied by *scanner.Service, which stores
// and publishes the result itself.
type Scanner interface {
	Scan(ctx context.Context, userID, raw string) (*domain.Scan, error)
}

// Worker consumes domain.TopicScanRequested and runs each request through
// the Scanner.
type Worker struct {
	bus     domain.EventBus
	scanner Scanner

	mu            sync.Mutex
	subscriptions []domain.Subscription
	group         *errgroup.Group
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds how many scans run at once.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scanner Scanner) *Worker {
	return &Worker{
		bus:     bus,
		scanner: scanner,
	}
}

// Start subscribes to scan requests. A stopped worker can be started again.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx == nil {
		w.ctx, w.cancel = context.WithCancel(context.Background())
	}
	if w.group == nil {
		w.group = &errgroup.Group{}
		w.group.SetLimit(cfg.Concurrency)
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicScanRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicScanRequested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("scan worker started",
		"topic", domain.TopicScanRequested,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage hands the request to the pool. It blocks while the pool is
// full, which applies back-pressure to the subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.ScanRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse scan request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.TraceID == "" {
		req.TraceID = msg.Metadata["trace_id"]
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	w.mu.Lock()
	group := w.group
	w.mu.Unlock()
	if group == nil {
		return errors.New("worker not started")
	}

	// The subscription context ends on Unsubscribe; in-flight scans are
	// allowed to finish.
	scanCtx := context.WithoutCancel(ctx)
	group.Go(func() error {
		w.process(scanCtx, &req)
		return nil
	})
	return nil
}

// process runs one scan request. Failures are counted and logged only.
func (w *Worker) process(ctx context.Context, req *domain.ScanRequest) {
	start := time.Now()

	slog.Debug("processing scan request",
		"url", req.URL,
		"user_id", req.UserID,
		"trace_id", req.TraceID,
	)

	scan, err := w.scanner.Scan(ctx, req.UserID, req.URL)
	if err != nil {
		w.failed.Add(1)
		slog.Error("scan request failed",
			"url", req.URL,
			"trace_id", req.TraceID,
			"error", err,
		)
		return
	}
	w.processed.Add(1)

	slog.Info("scan request processed",
		"scan_id", scan.ID,
		"trace_id", req.TraceID,
		"safety_score", scan.Result.SafetyScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight scans.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	group := w.group
	cancel := w.cancel
	w.subscriptions = nil
	w.group = nil
	w.ctx, w.cancel = nil, nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	if group != nil {
		_ = group.Wait()
	}
	if cancel != nil {
		cancel()
	}

	slog.Info("scan worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
