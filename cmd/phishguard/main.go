// PhishGuard - Heuristic phishing URL scoring service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/phishguard/internal/api"
	"github.com/opensource-finance/phishguard/internal/bus"
	"github.com/opensource-finance/phishguard/internal/cache"
	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/repository"
	"github.com/opensource-finance/phishguard/internal/rules"
	"github.com/opensource-finance/phishguard/internal/scanner"
	"github.com/opensource-finance/phishguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.LoadConfig()
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting phishguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ref, err := loadReferenceData(cfg.ReferenceDataPath)
	if err != nil {
		slog.Error("failed to load reference data", "path", cfg.ReferenceDataPath, "error", err)
		os.Exit(1)
	}
	slog.Info("reference data loaded",
		"patterns", ref.PatternCount(),
		"domains", ref.DomainCount(),
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	svc := scanner.New(ref,
		scanner.WithRules(engine),
		scanner.WithRepository(repo),
		scanner.WithCache(cacheImpl),
		scanner.WithBus(busImpl),
		scanner.WithResultTTL(cfg.Cache.ResultTTL),
	)

	// Custom rules come from the database only; configure via POST /rules.
	if err := svc.LoadRules(ctx); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{Concurrency: worker.DefaultConcurrency}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("phishguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("phishguard shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func loadReferenceData(path string) (*refdata.ReferenceData, error) {
	if path == "" {
		return refdata.Default(), nil
	}
	return refdata.LoadFile(path)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               PHISHGUARD                  ║")
	fmt.Println("  ║      Phishing URL Scoring Engine          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /analyze         - Score a URL")
	fmt.Println("    POST   /analyze/async   - Queue a URL for the worker")
	fmt.Println("    GET    /scans           - Scan history (X-User-ID)")
	fmt.Println("    GET    /scans/{id}      - Get scan by ID")
	fmt.Println("    GET    /stats           - Detection statistics")
	fmt.Println("    GET    /reference       - Reference data summary")
	fmt.Println("    GET    /rules           - List custom rules")
	fmt.Println("    POST   /rules           - Create a custom rule")
	fmt.Println("    DELETE /rules/{id}      - Disable a custom rule")
	fmt.Println("    POST   /rules/reload    - Hot-reload rules from database")
	fmt.Println("    GET    /health          - Health check")
	fmt.Println()
}
