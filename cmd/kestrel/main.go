// Kestrel - Fraud analysis for transaction ledgers.
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
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/baseline"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"analysis_depth", cfg.Analysis.AnalysisDepth,
	)

	// Spans are only exported when a provider is installed by the host.
	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

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
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(cfg.Worker.MaxDetectors)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Stored rules are optional; a bad row must not keep the service down.
	if n, err := api.LoadStoredRules(ctx, repo, engine); err != nil {
		slog.Warn("failed to load stored rules", "error", err)
	} else {
		slog.Info("rule engine initialized", "rules_count", n)
	}

	a := analyzer.New(cfg.Worker.MaxDetectors, detect.Registration{
		Detector: engine,
		Depth:    domain.DepthStandard,
	})
	baselineSvc := baseline.NewService(repo, cacheImpl, cfg.Worker.HistoryDays, cfg.Analysis.RecentWindow())
	pipeline := worker.NewPipeline(a, baselineSvc, repo, busImpl, cfg.Analysis, cfg.Alert.RiskScoreThreshold)
	analysisTimeout := time.Duration(cfg.Server.AnalysisTimeout) * time.Second

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, pipeline)
		tenantIDs := tenantList(os.Getenv("KESTREL_TENANTS"))
		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			Concurrency: cfg.Worker.Concurrency,
			Timeout:     analysisTimeout,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started",
				"tenant_count", len(tenantIDs),
				"concurrency", cfg.Worker.Concurrency,
			)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Pipeline:        pipeline,
		Analyzer:        a,
		Engine:          engine,
		Repo:            repo,
		Cache:           cacheImpl,
		Bus:             busImpl,
		Version:         Version,
		AnalysisTimeout: analysisTimeout,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop consuming before the server so in-flight reports can still be stored.
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

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║        Ledger Fraud Analysis Engine       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Depth:    %s\n", cfg.Analysis.AnalysisDepth)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /analyze         - Analyze a batch of records")
	fmt.Println("    POST   /analyze/async   - Queue an analysis on the event bus")
	fmt.Println("    POST   /reconcile       - Reconcile two ledgers")
	fmt.Println("    GET    /reports         - List stored reports")
	fmt.Println("    GET    /reports/{id}    - Get report by ID")
	fmt.Println("    GET    /rules           - List custom rules")
	fmt.Println("    POST   /rules           - Create a custom rule")
	fmt.Println("    GET    /rules/{id}      - Get rule by ID")
	fmt.Println("    DELETE /rules/{id}      - Disable a rule")
	fmt.Println("    POST   /rules/reload    - Hot-reload rules from the database")
	fmt.Println("    GET    /health          - Health check")
	fmt.Println("    GET    /ready           - Readiness check")
	fmt.Println()
}
