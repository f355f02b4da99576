// Package worker consumes analysis requests from the event bus and runs
// them through the analysis pipeline.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalTenantID is the bus tenant used by producers that route every
// tenant's requests through one shared subscription. The tenant of each
// request is then taken from its payload.
const GlobalTenantID = "_global"

// Worker processes analysis requests asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	sem           chan struct{}
	timeout       time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to consume. Empty subscribes once under GlobalTenantID.
	TenantIDs []string

	// Concurrency is the number of analyses run at once across all tenants.
	Concurrency int

	// Timeout bounds a single analysis. Zero means no bound.
	Timeout time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, pipeline *Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to analysis requests for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	w.sem = make(chan struct{}, cfg.Concurrency)
	w.timeout = cfg.Timeout

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenantID}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicAnalysisRequested,
		)
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage hands the request to a pooled goroutine. Blocking on the
// semaphore holds back the subscription when every slot is busy.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.AnalysisRequest
	if err := bus.Decode(msg, &req); err != nil {
		w.failed.Add(1)
		return err
	}
	// The subject's tenant is authoritative; only global requests carry their own.
	switch {
	case msg.TenantID != "" && msg.TenantID != GlobalTenantID:
		if req.TenantID != "" && req.TenantID != msg.TenantID {
			slog.Warn("request tenant differs from subject tenant",
				"tenant_id", msg.TenantID,
				"request_tenant_id", req.TenantID,
				"request_id", req.RequestID,
			)
		}
		req.TenantID = msg.TenantID
	case req.TenantID == "":
		req.TenantID = msg.TenantID
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	// Acquire
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.sem
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }() // Release
		w.process(&req)
	}()
	return nil
}

func (w *Worker) process(req *domain.AnalysisRequest) {
	start := time.Now()

	// In-flight analyses finish even while the worker is stopping.
	ctx, cancel := Timeout(context.Background(), w.timeout)
	defer cancel()

	report, err := w.pipeline.Run(ctx, req)
	if err != nil {
		w.failed.Add(1)
		slog.Error("analysis request failed",
			"request_id", req.RequestID,
			"tenant_id", req.TenantID,
			"entity_id", req.EntityID,
			"error", err,
		)
		return
	}
	w.processed.Add(1)

	slog.Info("analysis request processed",
		"request_id", req.RequestID,
		"report_id", report.ID,
		"tenant_id", req.TenantID,
		"entity_id", req.EntityID,
		"risk_score", report.RiskScore,
		"findings", len(report.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight analyses to finish. Requests
// still waiting for a slot are dropped.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.stopped = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats is a snapshot of worker activity.
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
