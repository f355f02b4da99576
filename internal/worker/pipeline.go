package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/baseline"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
)

// ErrInvalidRequest is returned for requests missing a tenant or entity.
var ErrInvalidRequest = errors.New("invalid analysis request")

// Pipeline runs one analysis request end to end: normalize, load the
// baseline, analyze, record history, store the report and publish events.
// It is shared by the async worker and the synchronous API.
type Pipeline struct {
	analyzer *analyzer.Analyzer
	baseline *baseline.Service
	repo     domain.Repository
	bus      domain.EventBus

	defaults       domain.AnalysisConfig
	alertThreshold float64
}

// NewPipeline creates a pipeline. repo, baseline and bus may be nil, in which
// case the corresponding steps are skipped.
func NewPipeline(a *analyzer.Analyzer, b *baseline.Service, repo domain.Repository, eventBus domain.EventBus, defaults domain.AnalysisConfig, alertThreshold float64) *Pipeline {
	return &Pipeline{
		analyzer:       a,
		baseline:       b,
		repo:           repo,
		bus:            eventBus,
		defaults:       defaults,
		alertThreshold: alertThreshold,
	}
}

// Defaults returns the service-wide analysis configuration.
func (p *Pipeline) Defaults() domain.AnalysisConfig {
	return p.defaults
}

// Run analyzes the request. Only invalid input, an invalid configuration or
// an interrupted analysis fail the run; storage and publish failures are
// logged and the report is still returned.
func (p *Pipeline) Run(ctx context.Context, req *domain.AnalysisRequest) (*domain.AnalysisReport, error) {
	if req.TenantID == "" || req.EntityID == "" {
		return nil, fmt.Errorf("%w: tenantId and entityId are required", ErrInvalidRequest)
	}

	cfg, err := p.defaults.WithOverrides(req.Config)
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	if len(req.Records) > 0 {
		records, err = normalize.DecodeRecords(req.Records)
		if err != nil {
			return nil, err
		}
	}
	txs := normalize.Records(records)
	for _, tx := range txs {
		tx.TenantID = req.TenantID
		tx.EntityID = req.EntityID
	}

	var hist *domain.BehavioralProfile
	if p.baseline != nil {
		hist, err = p.baseline.GetBaseline(ctx, req.TenantID, req.EntityID)
		if err != nil {
			slog.Warn("baseline unavailable, analyzing without history",
				"tenant_id", req.TenantID,
				"entity_id", req.EntityID,
				"error", err,
			)
		}
	}

	report, err := p.analyzer.Analyze(ctx, &analyzer.Request{
		TenantID:     req.TenantID,
		EntityID:     req.EntityID,
		Transactions: txs,
		Baseline:     hist,
		Config:       cfg,
	})
	if err != nil {
		return nil, err
	}

	// Persisting and publishing outlive the caller's deadline.
	bg := context.WithoutCancel(ctx)

	if p.baseline != nil {
		if err := p.baseline.Record(bg, req.TenantID, req.EntityID, txs); err != nil {
			slog.Error("failed to record transaction history",
				"tenant_id", req.TenantID,
				"entity_id", req.EntityID,
				"error", err,
			)
		}
	}

	if p.repo != nil {
		if err := p.repo.SaveReport(bg, req.TenantID, report); err != nil {
			slog.Error("failed to save report",
				"report_id", report.ID,
				"tenant_id", req.TenantID,
				"error", err,
			)
		}
	}

	p.publish(bg, report)
	return report, nil
}

func (p *Pipeline) publish(ctx context.Context, report *domain.AnalysisReport) {
	if p.bus == nil {
		return
	}
	summary := report.Summary()

	if err := bus.PublishJSON(ctx, p.bus, report.TenantID, domain.TopicReportReady, summary); err != nil {
		slog.Error("failed to publish report",
			"report_id", report.ID,
			"error", err,
		)
	}

	if report.RiskScore >= p.alertThreshold {
		if err := bus.PublishJSON(ctx, p.bus, report.TenantID, domain.TopicAlert, summary); err != nil {
			slog.Error("failed to publish alert",
				"report_id", report.ID,
				"error", err,
			)
		}
	}
}

// Timeout bounds a context by d when d is positive.
func Timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
