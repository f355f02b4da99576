// Package analyzer runs the full analysis pipeline: normalize, profile, fan out
// to the detector bank, then score and recommend.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/reconcile"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// EngineVersion is recorded in every report.
const EngineVersion = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-analyzer")

// Analyzer orchestrates one analysis run. It is safe for concurrent use.
type Analyzer struct {
	registrations []detect.Registration
	maxWorkers    int
}

// New creates an analyzer over the built-in detectors plus any extra ones,
// running at most maxWorkers detectors at a time.
func New(maxWorkers int, extra ...detect.Registration) *Analyzer {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	regs := detect.Builtin()
	regs = append(regs, extra...)
	return &Analyzer{
		registrations: regs,
		maxWorkers:    maxWorkers,
	}
}

// Request is the input of one analysis.
type Request struct {
	TenantID string
	EntityID string

	// Raw records are normalized first. Transactions is used when Records is nil.
	Records      []map[string]any
	Transactions []*domain.Transaction

	// Optional pre-built profile of Transactions
	Profile *domain.BehavioralProfile

	// Optional historical profile; vendors absent from it count as new
	Baseline *domain.BehavioralProfile

	// Optional peer company profiles for benchmarking
	Peers []*domain.BehavioralProfile

	Config domain.AnalysisConfig
}

// Analyze runs the pipeline and returns the report. It fails only on an
// invalid configuration or when ctx ends before the detectors finish.
func (a *Analyzer) Analyze(ctx context.Context, req *Request) (*domain.AnalysisReport, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("tenant.id", req.TenantID),
			attribute.String("entity.id", req.EntityID),
			attribute.String("analysis.depth", string(req.Config.AnalysisDepth)),
		),
	)
	defer span.End()

	txs := req.Transactions
	if req.Records != nil {
		txs = normalize.Records(req.Records)
		for _, tx := range txs {
			tx.TenantID = req.TenantID
			tx.EntityID = req.EntityID
		}
	}
	normalizeMs := time.Since(start).Milliseconds()

	profileStart := time.Now()
	prof := req.Profile
	if prof == nil {
		prof = profile.Build(txs, req.Config.RecentWindow())
		profile.MarkNewAgainst(prof, req.Baseline)
	}
	profileMs := time.Since(profileStart).Milliseconds()

	in := &detect.Input{
		Transactions: txs,
		Profile:      prof,
		Config:       req.Config,
		Peers:        req.Peers,
		Reference:    profile.Reference(txs),
	}

	detectStart := time.Now()
	detectors := detect.Select(a.registrations, req.Config.AnalysisDepth)
	findings, runs, err := a.runDetectors(ctx, detectors, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("analysis interrupted: %w", err)
	}
	detectMs := time.Since(detectStart).Milliseconds()

	result := scoring.NewAggregator(req.Config.AnomalyScoreThreshold).Aggregate(findings)

	report := &domain.AnalysisReport{
		ID:              uuid.New().String(),
		TenantID:        req.TenantID,
		EntityID:        req.EntityID,
		GeneratedAt:     time.Now().UTC(),
		TotalRecords:    len(txs),
		Findings:        result.Findings,
		RiskScore:       result.RiskScore,
		RiskLevel:       result.RiskLevel,
		Recommendations: scoring.Recommend(result.Findings),
		Metadata: domain.ReportMetadata{
			AnalysisDepth: req.Config.AnalysisDepth,
			NormalizeMs:   normalizeMs,
			ProfileMs:     profileMs,
			DetectMs:      detectMs,
			TotalMs:       time.Since(start).Milliseconds(),
			DetectorRuns:  runs,
			EngineVersion: EngineVersion,
		},
	}
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		report.Metadata.TraceID = sc.TraceID().String()
	}

	span.SetAttributes(
		attribute.Int("analysis.records", len(txs)),
		attribute.Int("analysis.findings", len(report.Findings)),
		attribute.Float64("analysis.risk_score", report.RiskScore),
	)
	return report, nil
}

type detectorOutcome struct {
	findings []domain.Finding
	run      domain.DetectorRun
}

// runDetectors fans out over detectors with a bounded semaphore. A failing or
// panicking detector contributes no findings and is recorded in its run.
func (a *Analyzer) runDetectors(ctx context.Context, detectors []detect.Detector, in *detect.Input) ([]domain.Finding, []domain.DetectorRun, error) {
	outcomes := make([]detectorOutcome, len(detectors))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, a.maxWorkers)

	for i, d := range detectors {
		wg.Add(1)
		go func(idx int, d detect.Detector) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			outcomes[idx] = runDetector(ctx, d, in)
		}(i, d)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	var findings []domain.Finding
	runs := make([]domain.DetectorRun, 0, len(outcomes))
	for _, o := range outcomes {
		findings = append(findings, o.findings...)
		runs = append(runs, o.run)
	}
	return findings, runs, nil
}

func runDetector(ctx context.Context, d detect.Detector, in *detect.Input) (out detectorOutcome) {
	start := time.Now()
	out.run.Detector = d.Name()

	_, span := tracer.Start(ctx, "detector."+d.Name())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out.findings = nil
			out.run.Findings = 0
			out.run.Error = fmt.Sprintf("panic: %v", r)
			out.run.ProcessMs = time.Since(start).Milliseconds()
			span.SetStatus(codes.Error, out.run.Error)
			slog.Error("detector panicked",
				"detector", d.Name(),
				"error", r,
			)
		}
	}()

	findings, err := d.Detect(in)
	out.run.ProcessMs = time.Since(start).Milliseconds()
	if err != nil {
		out.run.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("detector failed",
			"detector", d.Name(),
			"error", err,
		)
		return out
	}

	out.findings = findings
	out.run.Findings = len(findings)
	span.SetAttributes(attribute.Int("detector.findings", len(findings)))
	return out
}

// Reconcile cross-references two populations and scores the breaks into a report.
func (a *Analyzer) Reconcile(ctx context.Context, tenantID, entityID string, left, right []*domain.Transaction, opts reconcile.Options) (*domain.AnalysisReport, *reconcile.Result) {
	start := time.Now()
	_, span := tracer.Start(ctx, "analyzer.Reconcile",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("reconcile.left", len(left)),
			attribute.Int("reconcile.right", len(right)),
		),
	)
	defer span.End()

	res := reconcile.Reconcile(left, right, opts)
	scored := scoring.NewAggregator(0).Aggregate(res.Findings)

	report := &domain.AnalysisReport{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		EntityID:        entityID,
		GeneratedAt:     time.Now().UTC(),
		TotalRecords:    len(left) + len(right),
		Findings:        scored.Findings,
		RiskScore:       scored.RiskScore,
		RiskLevel:       scored.RiskLevel,
		Recommendations: scoring.Recommend(scored.Findings),
		Metadata: domain.ReportMetadata{
			TotalMs:       time.Since(start).Milliseconds(),
			EngineVersion: EngineVersion,
			DetectorRuns: []domain.DetectorRun{{
				Detector:  reconcile.DetectorName,
				Findings:  len(res.Findings),
				ProcessMs: time.Since(start).Milliseconds(),
			}},
		},
	}
	return report, res
}
