package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/reconcile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// Deps are the collaborators behind the API. Repo, Cache and Bus may be nil.
type Deps struct {
	Pipeline *worker.Pipeline
	Analyzer *analyzer.Analyzer
	Engine   *rules.Engine

	Repo  domain.Repository
	Cache domain.Cache
	Bus   domain.EventBus

	Version string

	// Upper bound for a synchronous analysis
	AnalysisTimeout time.Duration
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// AnalyzeRequest is the request body for POST /analyze and /analyze/async.
type AnalyzeRequest struct {
	EntityID string          `json:"entityId"`
	Records  json.RawMessage `json:"records"`
	Config   json.RawMessage `json:"config,omitempty"`
}

func (h *Handler) decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (*domain.AnalysisRequest, bool) {
	var body AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, false
	}
	if body.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return nil, false
	}
	return &domain.AnalysisRequest{
		RequestID: GetRequestID(r.Context()),
		TenantID:  GetTenantID(r.Context()),
		EntityID:  body.EntityID,
		Records:   body.Records,
		Config:    body.Config,
	}, true
}

// Analyze handles POST /analyze: runs the analysis synchronously and returns
// the report.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAnalyzeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := worker.Timeout(r.Context(), h.AnalysisTimeout)
	defer cancel()

	report, err := h.Pipeline.Run(ctx, req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("analysis failed",
				"tenant_id", req.TenantID,
				"entity_id", req.EntityID,
				"error", err,
			)
		}
		writeError(w, status, err.Error())
		return
	}
	if report.Metadata.TraceID == "" {
		report.Metadata.TraceID = GetTraceID(r.Context())
	}

	writeJSON(w, http.StatusOK, report)
}

// AnalyzeAsync handles POST /analyze/async: queues the request on the event
// bus. The report is published on the report-ready topic when done.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	req, ok := h.decodeAnalyzeRequest(w, r)
	if !ok {
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if _, err := h.Pipeline.Defaults().WithOverrides(req.Config); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := bus.PublishJSON(r.Context(), h.Bus, req.TenantID, domain.TopicAnalysisRequested, req); err != nil {
		slog.Error("failed to queue analysis",
			"request_id", req.RequestID,
			"tenant_id", req.TenantID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue analysis")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": req.RequestID,
		"status":    "queued",
		"topic":     domain.TopicReportReady,
	})
}

// ReconcileRequest is the request body for POST /reconcile.
type ReconcileRequest struct {
	EntityID          string          `json:"entityId"`
	Left              json.RawMessage `json:"left"`
	Right             json.RawMessage `json:"right"`
	LeftLabel         string          `json:"leftLabel,omitempty"`
	RightLabel        string          `json:"rightLabel,omitempty"`
	DateToleranceDays *int            `json:"dateToleranceDays,omitempty"`
	LargeAmount       *float64        `json:"largeAmount,omitempty"`
}

// ReconcileResponse is the response for POST /reconcile.
type ReconcileResponse struct {
	Report         *domain.AnalysisReport `json:"report"`
	Balanced       bool                   `json:"balanced"`
	Matches        []reconcile.Match      `json:"matches"`
	UnmatchedLeft  []*domain.Transaction  `json:"unmatchedLeft"`
	UnmatchedRight []*domain.Transaction  `json:"unmatchedRight"`
	LeftTotal      string                 `json:"leftTotal"`
	RightTotal     string                 `json:"rightTotal"`
}

// Reconcile handles POST /reconcile: matches two record sets, typically a
// bank statement against the ledger.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}

	left, err := normalize.JSON(req.Left)
	if err != nil {
		writeError(w, http.StatusBadRequest, "left: "+err.Error())
		return
	}
	right, err := normalize.JSON(req.Right)
	if err != nil {
		writeError(w, http.StatusBadRequest, "right: "+err.Error())
		return
	}

	opts := reconcile.DefaultOptions()
	if req.LeftLabel != "" {
		opts.LeftLabel = req.LeftLabel
	}
	if req.RightLabel != "" {
		opts.RightLabel = req.RightLabel
	}
	if req.DateToleranceDays != nil {
		if *req.DateToleranceDays < 0 {
			writeError(w, http.StatusBadRequest, "dateToleranceDays must not be negative")
			return
		}
		opts.DateTolerance = time.Duration(*req.DateToleranceDays) * 24 * time.Hour
	}
	if req.LargeAmount != nil {
		if *req.LargeAmount <= 0 {
			writeError(w, http.StatusBadRequest, "largeAmount must be positive")
			return
		}
		opts.LargeAmount = *req.LargeAmount
	}

	report, res := h.Analyzer.Reconcile(ctx, tenantID, req.EntityID, left, right, opts)
	report.Metadata.TraceID = GetTraceID(ctx)

	if h.Repo != nil {
		if err := h.Repo.SaveReport(context.WithoutCancel(ctx), tenantID, report); err != nil {
			slog.Error("failed to save reconciliation report",
				"report_id", report.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, ReconcileResponse{
		Report:         report,
		Balanced:       res.Balanced(),
		Matches:        res.Matches,
		UnmatchedLeft:  res.UnmatchedLeft,
		UnmatchedRight: res.UnmatchedRight,
		LeftTotal:      res.LeftTotal.String(),
		RightTotal:     res.RightTotal.String(),
	})
}

// GetReport retrieves a stored report by ID.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	report, err := h.Repo.GetReport(ctx, tenantID, reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		slog.Error("failed to get report", "id", reportID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListReports returns report summaries, newest first. Supports ?entityId=
// and ?limit=.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	summaries, err := h.Repo.ListReports(ctx, tenantID, r.URL.Query().Get("entityId"), limit)
	if err != nil {
		slog.Error("failed to list reports", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if summaries == nil {
		summaries = []*domain.ReportSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": summaries,
		"count":   len(summaries),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			components[name] = "unavailable"
			status = "degraded"
			return
		}
		components[name] = "ok"
	}
	if h.Repo != nil {
		check("repository", h.Repo.Ping)
	}
	if h.Cache != nil {
		check("cache", h.Cache.Ping)
	}
	if h.Bus != nil {
		check("eventBus", h.Bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.Version,
		"engine":     analyzer.EngineVersion,
		"components": components,
		"rules":      h.Engine.RulesCount(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// ListRules returns the rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.Engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule by ID, preferring the stored definition.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if h.Repo != nil {
		rule, err := h.Repo.GetRuleConfig(ctx, GlobalTenantID, ruleID)
		if err == nil {
			writeJSON(w, http.StatusOK, rule)
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get rule", "id", ruleID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load rule")
			return
		}
	}

	for _, rule := range h.Engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version,omitempty"`
	Expression  string          `json:"expression"`
	Severity    domain.Severity `json:"severity"`
	Confidence  float64         `json:"confidence"`
	Enabled     bool            `json:"enabled"`
}

// CreateRule validates a rule and saves it to the database. Rules are saved
// globally so they apply to all tenants; POST /rules/reload applies them.
// Without a repository the rule is loaded into the engine directly.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	if req.Version == "" {
		req.Version = "1.0.0"
	}
	if req.Severity == "" {
		req.Severity = domain.SeverityMedium
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Severity:    req.Severity,
		Confidence:  req.Confidence,
		Enabled:     req.Enabled,
	}

	if err := h.Engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.Repo == nil {
		if rule.Enabled {
			if err := h.Engine.LoadRule(rule); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		slog.Info("rule loaded", "id", rule.ID, "name", rule.Name)
		writeJSON(w, http.StatusCreated, map[string]any{
			"rule":    rule,
			"message": "Rule loaded into the engine.",
		})
		return
	}

	if err := h.Repo.SaveRuleConfig(ctx, GlobalTenantID, rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule disables a stored rule. Call POST /rules/reload to apply.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	if err := h.Repo.DeleteRuleConfig(r.Context(), GlobalTenantID, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		slog.Error("failed to delete rule", "id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	slog.Info("rule deleted", "id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules replaces the engine's rules with the enabled rules stored in
// the database.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	count, err := LoadStoredRules(r.Context(), h.Repo, h.Engine)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// LoadStoredRules replaces the engine's rules with the stored global rules
// and returns how many were loaded.
func LoadStoredRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) (int, error) {
	stored, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		return 0, err
	}
	if err := engine.ReloadRules(stored); err != nil {
		return 0, err
	}
	return engine.RulesCount(), nil
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, worker.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, normalize.ErrNotIterable):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
