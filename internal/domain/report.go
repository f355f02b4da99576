package domain

import (
	"time"
)

// AnalysisReport is the complete result of analyzing one entity's transactions.
type AnalysisReport struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	EntityID    string    `json:"entityId"`
	GeneratedAt time.Time `json:"generatedAt"`

	TotalRecords int `json:"totalRecords"`

	// Ordered by descending anomaly score
	Findings []ScoredFinding `json:"findings"`

	RiskScore float64   `json:"riskScore"`
	RiskLevel RiskLevel `json:"riskLevel"`

	Recommendations []Recommendation `json:"recommendations"`

	// Processing metadata
	Metadata ReportMetadata `json:"metadata"`
}

// Recommendation is a prioritized remediation action.
type Recommendation struct {
	Priority    Severity `json:"priority"`
	Action      string   `json:"action"`
	Description string   `json:"description"`
}

// ReportMetadata contains processing information.
type ReportMetadata struct {
	TraceID       string        `json:"traceId,omitempty"`
	AnalysisDepth AnalysisDepth `json:"analysisDepth"`
	NormalizeMs   int64         `json:"normalizeMs"`
	ProfileMs     int64         `json:"profileMs"`
	DetectMs      int64         `json:"detectMs"`
	TotalMs       int64         `json:"totalMs"`
	DetectorRuns  []DetectorRun `json:"detectorRuns"`
	EngineVersion string        `json:"engineVersion"`
}

// DetectorRun records the outcome of one detector in one analysis.
type DetectorRun struct {
	Detector  string `json:"detector"`
	Findings  int    `json:"findings"`
	ProcessMs int64  `json:"processMs"`
	Error     string `json:"error,omitempty"`
}

// ReportSummary is the compact form published on the event bus.
type ReportSummary struct {
	ReportID     string    `json:"reportId"`
	TenantID     string    `json:"tenantId"`
	EntityID     string    `json:"entityId"`
	RiskScore    float64   `json:"riskScore"`
	RiskLevel    RiskLevel `json:"riskLevel"`
	FindingCount int       `json:"findingCount"`
	TopFindings  []string  `json:"topFindings,omitempty"`
}

// Summary condenses the report for alerting.
func (r *AnalysisReport) Summary() *ReportSummary {
	s := &ReportSummary{
		ReportID:     r.ID,
		TenantID:     r.TenantID,
		EntityID:     r.EntityID,
		RiskScore:    r.RiskScore,
		RiskLevel:    r.RiskLevel,
		FindingCount: len(r.Findings),
	}
	for i, f := range r.Findings {
		if i == 5 {
			break
		}
		s.TopFindings = append(s.TopFindings, f.Description)
	}
	return s
}
