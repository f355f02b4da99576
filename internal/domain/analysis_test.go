package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDefaultAnalysisConfigValid(t *testing.T) {
	if err := DefaultAnalysisConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestAnalysisConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *AnalysisConfig)
	}{
		{"zero micro threshold", func(c *AnalysisConfig) { c.MicroThreshold = 0 }},
		{"inverted bands", func(c *AnalysisConfig) { c.TinyThreshold = 0.05 }},
		{"proportion above one", func(c *AnalysisConfig) { c.ProportionThreshold = 1.5 }},
		{"similarity above one", func(c *AnalysisConfig) { c.ClusteringSimilarityThreshold = 2 }},
		{"negative anomaly floor", func(c *AnalysisConfig) { c.AnomalyScoreThreshold = -1 }},
		{"anomaly floor above 100", func(c *AnalysisConfig) { c.AnomalyScoreThreshold = 101 }},
		{"zero min count", func(c *AnalysisConfig) { c.MinCount = 0 }},
		{"unknown depth", func(c *AnalysisConfig) { c.AnalysisDepth = "exhaustive" }},
		{"negative approval threshold", func(c *AnalysisConfig) { c.ApprovalThresholds = []float64{1000, -5} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAnalysisConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestAnalysisConfigWithOverrides(t *testing.T) {
	defaults := DefaultAnalysisConfig()

	t.Run("Empty", func(t *testing.T) {
		for _, raw := range []json.RawMessage{nil, json.RawMessage("null")} {
			cfg, err := defaults.WithOverrides(raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.AnalysisDepth != defaults.AnalysisDepth || cfg.MinCount != defaults.MinCount {
				t.Errorf("expected defaults, got %+v", cfg)
			}
		}
	})

	t.Run("PartialOverride", func(t *testing.T) {
		cfg, err := defaults.WithOverrides(json.RawMessage(`{"analysisDepth":"deep","minCount":3}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.AnalysisDepth != DepthDeep || cfg.MinCount != 3 {
			t.Errorf("overrides not applied: %+v", cfg)
		}
		if cfg.MicroThreshold != defaults.MicroThreshold {
			t.Errorf("untouched field changed: %v", cfg.MicroThreshold)
		}
	})

	t.Run("DefaultsNotMutated", func(t *testing.T) {
		before := defaults.ApprovalThresholds[0]
		cfg, err := defaults.WithOverrides(json.RawMessage(`{"approvalThresholds":[500]}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.ApprovalThresholds) != 1 || cfg.ApprovalThresholds[0] != 500 {
			t.Errorf("expected overridden thresholds, got %v", cfg.ApprovalThresholds)
		}
		if defaults.ApprovalThresholds[0] != before {
			t.Errorf("defaults mutated: %v", defaults.ApprovalThresholds)
		}
	})

	t.Run("InvalidValue", func(t *testing.T) {
		_, err := defaults.WithOverrides(json.RawMessage(`{"proportionThreshold":7}`))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		_, err := defaults.WithOverrides(json.RawMessage(`{"minCount":"ten"}`))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestReportSummary(t *testing.T) {
	r := &AnalysisReport{ID: "r1", TenantID: "t", EntityID: "e", RiskScore: 42, RiskLevel: RiskLow}
	for i := 0; i < 7; i++ {
		r.Findings = append(r.Findings, ScoredFinding{Finding: Finding{Description: string(rune('a' + i))}})
	}
	s := r.Summary()
	if s.FindingCount != 7 || len(s.TopFindings) != 5 {
		t.Errorf("expected 7 findings with 5 top entries, got %d / %d", s.FindingCount, len(s.TopFindings))
	}
	if s.TopFindings[0] != "a" {
		t.Errorf("expected findings in report order, got %v", s.TopFindings)
	}
}
