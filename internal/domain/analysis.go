package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidConfig is returned when an AnalysisConfig fails validation.
var ErrInvalidConfig = errors.New("invalid analysis configuration")

// AnalysisDepth selects which detectors run.
type AnalysisDepth string

const (
	// DepthQuick runs the cheap per-transaction and sub-cent detectors.
	DepthQuick AnalysisDepth = "quick"

	// DepthStandard adds behavioral, network and scheme detectors.
	DepthStandard AnalysisDepth = "standard"

	// DepthDeep adds clustering and peer benchmarking.
	DepthDeep AnalysisDepth = "deep"
)

// Rank orders depths so that a detector registered at depth d runs for any depth >= d.
func (d AnalysisDepth) Rank() int {
	switch d {
	case DepthQuick:
		return 1
	case DepthStandard:
		return 2
	case DepthDeep:
		return 3
	default:
		return 0
	}
}

// AnalysisConfig is the immutable set of detector thresholds for one analysis run.
// It is passed by value through every detector.
type AnalysisConfig struct {
	// Micro-skimming bands and triggers
	MicroThreshold      float64 `json:"microThreshold"`
	TinyThreshold       float64 `json:"tinyThreshold"`
	UltraTinyThreshold  float64 `json:"ultraTinyThreshold"`
	CumulativeThreshold float64 `json:"cumulativeThreshold"`
	MinCount            int     `json:"minCount"`
	ProportionThreshold float64 `json:"proportionThreshold"`
	UseIntegerMath      bool    `json:"useIntegerMath"`

	StatisticalDeviationThreshold float64 `json:"statisticalDeviationThreshold"`
	BehavioralChangeThreshold     float64 `json:"behavioralChangeThreshold"`
	ClusteringSimilarityThreshold float64 `json:"clusteringSimilarityThreshold"`

	// Findings scoring below this are dropped from the report
	AnomalyScoreThreshold float64 `json:"anomalyScoreThreshold"`

	AnalysisDepth AnalysisDepth `json:"analysisDepth"`

	// Calibration defaults. Empirically chosen; tune against labeled data.
	RecentWindowDays         int       `json:"recentWindowDays"`
	LargeAmountThreshold     float64   `json:"largeAmountThreshold"`
	VendorFrequencyThreshold int       `json:"vendorFrequencyThreshold"`
	ConcentrationThreshold   float64   `json:"concentrationThreshold"`
	RoundDollarMinimum       float64   `json:"roundDollarMinimum"`
	ApprovalThresholds       []float64 `json:"approvalThresholds"`
	EvasionMargin            float64   `json:"evasionMargin"`
	OffHoursAmount           float64   `json:"offHoursAmount"`
	ExcessiveExpenseCount    int       `json:"excessiveExpenseCount"`
	ExcessiveExpenseAverage  float64   `json:"excessiveExpenseAverage"`
	DuplicateWindowHours     float64   `json:"duplicateWindowHours"`
	BenchmarkDeviation       float64   `json:"benchmarkDeviation"`
}

// DefaultAnalysisConfig returns the default detector thresholds.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MicroThreshold:      0.01,
		TinyThreshold:       0.001,
		UltraTinyThreshold:  0.0001,
		CumulativeThreshold: 100,
		MinCount:            10,
		ProportionThreshold: 0.5,
		UseIntegerMath:      true,

		StatisticalDeviationThreshold: 2.5,
		BehavioralChangeThreshold:     0.4,
		ClusteringSimilarityThreshold: 0.85,
		AnomalyScoreThreshold:         0,
		AnalysisDepth:                 DepthStandard,

		RecentWindowDays:         30,
		LargeAmountThreshold:     10000,
		VendorFrequencyThreshold: 50,
		ConcentrationThreshold:   0.3,
		RoundDollarMinimum:       1000,
		ApprovalThresholds: []float64{
			1000, 2000, 2500, 3000, 5000, 7500,
			10000, 15000, 20000, 25000, 50000, 100000,
		},
		EvasionMargin:           100,
		OffHoursAmount:          5000,
		ExcessiveExpenseCount:   20,
		ExcessiveExpenseAverage: 500,
		DuplicateWindowHours:    72,
		BenchmarkDeviation:      2,
	}
}

// Validate rejects invalid thresholds. Values are never clamped.
func (c AnalysisConfig) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"microThreshold", c.MicroThreshold},
		{"tinyThreshold", c.TinyThreshold},
		{"ultraTinyThreshold", c.UltraTinyThreshold},
		{"cumulativeThreshold", c.CumulativeThreshold},
		{"proportionThreshold", c.ProportionThreshold},
		{"statisticalDeviationThreshold", c.StatisticalDeviationThreshold},
		{"behavioralChangeThreshold", c.BehavioralChangeThreshold},
		{"clusteringSimilarityThreshold", c.ClusteringSimilarityThreshold},
		{"largeAmountThreshold", c.LargeAmountThreshold},
		{"concentrationThreshold", c.ConcentrationThreshold},
		{"roundDollarMinimum", c.RoundDollarMinimum},
		{"evasionMargin", c.EvasionMargin},
		{"offHoursAmount", c.OffHoursAmount},
		{"excessiveExpenseAverage", c.ExcessiveExpenseAverage},
		{"duplicateWindowHours", c.DuplicateWindowHours},
		{"benchmarkDeviation", c.BenchmarkDeviation},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}

	if c.UltraTinyThreshold > c.TinyThreshold || c.TinyThreshold > c.MicroThreshold {
		return fmt.Errorf("%w: thresholds must satisfy ultraTiny <= tiny <= micro", ErrInvalidConfig)
	}
	if c.ProportionThreshold > 1 {
		return fmt.Errorf("%w: proportionThreshold must be at most 1, got %v", ErrInvalidConfig, c.ProportionThreshold)
	}
	if c.ClusteringSimilarityThreshold > 1 {
		return fmt.Errorf("%w: clusteringSimilarityThreshold must be at most 1, got %v", ErrInvalidConfig, c.ClusteringSimilarityThreshold)
	}
	if c.ConcentrationThreshold > 1 {
		return fmt.Errorf("%w: concentrationThreshold must be at most 1, got %v", ErrInvalidConfig, c.ConcentrationThreshold)
	}
	if c.AnomalyScoreThreshold < 0 || c.AnomalyScoreThreshold > 100 {
		return fmt.Errorf("%w: anomalyScoreThreshold must be within [0, 100], got %v", ErrInvalidConfig, c.AnomalyScoreThreshold)
	}
	if c.MinCount < 1 {
		return fmt.Errorf("%w: minCount must be at least 1, got %d", ErrInvalidConfig, c.MinCount)
	}
	if c.RecentWindowDays < 1 {
		return fmt.Errorf("%w: recentWindowDays must be at least 1, got %d", ErrInvalidConfig, c.RecentWindowDays)
	}
	if c.VendorFrequencyThreshold < 1 {
		return fmt.Errorf("%w: vendorFrequencyThreshold must be at least 1, got %d", ErrInvalidConfig, c.VendorFrequencyThreshold)
	}
	if c.ExcessiveExpenseCount < 1 {
		return fmt.Errorf("%w: excessiveExpenseCount must be at least 1, got %d", ErrInvalidConfig, c.ExcessiveExpenseCount)
	}
	for _, t := range c.ApprovalThresholds {
		if t <= 0 {
			return fmt.Errorf("%w: approval threshold must be positive, got %v", ErrInvalidConfig, t)
		}
	}
	if c.AnalysisDepth.Rank() == 0 {
		return fmt.Errorf("%w: unknown analysisDepth %q", ErrInvalidConfig, c.AnalysisDepth)
	}
	return nil
}

// WithOverrides returns a copy of c with the fields present in raw replaced,
// validated. An empty raw returns c unchanged.
func (c AnalysisConfig) WithOverrides(raw json.RawMessage) (AnalysisConfig, error) {
	merged := c
	merged.ApprovalThresholds = slices.Clone(c.ApprovalThresholds)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return c, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := merged.Validate(); err != nil {
		return c, err
	}
	return merged, nil
}

// RecentWindow returns the behavioral/new-vendor window as a duration.
func (c AnalysisConfig) RecentWindow() time.Duration {
	return time.Duration(c.RecentWindowDays) * 24 * time.Hour
}

// DuplicateWindow returns the duplicate-payment window as a duration.
func (c AnalysisConfig) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowHours * float64(time.Hour))
}
