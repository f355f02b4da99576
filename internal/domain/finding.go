package domain

// Severity grades how serious a finding is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (1) to CRITICAL (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// FindingType tags the pattern a detector recognized.
type FindingType string

const (
	// Statistical and behavioral
	FindingStatisticalOutlier FindingType = "STATISTICAL_OUTLIER"
	FindingBehavioralChange   FindingType = "BEHAVIORAL_CHANGE"
	FindingTemporalAnomaly    FindingType = "TEMPORAL_ANOMALY"
	FindingNewVendorLarge     FindingType = "NEW_VENDOR_LARGE_PAYMENT"
	FindingHighFrequency      FindingType = "HIGH_FREQUENCY_VENDOR"
	FindingConcentration      FindingType = "VENDOR_CONCENTRATION"
	FindingClusterOutlier     FindingType = "CLUSTER_OUTLIER"
	FindingBenchmark          FindingType = "BENCHMARK_DEVIATION"
	FindingVendorOutlier      FindingType = "VENDOR_OUTLIER"
	FindingFrequencySpike     FindingType = "FREQUENCY_SPIKE"

	// Embezzlement library
	FindingRoundDollar            FindingType = "ROUND_DOLLAR"
	FindingThresholdEvasion       FindingType = "THRESHOLD_EVASION"
	FindingStructuring            FindingType = "STRUCTURING"
	FindingDuplicateVendor        FindingType = "DUPLICATE_VENDOR"
	FindingOffHoursLarge          FindingType = "OFF_HOURS_LARGE"
	FindingExcessiveReimbursement FindingType = "EXCESSIVE_REIMBURSEMENT"

	// Duplicates
	FindingDuplicatePayment   FindingType = "DUPLICATE_PAYMENT"
	FindingDuplicateReference FindingType = "DUPLICATE_REFERENCE"

	// Schemes
	FindingPonziConsistentReturns FindingType = "PONZI_CONSISTENT_RETURNS"
	FindingPonziUnsustainable     FindingType = "PONZI_UNSUSTAINABLE_FLOW"
	FindingShellCompany           FindingType = "SHELL_COMPANY"
	FindingKickback               FindingType = "KICKBACK"

	// Sub-cent analysis
	FindingMicroSkimming     FindingType = "MICRO_SKIMMING"
	FindingFractionalResidue FindingType = "FRACTIONAL_RESIDUE"

	// Reconciliation
	FindingUnmatchedEntry FindingType = "UNMATCHED_ENTRY"
	FindingImbalance      FindingType = "RECONCILIATION_IMBALANCE"

	// User-defined CEL rules
	FindingCustomRule FindingType = "CUSTOM_RULE"
)

// Detection levels reported by the sub-cent detectors in Evidence["detectionLevel"].
const (
	LevelCent          = "CENT"
	LevelTenthCent     = "TENTH_CENT"
	LevelHundredthCent = "HUNDREDTH_CENT"
)

// GlobalVendorKey is the aggregate key used by findings that span all vendors.
const GlobalVendorKey = "*"

// Finding is one detector's flagged evidence of possible fraud.
// A Finding and its Evidence map are read-only once emitted.
type Finding struct {
	ID           string         `json:"id"`
	Type         FindingType    `json:"type"`
	Detector     string         `json:"detector"`
	Severity     Severity       `json:"severity"`
	Confidence   float64        `json:"confidence"` // 0-100
	Transactions []*Transaction `json:"transactions,omitempty"`
	Vendor       string         `json:"vendor,omitempty"`
	Evidence     map[string]any `json:"evidence,omitempty"`
	Description  string         `json:"description"`
}

// RiskLevel buckets an anomaly or risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ScoredFinding is a Finding with its aggregated anomaly score.
type ScoredFinding struct {
	Finding
	AnomalyScore float64   `json:"anomalyScore"`
	RiskLevel    RiskLevel `json:"riskLevel"`
}
