// Package scoring merges detector findings into a ranked, scored report body
// and derives remediation recommendations from it.
package scoring

import (
	"cmp"
	"math"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Finding types that always receive the critical-type bonus.
var criticalTypes = map[domain.FindingType]bool{
	domain.FindingMicroSkimming:          true,
	domain.FindingFractionalResidue:      true,
	domain.FindingPonziConsistentReturns: true,
	domain.FindingPonziUnsustainable:     true,
	domain.FindingDuplicatePayment:       true,
	domain.FindingStructuring:            true,
	domain.FindingThresholdEvasion:       true,
	domain.FindingShellCompany:           true,
	domain.FindingKickback:               true,
}

const criticalTypeBonus = 15

// Aggregator scores and ranks findings.
type Aggregator struct {
	// Findings scoring below this are dropped
	MinAnomalyScore float64
}

// NewAggregator creates an aggregator that drops findings scoring below minScore.
func NewAggregator(minScore float64) *Aggregator {
	return &Aggregator{MinAnomalyScore: minScore}
}

// Result is the aggregated outcome of one analysis.
type Result struct {
	Findings  []domain.ScoredFinding
	RiskScore float64
	RiskLevel domain.RiskLevel
}

// Aggregate scores every finding, filters, ranks and computes the overall risk.
func (a *Aggregator) Aggregate(findings []domain.Finding) *Result {
	scored := make([]domain.ScoredFinding, 0, len(findings))
	for _, f := range findings {
		s := AnomalyScore(f)
		if s < a.MinAnomalyScore {
			continue
		}
		scored = append(scored, domain.ScoredFinding{
			Finding:      f,
			AnomalyScore: s,
			RiskLevel:    Level(s),
		})
	}

	slices.SortStableFunc(scored, func(x, y domain.ScoredFinding) int {
		return cmp.Or(
			cmp.Compare(y.AnomalyScore, x.AnomalyScore),
			cmp.Compare(y.Severity.Rank(), x.Severity.Rank()),
			cmp.Compare(x.Type, y.Type),
			cmp.Compare(x.ID, y.ID),
		)
	})

	risk := RiskScore(scored)
	return &Result{
		Findings:  scored,
		RiskScore: risk,
		RiskLevel: Level(risk),
	}
}

// AnomalyScore is confidence plus severity and type bonuses, capped at 100.
func AnomalyScore(f domain.Finding) float64 {
	score := f.Confidence + severityBonus(f.Severity)
	if criticalTypes[f.Type] {
		score += criticalTypeBonus
	}
	return math.Max(0, math.Min(100, score))
}

func severityBonus(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 30
	case domain.SeverityHigh:
		return 20
	case domain.SeverityMedium:
		return 10
	default:
		return 0
	}
}

func severityPoints(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 25
	case domain.SeverityHigh:
		return 15
	case domain.SeverityMedium:
		return 8
	default:
		return 3
	}
}

// RiskScore is the saturating sum of severity points over the findings.
func RiskScore(findings []domain.ScoredFinding) float64 {
	var total float64
	for _, f := range findings {
		total += severityPoints(f.Severity)
		if total >= 100 {
			return 100
		}
	}
	return total
}

// Level buckets a 0-100 score.
func Level(score float64) domain.RiskLevel {
	switch {
	case score > 85:
		return domain.RiskCritical
	case score > 70:
		return domain.RiskHigh
	case score > 50:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
