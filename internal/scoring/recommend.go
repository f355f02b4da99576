package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

type family struct {
	types          []domain.FindingType
	recommendation domain.Recommendation
}

// Families in output order within one priority.
var families = []family{
	{
		types: []domain.FindingType{domain.FindingMicroSkimming, domain.FindingFractionalResidue},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityCritical,
			Action:      "Investigate micro-skimming",
			Description: "Audit rounding logic and sub-cent transfers; trace the accounts receiving fractional amounts.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingPonziConsistentReturns, domain.FindingPonziUnsustainable},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityCritical,
			Action:      "Investigate investment scheme",
			Description: "Verify the source of investor returns against actual investment performance.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingDuplicatePayment, domain.FindingDuplicateReference, domain.FindingDuplicateVendor},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityHigh,
			Action:      "Investigate duplicates",
			Description: "Confirm each flagged payment against its invoice and recover duplicate disbursements.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingThresholdEvasion, domain.FindingStructuring, domain.FindingRoundDollar},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityHigh,
			Action:      "Review approval controls",
			Description: "Check whether payments were split or sized to stay under approval limits.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingShellCompany},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityHigh,
			Action:      "Verify vendor legitimacy",
			Description: "Confirm registration, address and tax identity of the flagged vendors.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingKickback},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityHigh,
			Action:      "Investigate advisory payments",
			Description: "Obtain deliverables for consulting and commission payments and check links to contract awards.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingStatisticalOutlier, domain.FindingVendorOutlier, domain.FindingClusterOutlier, domain.FindingBenchmark},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityMedium,
			Action:      "Review unusual amounts",
			Description: "Obtain supporting documentation for amounts outside normal ranges.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingTemporalAnomaly, domain.FindingOffHoursLarge},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityMedium,
			Action:      "Review off-hours activity",
			Description: "Check who initiated transactions on weekends, holidays and outside business hours.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingBehavioralChange, domain.FindingFrequencySpike},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityMedium,
			Action:      "Review spending changes",
			Description: "Explain the recent shift in spending level or payment frequency.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingNewVendorLarge, domain.FindingHighFrequency, domain.FindingConcentration},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityMedium,
			Action:      "Review vendor master data",
			Description: "Validate new and dominant vendors and the approvals behind their onboarding.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingExcessiveReimbursement},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityMedium,
			Action:      "Audit expense reimbursements",
			Description: "Sample the flagged employees' expense claims against receipts.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingUnmatchedEntry, domain.FindingImbalance},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityHigh,
			Action:      "Resolve reconciliation breaks",
			Description: "Match or explain every unreconciled entry before closing the period.",
		},
	},
	{
		types: []domain.FindingType{domain.FindingCustomRule},
		recommendation: domain.Recommendation{
			Priority:    domain.SeverityMedium,
			Action:      "Review custom rule matches",
			Description: "Follow up on transactions matched by organization-specific rules.",
		},
	},
}

var baseline = domain.Recommendation{
	Priority:    domain.SeverityLow,
	Action:      "Improve internal controls",
	Description: "Enforce segregation of duties, dual approval and periodic reconciliation.",
}

// Recommend maps findings to prioritized actions, highest priority first. The
// baseline internal-controls recommendation is always last.
func Recommend(findings []domain.ScoredFinding) []domain.Recommendation {
	present := make(map[domain.FindingType]bool, len(findings))
	for _, f := range findings {
		present[f.Type] = true
	}

	var out []domain.Recommendation
	for rank := domain.SeverityCritical.Rank(); rank >= domain.SeverityLow.Rank(); rank-- {
		for _, fam := range families {
			if fam.recommendation.Priority.Rank() != rank {
				continue
			}
			for _, t := range fam.types {
				if present[t] {
					out = append(out, fam.recommendation)
					break
				}
			}
		}
	}
	return append(out, baseline)
}
