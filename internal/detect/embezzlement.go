package detect

import (
	"fmt"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/similarity"
	"github.com/opensource-finance/kestrel/internal/stats"
)

var (
	fiveHundred = decimal.NewFromInt(500)
	hundred     = decimal.NewFromInt(100)
)

// Keywords identifying expense-report transactions.
var expenseKeywords = []string{"expense", "reimburse", "per diem", "mileage", "travel", "meal"}

// Structuring limits: many sub-threshold payments adding up to a large sum.
const (
	structuringCeiling = 5000
	structuringMinimum = 10
	structuringTotal   = 50000
	structuringAverage = 3000
)

// Embezzlement runs the library of classic embezzlement patterns.
type Embezzlement struct{}

func (Embezzlement) Name() string { return NameEmbezzlement }

func (d Embezzlement) Detect(in *Input) ([]domain.Finding, error) {
	var out []domain.Finding
	out = append(out, d.roundDollar(in)...)
	out = append(out, d.thresholdEvasion(in)...)
	out = append(out, d.structuring(in)...)
	out = append(out, d.duplicateVendors(in)...)
	out = append(out, d.offHours(in)...)
	out = append(out, d.excessiveReimbursement(in)...)
	return out, nil
}

// isRound reports whether |amount| is an exact multiple of unit.
func isRound(tx *domain.Transaction, unit decimal.Decimal) bool {
	return !tx.IsZeroAmount() && tx.Amount.Abs().Mod(unit).IsZero()
}

func (d Embezzlement) roundDollar(in *Input) []domain.Finding {
	var out []domain.Finding
	for _, tx := range in.Transactions {
		amt := tx.AbsAmount()
		if amt < in.Config.RoundDollarMinimum || !isRound(tx, fiveHundred) {
			continue
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingRoundDollar,
			Detector:     d.Name(),
			Severity:     domain.SeverityMedium,
			Confidence:   math.Min(85, 50+amt/1000),
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence:     map[string]any{"amount": amt},
			Description:  fmt.Sprintf("Suspiciously round amount %s paid to %s", tx.Amount.StringFixed(2), tx.Vendor),
		}, ""))
	}
	return out
}

func (d Embezzlement) thresholdEvasion(in *Input) []domain.Finding {
	thresholds := slices.Clone(in.Config.ApprovalThresholds)
	slices.Sort(thresholds)
	margin := in.Config.EvasionMargin

	var out []domain.Finding
	for _, tx := range in.Transactions {
		amt := tx.AbsAmount()
		for _, t := range thresholds {
			if amt < t-margin || amt >= t {
				continue
			}
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingThresholdEvasion,
				Detector:     d.Name(),
				Severity:     domain.SeverityHigh,
				Confidence:   85,
				Transactions: []*domain.Transaction{tx},
				Vendor:       tx.VendorKey,
				Evidence: map[string]any{
					"threshold": t,
					"gap":       t - amt,
				},
				Description: fmt.Sprintf("Amount %s is just under the %.0f approval threshold", tx.Amount.StringFixed(2), t),
			}, ""))
			break
		}
	}
	return out
}

func (d Embezzlement) structuring(in *Input) []domain.Finding {
	groups, keys := byVendor(in.Transactions)

	var out []domain.Finding
	for _, key := range keys {
		var small []*domain.Transaction
		for _, tx := range groups[key] {
			if tx.AbsAmount() < structuringCeiling {
				small = append(small, tx)
			}
		}
		if len(small) < structuringMinimum {
			continue
		}
		amounts := absAmounts(small)
		total, avg := stats.Sum(amounts), stats.Mean(amounts)
		if total <= structuringTotal || avg >= structuringAverage {
			continue
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingStructuring,
			Detector:     d.Name(),
			Severity:     domain.SeverityHigh,
			Confidence:   math.Min(95, 60+float64(len(small))),
			Transactions: small,
			Vendor:       key,
			Evidence: map[string]any{
				"count":   len(small),
				"total":   total,
				"average": avg,
			},
			Description: fmt.Sprintf("%d payments under %d to %s total %.2f", len(small), structuringCeiling, vendorLabel(in.Profile, key), total),
		}, ""))
	}
	return out
}

func (d Embezzlement) duplicateVendors(in *Input) []domain.Finding {
	_, keys := byVendor(in.Transactions)

	var out []domain.Finding
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			sim := similarity.Similarity(keys[i], keys[j])
			if sim <= 0.8 || sim >= 1 {
				continue
			}
			out = append(out, Finalize(domain.Finding{
				Type:       domain.FindingDuplicateVendor,
				Detector:   d.Name(),
				Severity:   domain.SeverityHigh,
				Confidence: sim * 100,
				Vendor:     keys[i],
				Evidence: map[string]any{
					"vendorA":    vendorLabel(in.Profile, keys[i]),
					"vendorB":    vendorLabel(in.Profile, keys[j]),
					"similarity": sim,
				},
				Description: fmt.Sprintf("Vendors %q and %q have nearly identical names", vendorLabel(in.Profile, keys[i]), vendorLabel(in.Profile, keys[j])),
			}, keys[j]))
		}
	}
	return out
}

func (d Embezzlement) offHours(in *Input) []domain.Finding {
	var out []domain.Finding
	for _, tx := range in.Transactions {
		if !tx.HasTimestamp() || tx.AbsAmount() <= in.Config.OffHoursAmount {
			continue
		}
		ts := tx.Timestamp
		if !isWeekend(ts) && !isHoliday(ts) && !outsideBusinessHours(ts) {
			continue
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingOffHoursLarge,
			Detector:     d.Name(),
			Severity:     domain.SeverityHigh,
			Confidence:   70,
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence: map[string]any{
				"timestamp": ts,
				"weekend":   isWeekend(ts),
				"holiday":   isHoliday(ts),
			},
			Description: fmt.Sprintf("Large payment of %s made outside business hours on %s", tx.Amount.StringFixed(2), ts.Format("Mon 2006-01-02 15:04")),
		}, ""))
	}
	return out
}

func (d Embezzlement) excessiveReimbursement(in *Input) []domain.Finding {
	byEmployee := make(map[string][]*domain.Transaction)
	for _, tx := range in.Transactions {
		if tx.Employee == "" || tx.IsZeroAmount() || !hasLabel(tx, expenseKeywords...) {
			continue
		}
		byEmployee[tx.Employee] = append(byEmployee[tx.Employee], tx)
	}
	employees := make([]string, 0, len(byEmployee))
	for e := range byEmployee {
		employees = append(employees, e)
	}
	slices.Sort(employees)

	var out []domain.Finding
	for _, emp := range employees {
		txs := byEmployee[emp]
		avg := stats.Mean(absAmounts(txs))
		if len(txs) < in.Config.ExcessiveExpenseCount || avg <= in.Config.ExcessiveExpenseAverage {
			continue
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingExcessiveReimbursement,
			Detector:     d.Name(),
			Severity:     domain.SeverityMedium,
			Confidence:   math.Min(90, 50+float64(len(txs))),
			Transactions: txs,
			Evidence: map[string]any{
				"employee": emp,
				"count":    len(txs),
				"average":  avg,
			},
			Description: fmt.Sprintf("Employee %s filed %d expense claims averaging %.2f", emp, len(txs), avg),
		}, emp))
	}
	return out
}
