package detect

import (
	"fmt"
	"math"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Network inspects the vendor graph: new vendors receiving large payments,
// unusually frequent vendors and value concentration.
type Network struct{}

func (Network) Name() string { return NameNetwork }

func (d Network) Detect(in *Input) ([]domain.Finding, error) {
	cfg := in.Config
	groups, keys := byVendor(in.Transactions)
	total := in.Profile.Amounts.Total

	var out []domain.Finding
	for _, key := range keys {
		txs := groups[key]
		vp := in.Profile.Vendor(key)
		name := vendorLabel(in.Profile, key)

		if vp != nil && vp.IsNew {
			var large []*domain.Transaction
			for _, tx := range txs {
				if tx.AbsAmount() > cfg.LargeAmountThreshold {
					large = append(large, tx)
				}
			}
			if len(large) > 0 {
				out = append(out, Finalize(domain.Finding{
					Type:         domain.FindingNewVendorLarge,
					Detector:     d.Name(),
					Severity:     domain.SeverityHigh,
					Confidence:   math.Min(95, 70+5*float64(len(large))),
					Transactions: large,
					Vendor:       key,
					Evidence: map[string]any{
						"firstSeen":     vp.FirstSeen,
						"largePayments": len(large),
						"threshold":     cfg.LargeAmountThreshold,
					},
					Description: fmt.Sprintf("New vendor %s received %d payment(s) above %.0f", name, len(large), cfg.LargeAmountThreshold),
				}, ""))
			}
		}

		if len(txs) > cfg.VendorFrequencyThreshold {
			out = append(out, Finalize(domain.Finding{
				Type:       domain.FindingHighFrequency,
				Detector:   d.Name(),
				Severity:   domain.SeverityMedium,
				Confidence: math.Min(90, 50+float64(len(txs)-cfg.VendorFrequencyThreshold)),
				Vendor:     key,
				Evidence: map[string]any{
					"count":     len(txs),
					"threshold": cfg.VendorFrequencyThreshold,
				},
				Description: fmt.Sprintf("Vendor %s has %d transactions", name, len(txs)),
			}, ""))
		}
	}

	// Concentration is only meaningful with several vendors to compare.
	if len(keys) >= 3 && total > 0 {
		for _, key := range keys {
			vt := stats.Sum(absAmounts(groups[key]))
			share := vt / total
			if share <= cfg.ConcentrationThreshold {
				continue
			}
			out = append(out, Finalize(domain.Finding{
				Type:       domain.FindingConcentration,
				Detector:   d.Name(),
				Severity:   domain.SeverityMedium,
				Confidence: math.Min(95, 60+share*100),
				Vendor:     key,
				Evidence: map[string]any{
					"share":       share,
					"vendorTotal": vt,
					"total":       total,
				},
				Description: fmt.Sprintf("Vendor %s receives %.1f%% of all payments", vendorLabel(in.Profile, key), share*100),
			}, ""))
		}
	}
	return out, nil
}

// VendorBaseline compares each transaction with its own vendor's history.
type VendorBaseline struct{}

func (VendorBaseline) Name() string { return NameVendorBaseline }

func (d VendorBaseline) Detect(in *Input) ([]domain.Finding, error) {
	groups, keys := byVendor(in.Transactions)

	var out []domain.Finding
	for _, key := range keys {
		txs := groups[key]
		name := vendorLabel(in.Profile, key)

		if len(txs) >= 5 {
			amounts := absAmounts(txs)
			mean, sd := stats.Mean(amounts), stats.SampleStdDev(amounts)
			limit := mean + 3*sd
			for _, tx := range txs {
				if sd <= 0 || tx.AbsAmount() <= limit {
					continue
				}
				sigma := (tx.AbsAmount() - mean) / sd
				out = append(out, Finalize(domain.Finding{
					Type:         domain.FindingVendorOutlier,
					Detector:     d.Name(),
					Severity:     domain.SeverityHigh,
					Confidence:   70 + (sigma-3)*10,
					Transactions: []*domain.Transaction{tx},
					Vendor:       key,
					Evidence: map[string]any{
						"vendorMean":   mean,
						"vendorStdDev": sd,
						"sigma":        sigma,
					},
					Description: fmt.Sprintf("Amount %s exceeds %s's usual range (%.1f sigma above a mean of %.2f)",
						tx.Amount.StringFixed(2), name, sigma, mean),
				}, ""))
			}
		}

		out = append(out, d.frequencySpikes(key, name, txs)...)
	}
	return out, nil
}

// frequencySpikes flags months in which a vendor was paid far more often than usual.
func (d VendorBaseline) frequencySpikes(key, name string, txs []*domain.Transaction) []domain.Finding {
	monthly := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		if tx.HasTimestamp() {
			m := tx.Timestamp.Format("2006-01")
			monthly[m] = append(monthly[m], tx)
		}
	}
	if len(monthly) < 3 {
		return nil
	}

	months := make([]string, 0, len(monthly))
	counts := make([]float64, 0, len(monthly))
	for m, list := range monthly {
		months = append(months, m)
		counts = append(counts, float64(len(list)))
	}
	slices.Sort(months)
	mean, sd := stats.Mean(counts), stats.SampleStdDev(counts)
	if sd <= 0 {
		return nil
	}

	var out []domain.Finding
	for _, m := range months {
		n := float64(len(monthly[m]))
		if n <= mean+2*sd || n < 10 {
			continue
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingFrequencySpike,
			Detector:     d.Name(),
			Severity:     domain.SeverityMedium,
			Confidence:   math.Min(90, 50+(n-mean)*5),
			Transactions: monthly[m],
			Vendor:       key,
			Evidence: map[string]any{
				"month":         m,
				"count":         int(n),
				"monthlyMean":   mean,
				"monthlyStdDev": sd,
			},
			Description: fmt.Sprintf("Vendor %s was paid %d times in %s against a typical %.1f per month", name, int(n), m, mean),
		}, m))
	}
	return out
}
