package detect

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

var (
	returnKeywords     = []string{"return", "dividend", "yield", "interest", "distribution"}
	investmentKeywords = []string{"investment", "deposit", "contribution"}
	consultingKeywords = []string{"consulting", "advisory", "commission", "referral"}
)

// Ponzi looks for investor returns that are too steady or exceed inflows.
type Ponzi struct{}

func (Ponzi) Name() string { return NamePonzi }

func (d Ponzi) Detect(in *Input) ([]domain.Finding, error) {
	var returns, investments []*domain.Transaction
	for _, tx := range in.Transactions {
		if tx.IsZeroAmount() {
			continue
		}
		switch {
		case hasLabel(tx, returnKeywords...):
			returns = append(returns, tx)
		case hasLabel(tx, investmentKeywords...):
			investments = append(investments, tx)
		}
	}

	var out []domain.Finding
	if len(returns) >= 5 {
		amounts := absAmounts(returns)
		cv := stats.CoefficientOfVariation(amounts)
		if cv < 0.1 {
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingPonziConsistentReturns,
				Detector:     d.Name(),
				Severity:     domain.SeverityCritical,
				Confidence:   70 + (0.1-cv)*300,
				Transactions: returns,
				Vendor:       domain.GlobalVendorKey,
				Evidence: map[string]any{
					"coefficientOfVariation": cv,
					"meanReturn":             stats.Mean(amounts),
					"count":                  len(returns),
				},
				Description: fmt.Sprintf("%d return payments are unnaturally consistent (variation %.3f)", len(returns), cv),
			}, ""))
		}
	}

	if len(returns) > 0 && len(investments) > 0 {
		paid, raised := stats.Sum(absAmounts(returns)), stats.Sum(absAmounts(investments))
		if raised > 0 && paid > 1.2*raised {
			ratio := paid / raised
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingPonziUnsustainable,
				Detector:     d.Name(),
				Severity:     domain.SeverityCritical,
				Confidence:   70 + (ratio-1.2)*50,
				Transactions: returns,
				Vendor:       domain.GlobalVendorKey,
				Evidence: map[string]any{
					"returnsPaid":      paid,
					"investmentInflow": raised,
					"ratio":            ratio,
				},
				Description: fmt.Sprintf("Returns paid (%.2f) exceed investment inflows (%.2f) by a factor of %.2f", paid, raised, ratio),
			}, ""))
		}
	}
	return out, nil
}

// Shell company thresholds.
const (
	shellHighValue      = 50000
	shellLowFrequency   = 3
	shellNewVendorValue = 25000
	shellDiversity      = 0.2
)

// ShellCompany scores vendors on traits typical of fictitious suppliers.
type ShellCompany struct{}

func (ShellCompany) Name() string { return NameShellCompany }

func (d ShellCompany) Detect(in *Input) ([]domain.Finding, error) {
	groups, keys := byVendor(in.Transactions)

	var out []domain.Finding
	for _, key := range keys {
		txs := groups[key]
		total := stats.Sum(absAmounts(txs))

		categories := make(map[string]bool)
		descriptions := make(map[string]bool)
		allRound := len(txs) >= 3
		for _, tx := range txs {
			if tx.Category != "" {
				categories[tx.Category] = true
			}
			descriptions[strings.ToLower(strings.TrimSpace(tx.Description))] = true
			if !isRound(tx, hundred) {
				allRound = false
			}
		}

		var flags []string
		if total > shellHighValue && len(txs) <= shellLowFrequency {
			flags = append(flags, "high_value_low_frequency")
		}
		if total > shellHighValue && len(categories) == 1 {
			flags = append(flags, "single_category_high_value")
		}
		if len(txs) >= 5 && float64(len(descriptions))/float64(len(txs)) <= shellDiversity {
			flags = append(flags, "repetitive_descriptions")
		}
		if vp := in.Profile.Vendor(key); vp != nil && vp.IsNew && total > shellNewVendorValue {
			flags = append(flags, "new_vendor_high_value")
		}
		if allRound {
			flags = append(flags, "all_round_amounts")
		}
		if len(flags) == 0 {
			continue
		}

		sev := domain.SeverityMedium
		if len(flags) >= 2 {
			sev = domain.SeverityHigh
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingShellCompany,
			Detector:     d.Name(),
			Severity:     sev,
			Confidence:   30 + 20*float64(len(flags)),
			Transactions: txs,
			Vendor:       key,
			Evidence: map[string]any{
				"flags": flags,
				"total": total,
				"count": len(txs),
			},
			Description: fmt.Sprintf("Vendor %s shows shell-company traits: %s", vendorLabel(in.Profile, key), strings.Join(flags, ", ")),
		}, ""))
	}
	return out, nil
}

// Kickback thresholds.
const (
	kickbackRoundShare   = 0.7
	kickbackLumpTotal    = 100000
	kickbackLumpPayments = 2
	kickbackContract     = 500000
	kickbackWindowDays   = 30
)

// Kickback looks for consulting-style payments that track large contracts.
type Kickback struct{}

func (Kickback) Name() string { return NameKickback }

func (d Kickback) Detect(in *Input) ([]domain.Finding, error) {
	var contracts []*domain.Transaction
	for _, tx := range in.Transactions {
		if tx.HasTimestamp() && tx.AbsAmount() > kickbackContract {
			contracts = append(contracts, tx)
		}
	}

	var labeled []*domain.Transaction
	for _, tx := range in.Transactions {
		if hasLabel(tx, consultingKeywords...) {
			labeled = append(labeled, tx)
		}
	}
	groups, keys := byVendor(labeled)

	var out []domain.Finding
	for _, key := range keys {
		txs := groups[key]
		name := vendorLabel(in.Profile, key)

		round := 0
		for _, tx := range txs {
			if isRound(tx, hundred) {
				round++
			}
		}
		if len(txs) >= 3 && float64(round)/float64(len(txs)) >= kickbackRoundShare {
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingKickback,
				Detector:     d.Name(),
				Severity:     domain.SeverityHigh,
				Confidence:   60,
				Transactions: txs,
				Vendor:       key,
				Evidence:     map[string]any{"pattern": "round_fees", "roundShare": float64(round) / float64(len(txs))},
				Description:  fmt.Sprintf("Advisory fees to %s are mostly round amounts", name),
			}, "round_fees"))
		}

		total := stats.Sum(absAmounts(txs))
		if total > kickbackLumpTotal && len(txs) <= kickbackLumpPayments {
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingKickback,
				Detector:     d.Name(),
				Severity:     domain.SeverityHigh,
				Confidence:   70,
				Transactions: txs,
				Vendor:       key,
				Evidence:     map[string]any{"pattern": "lump_sum", "total": total},
				Description:  fmt.Sprintf("Advisory payments to %s total %.2f in only %d payment(s)", name, total, len(txs)),
			}, "lump_sum"))
		}

		var following []*domain.Transaction
		var contract *domain.Transaction
		for _, tx := range txs {
			if !tx.HasTimestamp() {
				continue
			}
			for _, c := range contracts {
				if c.VendorKey == key || c.ID == tx.ID {
					continue
				}
				days := tx.Timestamp.Sub(c.Timestamp).Hours() / 24
				if days >= 0 && days <= kickbackWindowDays {
					following = append(following, tx)
					contract = c
					break
				}
			}
		}
		if len(following) > 0 {
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingKickback,
				Detector:     d.Name(),
				Severity:     domain.SeverityHigh,
				Confidence:   75,
				Transactions: following,
				Vendor:       key,
				Evidence: map[string]any{
					"pattern":        "contract_follow_on",
					"contractId":     contract.ID,
					"contractVendor": contract.Vendor,
					"contractAmount": contract.AbsAmount(),
				},
				Description: fmt.Sprintf("Advisory payments to %s follow a %.0f contract with %s within %d days",
					name, contract.AbsAmount(), contract.Vendor, kickbackWindowDays),
			}, "contract_follow_on"))
		}
	}
	return out, nil
}
