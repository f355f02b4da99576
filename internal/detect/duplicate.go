package detect

import (
	"fmt"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Duplicate finds payments made twice: the same vendor and amount in quick
// succession, or one reference number used on several transactions.
type Duplicate struct{}

func (Duplicate) Name() string { return NameDuplicate }

func (d Duplicate) Detect(in *Input) ([]domain.Finding, error) {
	out := d.payments(in)
	out = append(out, d.references(in)...)
	return out, nil
}

func (d Duplicate) payments(in *Input) []domain.Finding {
	type key struct {
		vendor string
		amount string
	}
	groups := make(map[key][]*domain.Transaction)
	var order []key
	for _, tx := range in.Transactions {
		if tx.VendorKey == "" || tx.IsZeroAmount() || !tx.HasTimestamp() {
			continue
		}
		k := key{tx.VendorKey, tx.Amount.Abs().String()}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], tx)
	}

	window := in.Config.DuplicateWindow()
	var out []domain.Finding
	for _, k := range order {
		txs := slices.Clone(groups[k])
		if len(txs) < 2 {
			continue
		}
		slices.SortStableFunc(txs, func(a, b *domain.Transaction) int {
			return a.Timestamp.Compare(b.Timestamp)
		})

		for i := 1; i < len(txs); i++ {
			prev, cur := txs[i-1], txs[i]
			gap := cur.Timestamp.Sub(prev.Timestamp)
			if gap > window {
				continue
			}

			sev, conf := domain.SeverityMedium, 70.0
			switch {
			case gap <= time.Hour:
				sev, conf = domain.SeverityCritical, 95
			case gap <= 24*time.Hour:
				sev, conf = domain.SeverityHigh, 85
			}
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingDuplicatePayment,
				Detector:     d.Name(),
				Severity:     sev,
				Confidence:   conf,
				Transactions: []*domain.Transaction{prev, cur},
				Vendor:       k.vendor,
				Evidence: map[string]any{
					"amount":     k.amount,
					"gapMinutes": gap.Minutes(),
				},
				Description: fmt.Sprintf("Possible duplicate payment of %s to %s, %s apart",
					cur.Amount.Abs().StringFixed(2), cur.Vendor, gap.Round(time.Minute)),
			}, ""))
		}
	}
	return out
}

func (d Duplicate) references(in *Input) []domain.Finding {
	groups := make(map[string][]*domain.Transaction)
	var refs []string
	for _, tx := range in.Transactions {
		if tx.Reference == "" {
			continue
		}
		if _, seen := groups[tx.Reference]; !seen {
			refs = append(refs, tx.Reference)
		}
		groups[tx.Reference] = append(groups[tx.Reference], tx)
	}

	var out []domain.Finding
	for _, ref := range refs {
		txs := groups[ref]
		if len(txs) < 2 {
			continue
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingDuplicateReference,
			Detector:     d.Name(),
			Severity:     domain.SeverityHigh,
			Confidence:   80,
			Transactions: txs,
			Vendor:       txs[0].VendorKey,
			Evidence: map[string]any{
				"reference": ref,
				"count":     len(txs),
			},
			Description: fmt.Sprintf("Reference %s appears on %d transactions", ref, len(txs)),
		}, ref))
	}
	return out
}
