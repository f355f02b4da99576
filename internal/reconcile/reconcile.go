// Package reconcile cross-references two transaction populations, typically a
// bank statement against the general ledger.
package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DetectorName labels reconciliation findings.
const DetectorName = "reconciliation"

// Options tune matching.
type Options struct {
	// Maximum date distance for amount-based matches
	DateTolerance time.Duration

	// Unmatched entries at or above this absolute amount are HIGH severity
	LargeAmount float64

	LeftLabel  string
	RightLabel string
}

// DefaultOptions returns bank-versus-ledger defaults.
func DefaultOptions() Options {
	return Options{
		DateTolerance: 3 * 24 * time.Hour,
		LargeAmount:   10000,
		LeftLabel:     "bank",
		RightLabel:    "ledger",
	}
}

// MatchMethod records how two entries were paired.
type MatchMethod string

const (
	MatchReference MatchMethod = "reference"
	MatchAmount    MatchMethod = "amount_date"
)

// Match pairs one entry from each side.
type Match struct {
	Left   *domain.Transaction `json:"left"`
	Right  *domain.Transaction `json:"right"`
	Method MatchMethod         `json:"method"`
}

// Result is the outcome of a reconciliation.
type Result struct {
	Matches        []Match               `json:"matches"`
	UnmatchedLeft  []*domain.Transaction `json:"unmatchedLeft"`
	UnmatchedRight []*domain.Transaction `json:"unmatchedRight"`
	LeftTotal      decimal.Decimal       `json:"leftTotal"`
	RightTotal     decimal.Decimal       `json:"rightTotal"`
	Findings       []domain.Finding      `json:"findings"`
}

// Balanced reports whether both sides matched completely with equal totals.
func (r *Result) Balanced() bool {
	return len(r.UnmatchedLeft) == 0 && len(r.UnmatchedRight) == 0 && r.LeftTotal.Equal(r.RightTotal)
}

// Reconcile matches left against right: first by shared reference, then by
// equal absolute amount within the date tolerance, nearest date first.
func Reconcile(left, right []*domain.Transaction, opts Options) *Result {
	res := &Result{}
	usedLeft := make([]bool, len(left))
	usedRight := make([]bool, len(right))

	for i, l := range left {
		if l.Reference == "" {
			continue
		}
		for j, r := range right {
			if !usedRight[j] && r.Reference == l.Reference {
				usedLeft[i], usedRight[j] = true, true
				res.Matches = append(res.Matches, Match{l, r, MatchReference})
				break
			}
		}
	}

	for i, l := range left {
		if usedLeft[i] || !l.HasTimestamp() {
			continue
		}
		best := -1
		var bestGap time.Duration
		for j, r := range right {
			if usedRight[j] || !r.HasTimestamp() || !l.Amount.Abs().Equal(r.Amount.Abs()) {
				continue
			}
			gap := l.Timestamp.Sub(r.Timestamp).Abs()
			if gap > opts.DateTolerance {
				continue
			}
			if best < 0 || gap < bestGap {
				best, bestGap = j, gap
			}
		}
		if best >= 0 {
			usedLeft[i], usedRight[best] = true, true
			res.Matches = append(res.Matches, Match{l, right[best], MatchAmount})
		}
	}

	for i, l := range left {
		res.LeftTotal = res.LeftTotal.Add(l.Amount.Abs())
		if !usedLeft[i] {
			res.UnmatchedLeft = append(res.UnmatchedLeft, l)
		}
	}
	for j, r := range right {
		res.RightTotal = res.RightTotal.Add(r.Amount.Abs())
		if !usedRight[j] {
			res.UnmatchedRight = append(res.UnmatchedRight, r)
		}
	}

	res.Findings = findings(res, opts)
	return res
}

func findings(res *Result, opts Options) []domain.Finding {
	var out []domain.Finding
	unmatched := func(tx *domain.Transaction, side string) {
		sev := domain.SeverityMedium
		if tx.AbsAmount() >= opts.LargeAmount {
			sev = domain.SeverityHigh
		}
		out = append(out, detect.Finalize(domain.Finding{
			Type:         domain.FindingUnmatchedEntry,
			Detector:     DetectorName,
			Severity:     sev,
			Confidence:   75,
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence:     map[string]any{"side": side},
			Description:  fmt.Sprintf("%s entry %s for %s has no counterpart", side, tx.ID, tx.Amount.StringFixed(2)),
		}, side))
	}
	for _, tx := range res.UnmatchedLeft {
		unmatched(tx, opts.LeftLabel)
	}
	for _, tx := range res.UnmatchedRight {
		unmatched(tx, opts.RightLabel)
	}

	if !res.LeftTotal.Equal(res.RightTotal) {
		diff := res.LeftTotal.Sub(res.RightTotal)
		out = append(out, detect.Finalize(domain.Finding{
			Type:       domain.FindingImbalance,
			Detector:   DetectorName,
			Severity:   domain.SeverityHigh,
			Confidence: 80,
			Vendor:     domain.GlobalVendorKey,
			Evidence: map[string]any{
				"leftTotal":  res.LeftTotal.String(),
				"rightTotal": res.RightTotal.String(),
				"difference": diff.String(),
			},
			Description: fmt.Sprintf("%s total %s differs from %s total %s by %s",
				opts.LeftLabel, res.LeftTotal.StringFixed(2), opts.RightLabel, res.RightTotal.StringFixed(2), diff.Abs().StringFixed(2)),
		}, ""))
	}
	return out
}
