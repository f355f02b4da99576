// Package profile builds behavioral baselines over transaction sets.
package profile

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Uncategorized is the category key for transactions without a category.
const Uncategorized = "uncategorized"

// Reference returns the latest valid timestamp, the deterministic "now" of a run.
// It is the zero time when no transaction carries a timestamp.
func Reference(txs []*domain.Transaction) time.Time {
	var ref time.Time
	for _, tx := range txs {
		if tx.HasTimestamp() && tx.Timestamp.After(ref) {
			ref = tx.Timestamp
		}
	}
	return ref
}

// Build computes the behavioral profile of txs. Amount and category
// statistics cover non-zero amounts only. A vendor is new when it was
// first seen within window of the reference time and the population reaches
// back further than window, so newness is only claimed against real history.
func Build(txs []*domain.Transaction, window time.Duration) *domain.BehavioralProfile {
	p := &domain.BehavioralProfile{
		Vendors:    make(map[string]*domain.VendorProfile),
		Categories: make(map[string]*domain.CategoryProfile),
	}

	amounts := make([]float64, 0, len(txs))
	byCategory := make(map[string][]float64)

	for _, tx := range txs {
		amt := tx.AbsAmount()
		// Zero covers unparseable amounts; they stay out of the distribution.
		if !tx.IsZeroAmount() {
			amounts = append(amounts, amt)
			cat := CategoryKey(tx)
			byCategory[cat] = append(byCategory[cat], amt)
		}

		if tx.HasTimestamp() {
			ts := tx.Timestamp
			p.HourHistogram[ts.Hour()]++
			p.WeekdayHistogram[ts.Weekday()]++
			p.MonthHistogram[ts.Month()-1]++
			if p.PeriodStart.IsZero() || ts.Before(p.PeriodStart) {
				p.PeriodStart = ts
			}
			if ts.After(p.PeriodEnd) {
				p.PeriodEnd = ts
			}
		}

		if tx.VendorKey == "" {
			continue
		}
		v, ok := p.Vendors[tx.VendorKey]
		if !ok {
			v = &domain.VendorProfile{Vendor: tx.Vendor}
			p.Vendors[tx.VendorKey] = v
		}
		v.Total += amt
		v.Count++
		if tx.HasTimestamp() {
			if v.FirstSeen.IsZero() || tx.Timestamp.Before(v.FirstSeen) {
				v.FirstSeen = tx.Timestamp
			}
			if tx.Timestamp.After(v.LastSeen) {
				v.LastSeen = tx.Timestamp
			}
		}
	}

	p.Amounts = stats.Describe(amounts)

	for cat, values := range byCategory {
		cp := &domain.CategoryProfile{
			Category: cat,
			Total:    stats.Sum(values),
			Count:    len(values),
			Mean:     stats.Mean(values),
			StdDev:   stats.StdDev(values),
		}
		if p.Amounts.Total > 0 {
			cp.Percentage = cp.Total / p.Amounts.Total * 100
		}
		p.Categories[cat] = cp
	}

	elapsed := p.PeriodEnd.Sub(p.PeriodStart).Hours() / 24
	p.Velocity.Days = elapsed
	p.Velocity.PerDay = p.Amounts.Total / max(1, elapsed)
	p.Velocity.PerWeek = p.Velocity.PerDay * 7
	p.Velocity.PerMonth = p.Velocity.PerDay * 30

	if window > 0 && !p.PeriodEnd.IsZero() {
		cutoff := p.PeriodEnd.Add(-window)
		if p.PeriodStart.Before(cutoff) {
			for _, v := range p.Vendors {
				v.IsNew = !v.FirstSeen.IsZero() && !v.FirstSeen.Before(cutoff)
			}
		}
	}

	return p
}

// MarkNewAgainst flags vendors of p that are absent from a historical baseline.
// p is modified in place and must not yet be shared.
func MarkNewAgainst(p, baseline *domain.BehavioralProfile) {
	if p == nil || baseline == nil || len(baseline.Vendors) == 0 {
		return
	}
	for key, v := range p.Vendors {
		if _, known := baseline.Vendors[key]; !known {
			v.IsNew = true
		}
	}
}

// Split partitions txs into the recent window before the reference time and the
// historical remainder. Transactions without a timestamp belong to neither.
func Split(txs []*domain.Transaction, ref time.Time, window time.Duration) (recent, historical []*domain.Transaction) {
	if ref.IsZero() {
		return nil, nil
	}
	cutoff := ref.Add(-window)
	for _, tx := range txs {
		if !tx.HasTimestamp() {
			continue
		}
		if tx.Timestamp.Before(cutoff) {
			historical = append(historical, tx)
		} else {
			recent = append(recent, tx)
		}
	}
	return recent, historical
}

// CategoryKey returns the category used for grouping.
func CategoryKey(tx *domain.Transaction) string {
	if tx.Category == "" {
		return Uncategorized
	}
	return tx.Category
}

// Days returns the inclusive day span between two timestamps, at least 1.
func Days(from, to time.Time) float64 {
	return max(1, to.Sub(from).Hours()/24)
}

// ElapsedDays is the velocity divisor for a transaction set.
func ElapsedDays(txs []*domain.Transaction) float64 {
	var start, end time.Time
	for _, tx := range txs {
		if !tx.HasTimestamp() {
			continue
		}
		if start.IsZero() || tx.Timestamp.Before(start) {
			start = tx.Timestamp
		}
		if tx.Timestamp.After(end) {
			end = tx.Timestamp
		}
	}
	if start.IsZero() {
		return 1
	}
	return Days(start, end)
}
