package profile

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tx(id string, ts time.Time, amount float64, vendor, category string) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		Timestamp: ts,
		Amount:    decimal.NewFromFloat(amount),
		Vendor:    vendor,
		VendorKey: vendor,
		Category:  category,
	}
}

func TestBuild(t *testing.T) {
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC) // Monday
	txs := []*domain.Transaction{
		tx("1", base, -100, "acme", "supplies"),
		tx("2", base.AddDate(0, 0, 1), 300, "acme", "supplies"),
		tx("3", base.AddDate(0, 0, 10), 600, "globex", "travel"),
		tx("4", time.Time{}, 0, "", ""),
	}

	p := Build(txs, 30*24*time.Hour)

	if p.Amounts.Count != 3 {
		t.Errorf("Count = %d, want 3 (zero amount excluded)", p.Amounts.Count)
	}
	if p.Amounts.Total != 1000 {
		t.Errorf("Total = %v, want 1000 (absolute amounts)", p.Amounts.Total)
	}
	if p.HourHistogram[10] != 3 {
		t.Errorf("HourHistogram[10] = %d, want 3", p.HourHistogram[10])
	}
	if p.WeekdayHistogram[time.Monday] != 1 {
		t.Errorf("WeekdayHistogram[Monday] = %d, want 1", p.WeekdayHistogram[time.Monday])
	}
	if p.MonthHistogram[0] != 3 {
		t.Errorf("MonthHistogram[Jan] = %d, want 3", p.MonthHistogram[0])
	}

	acme := p.Vendor("acme")
	if acme == nil || acme.Count != 2 || acme.Total != 400 {
		t.Fatalf("acme profile = %+v", acme)
	}
	if !acme.FirstSeen.Equal(base) || !acme.LastSeen.Equal(base.AddDate(0, 0, 1)) {
		t.Errorf("acme seen range = %v..%v", acme.FirstSeen, acme.LastSeen)
	}
	if p.Vendor("") != nil {
		t.Error("empty vendor key should not be profiled")
	}

	travel := p.Categories["travel"]
	if travel == nil || math.Abs(travel.Percentage-60) > 1e-9 {
		t.Errorf("travel category = %+v, want 60%%", travel)
	}
	if p.Categories[Uncategorized] != nil {
		t.Error("zero-amount record opened an uncategorized bucket")
	}

	if p.Velocity.Days != 10 || p.Velocity.PerDay != 100 {
		t.Errorf("Velocity = %+v, want 10 days at 100/day", p.Velocity)
	}

	// the whole period is inside the window, so nothing is provably new
	if acme.IsNew {
		t.Error("vendor marked new without prior history")
	}
}

func TestBuildIgnoresZeroAmounts(t *testing.T) {
	base := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)
	var txs []*domain.Transaction
	for i, amt := range []float64{480, 490, 500, 510, 520} {
		txs = append(txs, tx(fmt.Sprintf("p-%d", i), base.AddDate(0, 0, i), amt, "acme", "supplies"))
	}
	for i := range 95 {
		txs = append(txs, tx(fmt.Sprintf("bad-%d", i), time.Time{}, 0, "", "supplies"))
	}

	p := Build(txs, 0)
	if p.Amounts.Count != 5 {
		t.Errorf("Count = %d, want 5", p.Amounts.Count)
	}
	if math.Abs(p.Amounts.Mean-500) > 1e-9 {
		t.Errorf("Mean = %v, want 500", p.Amounts.Mean)
	}
	if p.Amounts.StdDev > 20 {
		t.Errorf("StdDev = %v, want the spread of the real payments", p.Amounts.StdDev)
	}
	if sup := p.Categories["supplies"]; sup == nil || sup.Count != 5 || math.Abs(sup.Mean-500) > 1e-9 {
		t.Errorf("supplies category = %+v", sup)
	}
}

func TestBuildMarksNewVendors(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	txs := []*domain.Transaction{
		tx("1", base, 100, "old", ""),
		tx("2", base.AddDate(0, 3, 0), 100, "old", ""),
		tx("3", base.AddDate(0, 3, -5), 100, "fresh", ""),
	}

	p := Build(txs, 30*24*time.Hour)
	if p.Vendor("old").IsNew {
		t.Error("old vendor marked new")
	}
	if !p.Vendor("fresh").IsNew {
		t.Error("fresh vendor not marked new")
	}
}

func TestMarkNewAgainst(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	baseline := Build([]*domain.Transaction{tx("h", now.AddDate(-1, 0, 0), 10, "old", "")}, 0)
	p := Build([]*domain.Transaction{tx("1", now, 10, "old", ""), tx("2", now, 10, "fresh", "")}, 0)

	MarkNewAgainst(p, baseline)
	if p.Vendor("old").IsNew || !p.Vendor("fresh").IsNew {
		t.Errorf("old new=%v fresh new=%v", p.Vendor("old").IsNew, p.Vendor("fresh").IsNew)
	}
}

func TestBuildEmpty(t *testing.T) {
	p := Build(nil, 30*24*time.Hour)
	if p.Amounts.Count != 0 || p.Velocity.PerDay != 0 {
		t.Errorf("empty profile = %+v", p)
	}
	if !Reference(nil).IsZero() {
		t.Error("Reference(nil) should be zero")
	}
}

func TestSplit(t *testing.T) {
	ref := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	txs := []*domain.Transaction{
		tx("recent", ref.AddDate(0, 0, -3), 1, "", ""),
		tx("edge", ref.AddDate(0, 0, -30), 1, "", ""),
		tx("old", ref.AddDate(0, 0, -31), 1, "", ""),
		tx("undated", time.Time{}, 1, "", ""),
	}

	recent, historical := Split(txs, ref, 30*24*time.Hour)
	if len(recent) != 2 || len(historical) != 1 {
		t.Fatalf("recent=%d historical=%d, want 2 and 1", len(recent), len(historical))
	}
	if historical[0].ID != "old" {
		t.Errorf("historical = %s, want old", historical[0].ID)
	}
}
