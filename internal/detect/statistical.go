package detect

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Statistical flags amounts far from the population mean.
type Statistical struct{}

func (Statistical) Name() string { return NameStatistical }

func (d Statistical) Detect(in *Input) ([]domain.Finding, error) {
	a := in.Profile.Amounts
	if a.Count < 3 || a.StdDev <= 0 {
		return nil, nil
	}

	var out []domain.Finding
	for _, tx := range in.Transactions {
		if tx.IsZeroAmount() {
			continue
		}
		z := stats.ZScore(tx.AbsAmount(), a.Mean, a.StdDev)
		absZ := math.Abs(z)
		if absZ <= in.Config.StatisticalDeviationThreshold {
			continue
		}

		sev := domain.SeverityMedium
		if absZ > 3 {
			sev = domain.SeverityHigh
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingStatisticalOutlier,
			Detector:     d.Name(),
			Severity:     sev,
			Confidence:   absZ / 3 * 100,
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence: map[string]any{
				"zScore": z,
				"mean":   a.Mean,
				"stdDev": a.StdDev,
			},
			Description: fmt.Sprintf("Amount %s is %.1f standard deviations from the mean of %.2f",
				tx.Amount.StringFixed(2), z, a.Mean),
		}, ""))
	}
	return out, nil
}

// Behavioral compares recent spending with the historical baseline.
type Behavioral struct{}

func (Behavioral) Name() string { return NameBehavioral }

func (d Behavioral) Detect(in *Input) ([]domain.Finding, error) {
	recent, historical := profile.Split(in.Transactions, in.Reference, in.Config.RecentWindow())
	if len(recent) < 3 || len(historical) < 5 {
		return nil, nil
	}

	recentAmounts, histAmounts := absAmounts(recent), absAmounts(historical)
	recentMean, histMean := stats.Mean(recentAmounts), stats.Mean(histAmounts)
	recentVel := stats.Sum(recentAmounts) / profile.ElapsedDays(recent)
	histVel := stats.Sum(histAmounts) / profile.ElapsedDays(historical)

	meanShift := relativeShift(recentMean, histMean)
	velShift := relativeShift(recentVel, histVel)
	score := 0.4*meanShift + 0.3*velShift
	if score <= in.Config.BehavioralChangeThreshold {
		return nil, nil
	}

	sev := domain.SeverityMedium
	if score > 1 {
		sev = domain.SeverityHigh
	}
	return []domain.Finding{Finalize(domain.Finding{
		Type:         domain.FindingBehavioralChange,
		Detector:     d.Name(),
		Severity:     sev,
		Confidence:   score * 100,
		Transactions: recent,
		Evidence: map[string]any{
			"changeScore":        score,
			"recentMean":         recentMean,
			"historicalMean":     histMean,
			"recentVelocity":     recentVel,
			"historicalVelocity": histVel,
			"recentCount":        len(recent),
			"historicalCount":    len(historical),
		},
		Description: fmt.Sprintf("Spending in the last %d days shifted from the baseline (mean %.2f vs %.2f)",
			in.Config.RecentWindowDays, recentMean, histMean),
	}, "")}, nil
}

// relativeShift is |a-b|/b, with a zero baseline counting as a full shift.
func relativeShift(current, baseline float64) float64 {
	if baseline == 0 {
		if current == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(current-baseline) / baseline
}

// Temporal flags activity at unusual times.
type Temporal struct{}

func (Temporal) Name() string { return NameTemporal }

func (d Temporal) Detect(in *Input) ([]domain.Finding, error) {
	var out []domain.Finding
	for _, tx := range in.Transactions {
		if !tx.HasTimestamp() || tx.IsZeroAmount() {
			continue
		}
		ts := tx.Timestamp

		var flags []string
		if ts.Hour() < 6 || ts.Hour() > 22 {
			flags = append(flags, "off_hours")
		}
		if isWeekend(ts) {
			flags = append(flags, "weekend")
		}
		if isHoliday(ts) {
			flags = append(flags, "holiday")
		}
		if ts.Day() > 28 {
			flags = append(flags, "month_end")
		}
		if len(flags) == 0 {
			continue
		}

		sev := domain.SeverityMedium
		if len(flags) >= 2 {
			sev = domain.SeverityHigh
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingTemporalAnomaly,
			Detector:     d.Name(),
			Severity:     sev,
			Confidence:   float64(len(flags)) * 25,
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence: map[string]any{
				"flags":     flags,
				"timestamp": ts,
			},
			Description: fmt.Sprintf("Transaction at unusual time %s (%v)", ts.Format("2006-01-02 15:04"), flags),
		}, ""))
	}
	return out, nil
}
