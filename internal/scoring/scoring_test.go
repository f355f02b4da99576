package scoring

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func finding(id string, typ domain.FindingType, sev domain.Severity, conf float64) domain.Finding {
	return domain.Finding{ID: id, Type: typ, Severity: sev, Confidence: conf, Vendor: "v"}
}

func TestAnomalyScore(t *testing.T) {
	tests := []struct {
		name string
		f    domain.Finding
		want float64
	}{
		{"medium outlier", finding("a", domain.FindingStatisticalOutlier, domain.SeverityMedium, 40), 50},
		{"high evasion", finding("b", domain.FindingThresholdEvasion, domain.SeverityHigh, 85), 100},
		{"high shell", finding("c", domain.FindingShellCompany, domain.SeverityHigh, 50), 85},
		{"low custom", finding("d", domain.FindingCustomRule, domain.SeverityLow, 30), 30},
		{"critical duplicate capped", finding("e", domain.FindingDuplicatePayment, domain.SeverityCritical, 95), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnomalyScore(tt.f); got != tt.want {
				t.Errorf("AnomalyScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnomalyScoreMonotonic(t *testing.T) {
	severities := []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical}
	for _, typ := range []domain.FindingType{domain.FindingTemporalAnomaly, domain.FindingKickback} {
		for conf := 0.0; conf <= 100; conf += 5 {
			prev := -1.0
			for _, sev := range severities {
				s := AnomalyScore(finding("x", typ, sev, conf))
				if s < prev {
					t.Fatalf("score decreased with severity at %s conf=%v", typ, conf)
				}
				prev = s
			}
			if AnomalyScore(finding("x", typ, domain.SeverityMedium, conf)) > AnomalyScore(finding("x", typ, domain.SeverityMedium, conf+5)) {
				t.Fatalf("score decreased with confidence at %v", conf)
			}
		}
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{50, domain.RiskLow},
		{50.1, domain.RiskMedium},
		{70, domain.RiskMedium},
		{71, domain.RiskHigh},
		{85, domain.RiskHigh},
		{86, domain.RiskCritical},
	}
	for _, tt := range tests {
		if got := Level(tt.score); got != tt.want {
			t.Errorf("Level(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestAggregate(t *testing.T) {
	agg := NewAggregator(0)

	t.Run("empty", func(t *testing.T) {
		res := agg.Aggregate(nil)
		if len(res.Findings) != 0 || res.RiskScore != 0 || res.RiskLevel != domain.RiskLow {
			t.Errorf("empty aggregate = %+v", res)
		}
	})

	t.Run("ranking", func(t *testing.T) {
		res := agg.Aggregate([]domain.Finding{
			finding("low", domain.FindingTemporalAnomaly, domain.SeverityMedium, 25),
			finding("top", domain.FindingMicroSkimming, domain.SeverityCritical, 90),
			finding("tie-b", domain.FindingRoundDollar, domain.SeverityMedium, 60),
			finding("tie-a", domain.FindingRoundDollar, domain.SeverityMedium, 60),
			finding("mid", domain.FindingStatisticalOutlier, domain.SeverityHigh, 50),
		})

		want := []string{"top", "mid", "tie-a", "tie-b", "low"}
		if len(res.Findings) != len(want) {
			t.Fatalf("got %d findings, want %d", len(res.Findings), len(want))
		}
		for i, id := range want {
			if res.Findings[i].ID != id {
				t.Errorf("position %d = %s, want %s", i, res.Findings[i].ID, id)
			}
		}
		// 25 + 15 + 8 + 8 + 8
		if res.RiskScore != 64 {
			t.Errorf("RiskScore = %v, want 64", res.RiskScore)
		}
		if res.RiskLevel != domain.RiskMedium {
			t.Errorf("RiskLevel = %s, want MEDIUM", res.RiskLevel)
		}
	})

	t.Run("threshold filters", func(t *testing.T) {
		res := NewAggregator(60).Aggregate([]domain.Finding{
			finding("keep", domain.FindingRoundDollar, domain.SeverityMedium, 50),
			finding("drop", domain.FindingTemporalAnomaly, domain.SeverityMedium, 25),
		})
		if len(res.Findings) != 1 || res.Findings[0].ID != "keep" {
			t.Errorf("filtered findings = %+v", res.Findings)
		}
	})
}

func TestRiskScoreMonotoneUnderCriticalFindings(t *testing.T) {
	agg := NewAggregator(0)
	findings := []domain.Finding{finding("0", domain.FindingRoundDollar, domain.SeverityLow, 10)}

	prev := agg.Aggregate(findings).RiskScore
	for i := 1; i <= 6; i++ {
		findings = append(findings, finding(string(rune('0'+i)), domain.FindingKickback, domain.SeverityCritical, 80))
		got := agg.Aggregate(findings).RiskScore
		if got < prev {
			t.Fatalf("risk score decreased from %v to %v", prev, got)
		}
		if got > 100 {
			t.Fatalf("risk score %v exceeds 100", got)
		}
		prev = got
	}
	if prev != 100 {
		t.Errorf("risk score should saturate at 100, got %v", prev)
	}
}

func TestRecommend(t *testing.T) {
	t.Run("no findings", func(t *testing.T) {
		recs := Recommend(nil)
		if len(recs) != 1 || recs[0].Action != "Improve internal controls" {
			t.Errorf("Recommend(nil) = %+v", recs)
		}
	})

	t.Run("ordered by priority", func(t *testing.T) {
		recs := Recommend([]domain.ScoredFinding{
			{Finding: finding("a", domain.FindingTemporalAnomaly, domain.SeverityMedium, 25)},
			{Finding: finding("b", domain.FindingDuplicatePayment, domain.SeverityCritical, 95)},
			{Finding: finding("c", domain.FindingMicroSkimming, domain.SeverityHigh, 60)},
			{Finding: finding("d", domain.FindingFractionalResidue, domain.SeverityCritical, 80)},
		})

		want := []string{
			"Investigate micro-skimming",
			"Investigate duplicates",
			"Review off-hours activity",
			"Improve internal controls",
		}
		if len(recs) != len(want) {
			t.Fatalf("got %d recommendations, want %d: %+v", len(recs), len(want), recs)
		}
		for i, action := range want {
			if recs[i].Action != action {
				t.Errorf("recommendation %d = %q, want %q", i, recs[i].Action, action)
			}
		}
		if recs[0].Priority != domain.SeverityCritical {
			t.Errorf("first priority = %s, want CRITICAL", recs[0].Priority)
		}
	})
}
