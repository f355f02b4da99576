package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func repeat(n int, amount, vendor string) []*domain.Transaction {
	txs := make([]*domain.Transaction, n)
	for i := range txs {
		txs[i] = newTx(fmt.Sprintf("%s-%d", vendor, i), weekday.Add(time.Duration(i)*time.Minute), amount, vendor)
	}
	return txs
}

func byLevel(findings []domain.Finding) map[any][]domain.Finding {
	out := make(map[any][]domain.Finding)
	for _, f := range findings {
		out[f.Evidence["detectionLevel"]] = append(out[f.Evidence["detectionLevel"]], f)
	}
	return out
}

func TestMicroSkimmingTinyBand(t *testing.T) {
	txs := repeat(100, "0.0003", "Sweep Account")

	findings, _ := MicroSkimming{}.Detect(newInput(txs, domain.DefaultAnalysisConfig()))
	levels := byLevel(findings)

	tenth := levels[domain.LevelTenthCent]
	if len(tenth) != 1 {
		t.Fatalf("got %d TENTH_CENT findings, want 1", len(tenth))
	}
	if got := tenth[0].Evidence["cumulativeTotal"]; got != 0.03 {
		t.Errorf("cumulativeTotal = %v, want 0.03", got)
	}
	if got := tenth[0].Evidence["tinyCount"]; got != 100 {
		t.Errorf("tinyCount = %v, want 100", got)
	}
	if len(levels[domain.LevelHundredthCent]) != 0 {
		t.Error("0.0003 is above the hundredth-of-a-cent band")
	}
	if len(levels[domain.LevelCent]) != 0 {
		t.Error("cumulative total is far below the threshold")
	}
}

func TestMicroSkimmingUltraTiny(t *testing.T) {
	txs := repeat(20, "0.00005", "Dust Collector")

	findings, _ := MicroSkimming{}.Detect(newInput(txs, domain.DefaultAnalysisConfig()))
	ultra := byLevel(findings)[domain.LevelHundredthCent]
	if len(ultra) != 1 {
		t.Fatalf("got %d HUNDREDTH_CENT findings, want 1", len(ultra))
	}
	if ultra[0].Severity != domain.SeverityCritical || ultra[0].Confidence != 100 {
		t.Errorf("finding = %+v", ultra[0])
	}
}

func TestMicroSkimmingBelowMinCount(t *testing.T) {
	txs := repeat(5, "0.0003", "Sweep Account")
	findings, _ := MicroSkimming{}.Detect(newInput(txs, domain.DefaultAnalysisConfig()))
	if len(findings) != 0 {
		t.Errorf("got %d findings for 5 payments, want 0", len(findings))
	}
}

func TestMicroSkimmingCumulativeAndBeneficiary(t *testing.T) {
	cfg := domain.DefaultAnalysisConfig()
	cfg.CumulativeThreshold = 0.01

	txs := append(repeat(30, "0.005", "Skim Corp"), repeat(3, "0.005", "Minor Co")...)
	txs = append(txs, newTx("big", weekday, "250", "Skim Corp"))

	findings, _ := MicroSkimming{}.Detect(newInput(txs, cfg))

	var cumulative, beneficiary []domain.Finding
	for _, f := range byLevel(findings)[domain.LevelCent] {
		if f.Evidence["scope"] == "global" {
			beneficiary = append(beneficiary, f)
		} else {
			cumulative = append(cumulative, f)
		}
	}
	if len(cumulative) != 2 {
		t.Errorf("got %d cumulative findings, want 2", len(cumulative))
	}
	if len(beneficiary) != 1 || beneficiary[0].Vendor != "skim" || len(beneficiary[0].Transactions) != 30 {
		t.Fatalf("beneficiary findings = %+v", beneficiary)
	}
}

func TestMicroSkimmingFloatMode(t *testing.T) {
	cfg := domain.DefaultAnalysisConfig()
	cfg.UseIntegerMath = false

	findings, _ := MicroSkimming{}.Detect(newInput(repeat(100, "0.0003", "Sweep Account"), cfg))
	tenth := byLevel(findings)[domain.LevelTenthCent]
	if len(tenth) != 1 {
		t.Fatalf("got %d TENTH_CENT findings, want 1", len(tenth))
	}
	total := tenth[0].Evidence["cumulativeTotal"].(float64)
	if total < 0.0299999 || total > 0.0300001 {
		t.Errorf("cumulativeTotal = %v, want about 0.03", total)
	}
}

func TestResidues(t *testing.T) {
	tests := []struct {
		amount     string
		tenths     int64
		hundredths int64
	}{
		{"12.0037", 0, 37},
		{"12.003", 3, 30},
		{"12.50", 0, 0},
		{"0.0005", 0, 5},
		{"-7.0040", 4, 40},
		{"100", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			tenths, hundredths := Residues(decimal.RequireFromString(tt.amount), true)
			if tenths != tt.tenths || hundredths != tt.hundredths {
				t.Errorf("Residues(%s) = (%d, %d), want (%d, %d)", tt.amount, tenths, hundredths, tt.tenths, tt.hundredths)
			}
		})
	}
}

func TestFractionalResidue(t *testing.T) {
	cfg := domain.DefaultAnalysisConfig()

	amounts := func(n int, frac string) []*domain.Transaction {
		var txs []*domain.Transaction
		for i := 0; i < n; i++ {
			txs = append(txs, newTx(fmt.Sprintf("r%d", i), weekday, fmt.Sprintf("%d.%s", 10+i, frac), "Round Off"))
		}
		return txs
	}

	t.Run("hundredths", func(t *testing.T) {
		findings, _ := FractionalResidue{}.Detect(newInput(amounts(40, "0037"), cfg))
		if len(findings) != 1 {
			t.Fatalf("got %d findings, want 1", len(findings))
		}
		f := findings[0]
		if f.Evidence["residue"] != int64(37) || f.Severity != domain.SeverityCritical || f.Confidence != 100 {
			t.Errorf("finding = %+v", f)
		}
	})

	t.Run("tenths", func(t *testing.T) {
		findings, _ := FractionalResidue{}.Detect(newInput(amounts(40, "003"), cfg))
		levels := byLevel(findings)
		if len(levels[domain.LevelTenthCent]) != 1 || len(levels[domain.LevelHundredthCent]) != 1 {
			t.Fatalf("findings by level = %v", levels)
		}
		if levels[domain.LevelTenthCent][0].Evidence["residue"] != int64(3) {
			t.Errorf("tenths residue = %v, want 3", levels[domain.LevelTenthCent][0].Evidence["residue"])
		}
	})

	t.Run("whole cents", func(t *testing.T) {
		findings, _ := FractionalResidue{}.Detect(newInput(amounts(40, "25"), cfg))
		if len(findings) != 0 {
			t.Errorf("got %d findings for cent amounts, want 0", len(findings))
		}
	})

	t.Run("too few samples", func(t *testing.T) {
		findings, _ := FractionalResidue{}.Detect(newInput(amounts(10, "0037"), cfg))
		if len(findings) != 0 {
			t.Errorf("got %d findings, want 0", len(findings))
		}
	})

	t.Run("global", func(t *testing.T) {
		var txs []*domain.Transaction
		for i := 0; i < 120; i++ {
			txs = append(txs, newTx(fmt.Sprintf("g%d", i), weekday, fmt.Sprintf("%d.0037", 10+i), fmt.Sprintf("Vendor %d", i)))
		}
		findings, _ := FractionalResidue{}.Detect(newInput(txs, cfg))
		if len(findings) != 1 || findings[0].Vendor != domain.GlobalVendorKey {
			t.Fatalf("findings = %+v", findings)
		}
	})
}
