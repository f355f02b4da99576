package detect

import (
	"fmt"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Micro-skimming trigger constants.
const (
	ultraMinCount       = 10
	ultraMinShare       = 0.3
	beneficiaryMultiple = 5
	beneficiaryMinCount = 20
)

// MicroSkimming detects systematic theft of fractions of a cent.
type MicroSkimming struct{}

func (MicroSkimming) Name() string { return NameMicroSkimming }

type microTally struct {
	txs         []*domain.Transaction
	exact       decimal.Decimal
	approx      float64
	tiny, ultra int
}

func (t *microTally) total(integer bool) float64 {
	if integer {
		f, _ := t.exact.Float64()
		return f
	}
	return t.approx
}

func (d MicroSkimming) Detect(in *Input) ([]domain.Finding, error) {
	cfg := in.Config
	microD := decimal.NewFromFloat(cfg.MicroThreshold)
	tinyD := decimal.NewFromFloat(cfg.TinyThreshold)
	ultraD := decimal.NewFromFloat(cfg.UltraTinyThreshold)

	tallies := make(map[string]*microTally)
	for _, tx := range in.Transactions {
		if tx.IsZeroAmount() {
			continue
		}
		abs := tx.Amount.Abs()
		var isMicro, isTiny, isUltra bool
		if cfg.UseIntegerMath {
			isMicro = abs.LessThanOrEqual(microD)
			isTiny = abs.LessThanOrEqual(tinyD)
			isUltra = abs.LessThanOrEqual(ultraD)
		} else {
			f := tx.AbsAmount()
			isMicro = f <= cfg.MicroThreshold
			isTiny = f <= cfg.TinyThreshold
			isUltra = f <= cfg.UltraTinyThreshold
		}
		if !isMicro {
			continue
		}

		t, ok := tallies[tx.VendorKey]
		if !ok {
			t = &microTally{}
			tallies[tx.VendorKey] = t
		}
		t.txs = append(t.txs, tx)
		t.exact = t.exact.Add(abs)
		t.approx += tx.AbsAmount()
		if isTiny {
			t.tiny++
		}
		if isUltra {
			t.ultra++
		}
	}

	keys := make([]string, 0, len(tallies))
	for k := range tallies {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var out []domain.Finding
	var top string
	topTotal := -1.0
	for _, key := range keys {
		t := tallies[key]
		n := len(t.txs)
		total := t.total(cfg.UseIntegerMath)
		name := vendorLabel(in.Profile, key)
		if total > topTotal {
			top, topTotal = key, total
		}

		evidence := func(level string, extra map[string]any) map[string]any {
			ev := map[string]any{
				"detectionLevel":  level,
				"microCount":      n,
				"tinyCount":       t.tiny,
				"ultraTinyCount":  t.ultra,
				"cumulativeTotal": total,
			}
			for k, v := range extra {
				ev[k] = v
			}
			return ev
		}

		if total > cfg.CumulativeThreshold {
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingMicroSkimming,
				Detector:     d.Name(),
				Severity:     domain.SeverityHigh,
				Confidence:   math.Min(95, 60+total/cfg.CumulativeThreshold*10),
				Transactions: t.txs,
				Vendor:       key,
				Evidence:     evidence(domain.LevelCent, nil),
				Description:  fmt.Sprintf("%d sub-cent payments to %s accumulate to %.4f", n, name, total),
			}, domain.LevelCent))
		}

		tinyShare := float64(t.tiny) / float64(n)
		if n >= cfg.MinCount && tinyShare > cfg.ProportionThreshold {
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingMicroSkimming,
				Detector:     d.Name(),
				Severity:     domain.SeverityHigh,
				Confidence:   50 + (tinyShare-cfg.ProportionThreshold)*100,
				Transactions: t.txs,
				Vendor:       key,
				Evidence:     evidence(domain.LevelTenthCent, map[string]any{"tinyProportion": tinyShare}),
				Description: fmt.Sprintf("%.0f%% of %d micro-payments to %s are at or below a tenth of a cent",
					tinyShare*100, n, name),
			}, domain.LevelTenthCent))
		}

		ultraShare := float64(t.ultra) / float64(n)
		if t.ultra >= ultraMinCount && ultraShare > ultraMinShare {
			out = append(out, Finalize(domain.Finding{
				Type:         domain.FindingMicroSkimming,
				Detector:     d.Name(),
				Severity:     domain.SeverityCritical,
				Confidence:   70 + ultraShare*30,
				Transactions: t.txs,
				Vendor:       key,
				Evidence:     evidence(domain.LevelHundredthCent, map[string]any{"ultraTinyProportion": ultraShare}),
				Description: fmt.Sprintf("%d micro-payments to %s are at or below a hundredth of a cent",
					t.ultra, name),
			}, domain.LevelHundredthCent))
		}
	}

	if t, ok := tallies[top]; ok && topTotal > beneficiaryMultiple*cfg.CumulativeThreshold && len(t.txs) > beneficiaryMinCount {
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingMicroSkimming,
			Detector:     d.Name(),
			Severity:     domain.SeverityCritical,
			Confidence:   90,
			Transactions: t.txs,
			Vendor:       top,
			Evidence: map[string]any{
				"detectionLevel":  domain.LevelCent,
				"scope":           "global",
				"cumulativeTotal": topTotal,
				"microCount":      len(t.txs),
			},
			Description: fmt.Sprintf("%s is the top beneficiary of sub-cent payments (%.2f over %d transactions)",
				vendorLabel(in.Profile, top), topTotal, len(t.txs)),
		}, "top_beneficiary"))
	}
	return out, nil
}

var tenThousand = decimal.NewFromInt(10000)

// Residues returns the sub-cent residues of an amount: the hundredths residue is
// the last two digits of the amount in 1/10,000 units; the tenths residue is the
// tenth-of-a-cent digit of amounts quoted to a tenth of a cent, and zero for
// amounts that carry a hundredths component. With integer false the units are
// derived from float64 arithmetic, reproducing its rounding error.
func Residues(amount decimal.Decimal, integer bool) (tenths, hundredths int64) {
	var units int64
	if integer {
		units = amount.Abs().Mul(tenThousand).Round(0).IntPart()
	} else {
		f, _ := amount.Abs().Float64()
		units = int64(math.Floor(f * 10000))
	}
	hundredths = units % 100
	if units%10 == 0 {
		tenths = (units / 10) % 10
	}
	return tenths, hundredths
}

// Fractional residue thresholds.
const (
	residueMinSamples       = 30
	tenthsVendorShare       = 0.6
	hundredthsVendorShare   = 0.48
	tenthsGlobalSamples     = 200
	tenthsGlobalShare       = 0.5
	hundredthsGlobalSamples = 100
	hundredthsGlobalShare   = 0.25
)

// FractionalResidue detects amounts whose sub-cent digits keep repeating,
// the trace left by rounding-skimming schemes.
type FractionalResidue struct{}

func (FractionalResidue) Name() string { return NameFractionalResidue }

type residueSample struct {
	tx                 *domain.Transaction
	tenths, hundredths int64
}

func (d FractionalResidue) Detect(in *Input) ([]domain.Finding, error) {
	integer := in.Config.UseIntegerMath

	var all []residueSample
	perVendor := make(map[string][]residueSample)
	var keys []string
	for _, tx := range in.Transactions {
		if tx.IsZeroAmount() {
			continue
		}
		t, h := Residues(tx.Amount, integer)
		s := residueSample{tx, t, h}
		all = append(all, s)
		if tx.VendorKey == "" {
			continue
		}
		if _, seen := perVendor[tx.VendorKey]; !seen {
			keys = append(keys, tx.VendorKey)
		}
		perVendor[tx.VendorKey] = append(perVendor[tx.VendorKey], s)
	}
	slices.Sort(keys)

	var out []domain.Finding
	for _, key := range keys {
		samples := perVendor[key]
		if len(samples) < residueMinSamples {
			continue
		}
		if f, ok := d.dominant(in, samples, key, domain.LevelTenthCent, tenthsVendorShare, true, domain.SeverityHigh); ok {
			out = append(out, f)
		}
		if f, ok := d.dominant(in, samples, key, domain.LevelHundredthCent, hundredthsVendorShare, true, domain.SeverityCritical); ok {
			out = append(out, f)
		}
	}

	if len(all) > tenthsGlobalSamples {
		if f, ok := d.dominant(in, all, domain.GlobalVendorKey, domain.LevelTenthCent, tenthsGlobalShare, false, domain.SeverityCritical); ok {
			out = append(out, f)
		}
	}
	if len(all) > hundredthsGlobalSamples {
		if f, ok := d.dominant(in, all, domain.GlobalVendorKey, domain.LevelHundredthCent, hundredthsGlobalShare, false, domain.SeverityCritical); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// dominant reports a finding when one non-zero residue reaches share of samples.
// inclusive selects >= rather than > for the share comparison.
func (d FractionalResidue) dominant(in *Input, samples []residueSample, vendor, level string, share float64, inclusive bool, sev domain.Severity) (domain.Finding, bool) {
	pick := func(s residueSample) int64 {
		if level == domain.LevelTenthCent {
			return s.tenths
		}
		return s.hundredths
	}

	counts := make(map[int64]int)
	for _, s := range samples {
		if r := pick(s); r != 0 {
			counts[r]++
		}
	}
	var residue int64
	best := 0
	for r, c := range counts {
		if c > best || (c == best && r < residue) {
			residue, best = r, c
		}
	}
	if best == 0 {
		return domain.Finding{}, false
	}

	ratio := float64(best) / float64(len(samples))
	if ratio < share || (!inclusive && ratio == share) {
		return domain.Finding{}, false
	}

	var txs []*domain.Transaction
	for _, s := range samples {
		if pick(s) == residue {
			txs = append(txs, s.tx)
		}
	}

	scope := "vendor"
	name := vendorLabel(in.Profile, vendor)
	if vendor == domain.GlobalVendorKey {
		scope, name = "global", "all vendors"
	}
	return Finalize(domain.Finding{
		Type:         domain.FindingFractionalResidue,
		Detector:     d.Name(),
		Severity:     sev,
		Confidence:   50 + ratio*50,
		Transactions: txs,
		Vendor:       vendor,
		Evidence: map[string]any{
			"detectionLevel": level,
			"scope":          scope,
			"residue":        residue,
			"share":          ratio,
			"samples":        len(samples),
		},
		Description: fmt.Sprintf("Residue %d recurs in %.0f%% of %d amounts for %s", residue, ratio*100, len(samples), name),
	}, level+"/"+scope), true
}
