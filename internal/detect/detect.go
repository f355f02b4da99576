// Package detect holds the bank of stateless fraud detectors. Every detector is
// a pure function of its Input: it performs no I/O, never mutates the shared
// transactions or profile, and may run concurrently with any other detector.
package detect

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector names, as recorded in findings and run metadata.
const (
	NameStatistical       = "statistical"
	NameBehavioral        = "behavioral"
	NameTemporal          = "temporal"
	NameNetwork           = "network"
	NameClustering        = "clustering"
	NameBenchmark         = "benchmark"
	NameEmbezzlement      = "embezzlement"
	NameDuplicate         = "duplicate_payment"
	NameVendorBaseline    = "vendor_baseline"
	NamePonzi             = "ponzi"
	NameShellCompany      = "shell_company"
	NameKickback          = "kickback"
	NameMicroSkimming     = "micro_skimming"
	NameFractionalResidue = "fractional_residue"
)

// Input is the immutable input shared by all detectors of one run.
type Input struct {
	Transactions []*domain.Transaction
	Profile      *domain.BehavioralProfile
	Config       domain.AnalysisConfig

	// Peer company profiles for benchmarking. May be empty.
	Peers []*domain.BehavioralProfile

	// Reference is the latest valid timestamp, the run's notion of "now".
	Reference time.Time
}

// Detector recognizes one family of fraud patterns.
type Detector interface {
	Name() string
	Detect(in *Input) ([]domain.Finding, error)
}

// Registration binds a detector to the shallowest depth it runs at.
type Registration struct {
	Detector Detector
	Depth    domain.AnalysisDepth
}

// Builtin returns the built-in detector bank.
func Builtin() []Registration {
	return []Registration{
		{Statistical{}, domain.DepthQuick},
		{Embezzlement{}, domain.DepthQuick},
		{Duplicate{}, domain.DepthQuick},
		{MicroSkimming{}, domain.DepthQuick},
		{FractionalResidue{}, domain.DepthQuick},
		{Behavioral{}, domain.DepthStandard},
		{Temporal{}, domain.DepthStandard},
		{Network{}, domain.DepthStandard},
		{VendorBaseline{}, domain.DepthStandard},
		{Ponzi{}, domain.DepthStandard},
		{ShellCompany{}, domain.DepthStandard},
		{Kickback{}, domain.DepthStandard},
		{Clustering{}, domain.DepthDeep},
		{Benchmark{}, domain.DepthDeep},
	}
}

// Select returns the detectors that run at depth.
func Select(regs []Registration, depth domain.AnalysisDepth) []Detector {
	var out []Detector
	for _, r := range regs {
		if r.Depth.Rank() <= depth.Rank() {
			out = append(out, r.Detector)
		}
	}
	return out
}

var findingNamespace = uuid.MustParse("6f1c7e0a-3b0e-5c55-9d54-6b6573747265")

// Finalize clamps confidence to [0, 100] and derives the finding ID from its
// content, so identical input always yields identical IDs. discriminator
// separates findings that share type, vendor and transactions.
func Finalize(f domain.Finding, discriminator string) domain.Finding {
	f.Confidence = math.Max(0, math.Min(100, f.Confidence))

	ids := make([]string, len(f.Transactions))
	for i, tx := range f.Transactions {
		ids[i] = tx.ID
	}
	slices.Sort(ids)

	key := strings.Join([]string{
		f.Detector, string(f.Type), f.Vendor, discriminator, strings.Join(ids, ","),
	}, "|")
	f.ID = uuid.NewSHA1(findingNamespace, []byte(key)).String()
	return f
}

// vendorLabel returns the display name for a vendor key.
func vendorLabel(p *domain.BehavioralProfile, key string) string {
	if v := p.Vendor(key); v != nil && v.Vendor != "" {
		return v.Vendor
	}
	return key
}

// byVendor groups non-zero transactions by canonical vendor key. Keys are
// returned sorted so iteration is deterministic.
func byVendor(txs []*domain.Transaction) (map[string][]*domain.Transaction, []string) {
	groups := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		if tx.VendorKey == "" || tx.IsZeroAmount() {
			continue
		}
		groups[tx.VendorKey] = append(groups[tx.VendorKey], tx)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return groups, keys
}

func absAmounts(txs []*domain.Transaction) []float64 {
	out := make([]float64, len(txs))
	for i, tx := range txs {
		out[i] = tx.AbsAmount()
	}
	return out
}

// hasLabel reports whether the description or category mentions any keyword.
func hasLabel(tx *domain.Transaction, keywords ...string) bool {
	text := strings.ToLower(tx.Description + " " + tx.Category)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
