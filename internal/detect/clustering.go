package detect

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Clustering groups transactions by category and amount band and flags the
// ones that resemble no established cluster.
type Clustering struct{}

func (Clustering) Name() string { return NameClustering }

type cluster struct {
	category string
	center   float64
	size     int
}

func (d Clustering) Detect(in *Input) ([]domain.Finding, error) {
	var txs []*domain.Transaction
	for _, tx := range in.Transactions {
		if !tx.IsZeroAmount() {
			txs = append(txs, tx)
		}
	}
	if len(txs) < 30 {
		return nil, nil
	}

	type bucketKey struct {
		category string
		band     int64
	}
	buckets := make(map[bucketKey][]float64)
	for _, tx := range txs {
		k := bucketKey{profile.CategoryKey(tx), int64(math.Round(tx.AbsAmount() / 1000))}
		buckets[k] = append(buckets[k], tx.AbsAmount())
	}

	var clusters []cluster
	for k, amounts := range buckets {
		if len(amounts) >= 3 {
			clusters = append(clusters, cluster{k.category, stats.Mean(amounts), len(amounts)})
		}
	}
	if len(clusters) == 0 {
		return nil, nil
	}
	slices.SortFunc(clusters, func(a, b cluster) int {
		return cmp.Or(strings.Compare(a.category, b.category), cmp.Compare(a.center, b.center))
	})

	threshold := in.Config.ClusteringSimilarityThreshold
	var out []domain.Finding
	for _, tx := range txs {
		best, nearest := -1.0, clusters[0]
		for _, c := range clusters {
			if s := clusterSimilarity(tx, c); s > best {
				best, nearest = s, c
			}
		}
		if best >= threshold {
			continue
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingClusterOutlier,
			Detector:     d.Name(),
			Severity:     domain.SeverityMedium,
			Confidence:   50 + (threshold-best)*100,
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence: map[string]any{
				"similarity":      best,
				"nearestCategory": nearest.category,
				"nearestCenter":   nearest.center,
				"clusterCount":    len(clusters),
			},
			Description: fmt.Sprintf("Transaction %s does not fit any established spending cluster (best similarity %.2f)", tx.ID, best),
		}, ""))
	}
	return out, nil
}

// clusterSimilarity weighs category match and amount proximity equally.
func clusterSimilarity(tx *domain.Transaction, c cluster) float64 {
	var s float64
	if profile.CategoryKey(tx) == c.category {
		s += 0.5
	}
	a := tx.AbsAmount()
	if m := math.Max(a, c.center); m > 0 {
		s += 0.5 * math.Max(0, 1-math.Abs(a-c.center)/m)
	}
	return s
}

// Benchmark compares category spending against peer companies.
type Benchmark struct{}

func (Benchmark) Name() string { return NameBenchmark }

func (d Benchmark) Detect(in *Input) ([]domain.Finding, error) {
	if len(in.Peers) == 0 {
		return nil, nil
	}

	type norm struct{ mean, sd float64 }
	benchmarks := make(map[string]norm)

	for _, tx := range in.Transactions {
		cat := profile.CategoryKey(tx)
		if _, done := benchmarks[cat]; done {
			continue
		}
		var means, variances []float64
		for _, peer := range in.Peers {
			if peer == nil {
				continue
			}
			if cp, ok := peer.Categories[cat]; ok && cp.Count > 0 {
				means = append(means, cp.Mean)
				variances = append(variances, cp.StdDev*cp.StdDev)
			}
		}
		// pooled: within-peer variance plus between-peer variance of means
		benchmarks[cat] = norm{
			mean: stats.Mean(means),
			sd:   math.Sqrt(stats.Mean(variances) + stats.Variance(means)),
		}
	}

	limit := in.Config.BenchmarkDeviation
	var out []domain.Finding
	for _, tx := range in.Transactions {
		if tx.IsZeroAmount() {
			continue
		}
		b := benchmarks[profile.CategoryKey(tx)]
		if b.sd <= 0 {
			continue
		}
		dev := math.Abs(tx.AbsAmount()-b.mean) / b.sd
		if dev <= limit {
			continue
		}
		sev := domain.SeverityMedium
		if dev > 3 {
			sev = domain.SeverityHigh
		}
		out = append(out, Finalize(domain.Finding{
			Type:         domain.FindingBenchmark,
			Detector:     d.Name(),
			Severity:     sev,
			Confidence:   dev / 3 * 100,
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence: map[string]any{
				"category":      profile.CategoryKey(tx),
				"peerMean":      b.mean,
				"peerStdDev":    b.sd,
				"deviation":     dev,
				"peerCompanies": len(in.Peers),
			},
			Description: fmt.Sprintf("%s spending of %s deviates %.1f standard deviations from peer companies",
				profile.CategoryKey(tx), tx.Amount.StringFixed(2), dev),
		}, ""))
	}
	return out, nil
}
