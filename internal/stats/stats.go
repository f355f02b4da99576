// Package stats implements the closed-form descriptive statistics used by the
// profile builder and detectors. Every function is total: empty input and zero
// variance return zero values rather than NaN.
package stats

import (
	"math"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// sorted returns an ascending copy of values. Summing in sorted order makes
// results independent of input order.
func sorted(values []float64) []float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	return s
}

// Sum returns the sum of values in ascending order.
func Sum(values []float64) float64 {
	var total float64
	for _, v := range sorted(values) {
		total += v
	}
	return total
}

// Mean returns the arithmetic mean, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Variance returns the population variance.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	s := sorted(values)
	mean := Sum(s) / float64(len(s))

	var acc float64
	for _, v := range s {
		d := v - mean
		acc += d * d
	}
	v := acc / float64(len(s))
	if v < 0 {
		return 0
	}
	return v
}

// SampleStdDev returns the sample (n-1) standard deviation.
func SampleStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	return math.Sqrt(Variance(values) * float64(n) / float64(n-1))
}

// Median returns the middle value, averaging the two central values for even counts.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	s := sorted(values)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// CoefficientOfVariation returns stddev/|mean|, or 0 when the mean is zero.
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return StdDev(values) / math.Abs(mean)
}

// ZScore returns (v-mean)/stddev, or 0 when stddev is zero.
func ZScore(v, mean, stddev float64) float64 {
	if stddev <= 0 {
		return 0
	}
	return (v - mean) / stddev
}

// Describe computes the full moment summary of values.
func Describe(values []float64) domain.AmountStats {
	n := len(values)
	if n == 0 {
		return domain.AmountStats{}
	}
	s := sorted(values)

	var total float64
	for _, v := range s {
		total += v
	}
	mean := total / float64(n)

	var m2, m3, m4 float64
	for _, v := range s {
		d := v - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= float64(n)
	m3 /= float64(n)
	m4 /= float64(n)

	out := domain.AmountStats{
		Count:  n,
		Total:  total,
		Mean:   mean,
		Median: Median(s),
		StdDev: math.Sqrt(m2),
		Min:    s[0],
		Max:    s[n-1],
	}
	if m2 > 0 {
		out.Skewness = m3 / math.Pow(m2, 1.5)
		out.Kurtosis = m4/(m2*m2) - 3
	}
	return out
}
