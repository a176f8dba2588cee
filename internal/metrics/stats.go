package metrics

import (
	"math"
	"sort"
	"time"
)

// LatencySummary holds order statistics over a set of latency samples, in
// milliseconds.
type LatencySummary struct {
	Count  int     `json:"count"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Summarize computes min, max, mean and the P50/P90/P99 percentiles of the
// given latencies. The input is not modified. An empty input yields a zero
// summary.
func Summarize(latenciesMs []float64) LatencySummary {
	n := len(latenciesMs)
	if n == 0 {
		return LatencySummary{}
	}

	sorted := make([]float64, n)
	copy(sorted, latenciesMs)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return LatencySummary{
		Count:  n,
		MinMs:  sorted[0],
		MaxMs:  sorted[n-1],
		MeanMs: sum / float64(n),
		P50Ms:  Percentile(sorted, 0.50),
		P90Ms:  Percentile(sorted, 0.90),
		P99Ms:  Percentile(sorted, 0.99),
	}
}

// Percentile returns the nearest-rank percentile p (0..1) of an ascending
// slice: the value at index ceil(n*p)-1, clamped to the slice bounds.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Throughput returns count per second over window, or 0 for a degenerate window.
func Throughput(count int64, window time.Duration) float64 {
	if count <= 0 || window <= 0 {
		return 0
	}
	return float64(count) / window.Seconds()
}
