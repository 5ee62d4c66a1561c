// Package aggregate turns trial manifests into per-configuration detection
// latency statistics and the CSV tables built from them.
package aggregate

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"faultline/internal/core"
)

// Bucket holds the trials of one scenario under one configuration. Latencies
// are the valid latencies in ascending order; the statistics are only
// meaningful when N > 0.
type Bucket struct {
	Scenario  string
	Params    core.Params
	Latencies []float64
	Trials    int
	N         int
	Missed    int
	Median    float64
	P25       float64
	P75       float64
	IQR       float64
	Mean      float64
	Min       float64
	Max       float64

	// MedianDowntime is the median probe downtime over trials that ran a
	// probe and saw at least one failed write.
	MedianDowntime float64
	DowntimeN      int
}

// Key identifies the bucket: the scenario name, when known, followed by the
// canonical configuration key.
func (b Bucket) Key() string {
	return bucketKey(b.Scenario, b.Params)
}

func bucketKey(scenario string, p core.Params) string {
	if scenario == "" {
		return p.Key()
	}
	return scenario + ":" + p.Key()
}

// Summarize groups samples by scenario and exact configuration and computes
// each group's statistics. Buckets are ordered by scenario, then timeout,
// interval and knobs.
func Summarize(samples []Sample) []Bucket {
	index := make(map[string]int)
	var buckets []Bucket
	var downtimes [][]float64

	for _, s := range samples {
		key := bucketKey(s.Scenario, s.Params)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Scenario: s.Scenario, Params: s.Params})
			downtimes = append(downtimes, nil)
		}
		b := &buckets[i]
		b.Trials++
		if s.Valid && s.LatencyMs >= 0 {
			b.Latencies = append(b.Latencies, float64(s.LatencyMs))
		} else {
			b.Missed++
		}
		if s.HasProbe && s.PutFail > 0 {
			downtimes[i] = append(downtimes[i], float64(s.DowntimeMs))
		}
	}

	for i := range buckets {
		b := &buckets[i]
		sort.Float64s(b.Latencies)
		b.N = len(b.Latencies)
		if b.N > 0 {
			data := stats.Float64Data(b.Latencies)
			b.Median, _ = stats.Median(data)
			b.Mean, _ = stats.Mean(data)
			b.Min, _ = stats.Min(data)
			b.Max, _ = stats.Max(data)
			b.P25 = Percentile(b.Latencies, 25)
			b.P75 = Percentile(b.Latencies, 75)
			b.IQR = b.P75 - b.P25
		}
		if d := downtimes[i]; len(d) > 0 {
			b.DowntimeN = len(d)
			b.MedianDowntime, _ = stats.Median(d)
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Scenario != buckets[j].Scenario {
			return buckets[i].Scenario < buckets[j].Scenario
		}
		a, b := buckets[i].Params, buckets[j].Params
		if a.TimeoutMs != b.TimeoutMs {
			return a.TimeoutMs < b.TimeoutMs
		}
		if a.IntervalMs != b.IntervalMs {
			return a.IntervalMs < b.IntervalMs
		}
		return a.Key() < b.Key()
	})
	return buckets
}

// Percentile returns the p-th percentile of sorted using linear
// interpolation between the closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	idx := p / 100 * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo < 0 {
		return sorted[0]
	}
	if hi >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(idx-float64(lo))
}

// MissedRate is the share of trials without a valid latency, in percent.
func MissedRate(st ScanStats) float64 {
	if st.Trials == 0 {
		return 0
	}
	return float64(st.Trials-st.Valid) / float64(st.Trials) * 100
}
