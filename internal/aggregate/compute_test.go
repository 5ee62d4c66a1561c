package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"faultline/internal/core"
	"faultline/internal/recorder"
)

func sample(interval, timeout int, latency int64, valid bool) Sample {
	s := Sample{
		Params:    core.Params{IntervalMs: interval, TimeoutMs: timeout},
		LatencyMs: latency,
		Valid:     valid,
		Status:    recorder.StatusDetected,
	}
	if !valid {
		s.Status = recorder.StatusMissed
	}
	return s
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{7}, 75, 7},
		{"p25 of three", []float64{120, 140, 600}, 25, 130},
		{"p75 of three", []float64{120, 140, 600}, 75, 370},
		{"p50 even", []float64{1, 2, 3, 4}, 50, 2.5},
		{"p0", []float64{1, 2, 3, 4}, 0, 1},
		{"p100", []float64{1, 2, 3, 4}, 100, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.sorted, tt.p), 1e-9)
		})
	}
}

func TestSummarize_MedianAndIQR(t *testing.T) {
	samples := []Sample{
		sample(100, 300, 600, true),
		sample(100, 300, 120, true),
		sample(100, 300, 140, true),
	}

	buckets := Summarize(samples)

	if assert.Len(t, buckets, 1) {
		b := buckets[0]
		assert.Equal(t, []float64{120, 140, 600}, b.Latencies)
		assert.Equal(t, 3, b.N)
		assert.Equal(t, 3, b.Trials)
		assert.Equal(t, 140.0, b.Median)
		assert.Equal(t, 130.0, b.P25)
		assert.Equal(t, 370.0, b.P75)
		assert.Equal(t, 240.0, b.IQR)
		assert.Equal(t, 120.0, b.Min)
		assert.Equal(t, 600.0, b.Max)
	}
}

func TestSummarize_EvenCountMedian(t *testing.T) {
	buckets := Summarize([]Sample{
		sample(100, 300, 100, true),
		sample(100, 300, 200, true),
		sample(100, 300, 300, true),
		sample(100, 300, 400, true),
	})
	assert.Equal(t, 250.0, buckets[0].Median)
}

func TestSummarize_ExcludesInvalidAndNegative(t *testing.T) {
	samples := []Sample{
		sample(100, 300, 200, true),
		sample(100, 300, 0, false),
		sample(100, 300, -50, true),
	}

	buckets := Summarize(samples)

	assert.Len(t, buckets, 1)
	assert.Equal(t, []float64{200}, buckets[0].Latencies)
	assert.Equal(t, 3, buckets[0].Trials)
	assert.Equal(t, 2, buckets[0].Missed)
	for _, v := range buckets[0].Latencies {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestSummarize_GroupsByExactConfig(t *testing.T) {
	withKnob := sample(100, 300, 500, true)
	withKnob.Params.Knobs = map[string]int{"election_timeout_ms": 600}

	buckets := Summarize([]Sample{
		sample(200, 600, 700, true),
		sample(100, 300, 300, true),
		withKnob,
		sample(100, 600, 650, true),
		sample(100, 300, 320, true),
	})

	var keys []string
	for _, b := range buckets {
		keys = append(keys, b.Params.Key())
	}
	assert.Equal(t, []string{
		"interval=100,timeout=300",
		"interval=100,timeout=300,election_timeout_ms=600",
		"interval=100,timeout=600",
		"interval=200,timeout=600",
	}, keys)
	assert.Equal(t, 2, buckets[0].N)
}

func TestSummarize_SeparatesScenarios(t *testing.T) {
	crash := sample(100, 300, 900, true)
	crash.Scenario = "leader_crash"
	fd := sample(100, 300, 100, true)
	fd.Scenario = "fd_2node"

	buckets := Summarize([]Sample{crash, fd})

	if assert.Len(t, buckets, 2) {
		assert.Equal(t, "fd_2node:interval=100,timeout=300", buckets[0].Key())
		assert.Equal(t, 100.0, buckets[0].Median)
		assert.Equal(t, "leader_crash:interval=100,timeout=300", buckets[1].Key())
		assert.Equal(t, 900.0, buckets[1].Median)
	}
}

func TestSummarize_AllMissed(t *testing.T) {
	buckets := Summarize([]Sample{sample(100, 300, 0, false)})

	assert.Len(t, buckets, 1)
	assert.Equal(t, 0, buckets[0].N)
	assert.Equal(t, 1, buckets[0].Missed)
	assert.Zero(t, buckets[0].Median)
}

func TestSummarize_Downtime(t *testing.T) {
	a := sample(100, 300, 400, true)
	a.HasProbe, a.PutFail, a.DowntimeMs = true, 3, 900
	b := sample(100, 300, 420, true)
	b.HasProbe, b.PutFail, b.DowntimeMs = true, 5, 1100
	c := sample(100, 300, 430, true)
	c.HasProbe = true

	buckets := Summarize([]Sample{a, b, c})

	assert.Equal(t, 2, buckets[0].DowntimeN)
	assert.Equal(t, 1000.0, buckets[0].MedianDowntime)
}

func TestSummarize_DoesNotModifyInput(t *testing.T) {
	samples := []Sample{
		sample(100, 300, 600, true),
		sample(100, 300, 120, true),
	}
	Summarize(samples)
	assert.Equal(t, int64(600), samples[0].LatencyMs)
	assert.Equal(t, int64(120), samples[1].LatencyMs)
}

func TestMissedRate(t *testing.T) {
	assert.Zero(t, MissedRate(ScanStats{}))
	assert.Equal(t, 25.0, MissedRate(ScanStats{Trials: 4, Valid: 3}))
}
