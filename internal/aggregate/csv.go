package aggregate

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"faultline/internal/core"
)

var (
	heatmapHeader = []string{"hb_timeout_ms", "hb_interval_ms", "median_detection_ms", "iqr_detection_ms", "n_trials"}
	scatterHeader = []string{"missed", "hb_interval_ms", "hb_timeout_ms", "median_detection_ms", "iqr_detection_ms", "n_trials"}
	metricsHeader = []string{"run_id", "scenario", "hb_interval_ms", "hb_timeout_ms", "knobs", "status", "detection_latency_ms", "downtime_ms", "put_fail", "get_fail"}
)

// WriteHeatmap writes one row per configuration with at least one valid
// latency. A knobs column is appended only when some bucket carries knobs, and
// a scenario column only when the buckets span more than one scenario.
func WriteHeatmap(w io.Writer, buckets []Bucket) error {
	cols := extraColumnsFor(buckets)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols.header(heatmapHeader)); err != nil {
		return err
	}
	for _, b := range buckets {
		if b.N == 0 {
			continue
		}
		row := []string{
			strconv.Itoa(b.Params.TimeoutMs),
			strconv.Itoa(b.Params.IntervalMs),
			formatFloat(b.Median),
			formatFloat(b.IQR),
			strconv.Itoa(b.N),
		}
		if err := cw.Write(cols.row(row, b)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteScatter writes the same rows as WriteHeatmap keyed by the number of
// missed heartbeats, timeout over interval.
func WriteScatter(w io.Writer, buckets []Bucket) error {
	cols := extraColumnsFor(buckets)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols.header(scatterHeader)); err != nil {
		return err
	}
	for _, b := range buckets {
		if b.N == 0 {
			continue
		}
		row := []string{
			formatFloat(b.Params.Missed()),
			strconv.Itoa(b.Params.IntervalMs),
			strconv.Itoa(b.Params.TimeoutMs),
			formatFloat(b.Median),
			formatFloat(b.IQR),
			strconv.Itoa(b.N),
		}
		if err := cw.Write(cols.row(row, b)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetrics writes one row per trial. Latency and downtime are empty when
// the trial has none.
func WriteMetrics(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(metricsHeader); err != nil {
		return err
	}
	for _, s := range samples {
		latency := ""
		if s.Valid {
			latency = strconv.FormatInt(s.LatencyMs, 10)
		}
		downtime, putFail, getFail := "", "", ""
		if s.HasProbe {
			downtime = strconv.FormatInt(s.DowntimeMs, 10)
			putFail = strconv.Itoa(s.PutFail)
			getFail = strconv.Itoa(s.GetFail)
		}
		row := []string{
			s.RunID,
			s.Scenario,
			strconv.Itoa(s.Params.IntervalMs),
			strconv.Itoa(s.Params.TimeoutMs),
			knobString(s.Params),
			string(s.Status),
			latency,
			downtime,
			putFail,
			getFail,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// extraColumns records which optional columns a table carries. Existing
// columns keep their positions; optional ones are appended knobs first.
type extraColumns struct {
	knobs    bool
	scenario bool
}

func extraColumnsFor(buckets []Bucket) extraColumns {
	var cols extraColumns
	scenarios := make(map[string]struct{})
	for _, b := range buckets {
		if len(b.Params.Knobs) > 0 {
			cols.knobs = true
		}
		scenarios[b.Scenario] = struct{}{}
	}
	cols.scenario = len(scenarios) > 1
	return cols
}

func (c extraColumns) header(base []string) []string {
	h := append([]string(nil), base...)
	if c.knobs {
		h = append(h, "knobs")
	}
	if c.scenario {
		h = append(h, "scenario")
	}
	return h
}

func (c extraColumns) row(row []string, b Bucket) []string {
	if c.knobs {
		row = append(row, knobString(b.Params))
	}
	if c.scenario {
		row = append(row, b.Scenario)
	}
	return row
}

// knobString renders knobs as "a=1;b=2" in name order.
func knobString(p core.Params) string {
	names := p.KnobNames()
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + strconv.Itoa(p.Knobs[k])
	}
	return strings.Join(parts, ";")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
