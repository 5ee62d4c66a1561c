package aggregate

import (
	"encoding/json"
	"fmt"
	"io"
)

// FormatText writes the report in human-readable format.
func FormatText(w io.Writer, r *Report, thresholds *ThresholdResults) {
	st := r.Stats
	if st.Trials == 0 {
		fmt.Fprintln(w, "No trials found")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Faultline - Detection Latency")
	fmt.Fprintln(w, "==============================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Trials:   %d (%d skipped)\n", st.Trials, st.Skipped)
	fmt.Fprintf(w, "Detected: %d\n", st.Valid)
	fmt.Fprintf(w, "Missed:   %d\n", st.Missed)
	fmt.Fprintf(w, "Invalid:  %d\n", st.Invalid)
	fmt.Fprintf(w, "Failed:   %d\n", st.Failed)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "By Configuration:")
	for _, b := range r.Buckets {
		if b.N == 0 {
			fmt.Fprintf(w, "  %-32s n=0/%d  no detections\n", b.Key(), b.Trials)
			continue
		}
		fmt.Fprintf(w, "  %-32s n=%d/%d  median=%sms  iqr=%sms  min=%sms  max=%sms",
			b.Key(), b.N, b.Trials,
			formatFloat(b.Median), formatFloat(b.IQR),
			formatFloat(b.Min), formatFloat(b.Max))
		if b.DowntimeN > 0 {
			fmt.Fprintf(w, "  downtime=%sms", formatFloat(b.MedianDowntime))
		}
		fmt.Fprintln(w)
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s < %s (actual: %s)\n",
				symbol, result.Name, result.Threshold, result.Actual)
		}
	}
}

type jsonBucket struct {
	Scenario         string         `json:"scenario,omitempty"`
	IntervalMs       int            `json:"hb_interval_ms"`
	TimeoutMs        int            `json:"hb_timeout_ms"`
	Knobs            map[string]int `json:"knobs,omitempty"`
	Trials           int            `json:"trials"`
	N                int            `json:"n_trials"`
	Missed           int            `json:"missed_trials"`
	Median           float64        `json:"median_detection_ms"`
	P25              float64        `json:"p25_detection_ms"`
	P75              float64        `json:"p75_detection_ms"`
	IQR              float64        `json:"iqr_detection_ms"`
	Mean             float64        `json:"mean_detection_ms"`
	Min              float64        `json:"min_detection_ms"`
	Max              float64        `json:"max_detection_ms"`
	MedianDowntimeMs *float64       `json:"median_downtime_ms,omitempty"`
}

// FormatJSON writes the report in JSON format.
func FormatJSON(w io.Writer, r *Report, thresholds *ThresholdResults) error {
	output := struct {
		Stats      ScanStats         `json:"stats"`
		Buckets    []jsonBucket      `json:"buckets"`
		Thresholds *ThresholdResults `json:"thresholds,omitempty"`
	}{
		Stats:      r.Stats,
		Buckets:    make([]jsonBucket, 0, len(r.Buckets)),
		Thresholds: thresholds,
	}

	for _, b := range r.Buckets {
		jb := jsonBucket{
			Scenario:   b.Scenario,
			IntervalMs: b.Params.IntervalMs,
			TimeoutMs:  b.Params.TimeoutMs,
			Knobs:      b.Params.Knobs,
			Trials:     b.Trials,
			N:          b.N,
			Missed:     b.Missed,
			Median:     b.Median,
			P25:        b.P25,
			P75:        b.P75,
			IQR:        b.IQR,
			Mean:       b.Mean,
			Min:        b.Min,
			Max:        b.Max,
		}
		if b.DowntimeN > 0 {
			d := b.MedianDowntime
			jb.MedianDowntimeMs = &d
		}
		output.Buckets = append(output.Buckets, jb)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
