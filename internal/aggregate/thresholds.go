package aggregate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Thresholds defines pass/fail criteria for a sweep.
type Thresholds struct {
	MedianDetection time.Duration `yaml:"median_detection"`
	MissedRate      string        `yaml:"missed_rate"`
}

// ThresholdResult represents the outcome of a single threshold check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults contains all threshold check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Validate reports a malformed missed rate before any trial runs.
func (t *Thresholds) Validate() error {
	if t == nil || t.MissedRate == "" {
		return nil
	}
	if _, err := parsePercentage(t.MissedRate); err != nil {
		return err
	}
	return nil
}

// Check evaluates the median detection limit against every bucket with at
// least one valid latency, and the missed rate against the whole run set.
func (t *Thresholds) Check(buckets []Bucket, st ScanStats) *ThresholdResults {
	if t == nil {
		return &ThresholdResults{Passed: true, Results: nil}
	}

	results := &ThresholdResults{
		Passed:  true,
		Results: make([]ThresholdResult, 0),
	}

	if t.MedianDetection > 0 {
		for _, b := range buckets {
			if b.N == 0 {
				continue
			}
			actual := time.Duration(b.Median * float64(time.Millisecond))
			results.add(ThresholdResult{
				Name:      "median_detection[" + b.Key() + "]",
				Passed:    actual < t.MedianDetection,
				Threshold: FormatDuration(t.MedianDetection),
				Actual:    FormatDuration(actual),
			})
		}
	}

	if t.MissedRate != "" {
		limit, err := parsePercentage(t.MissedRate)
		if err == nil {
			actual := MissedRate(st)
			results.add(ThresholdResult{
				Name:      "missed_rate",
				Passed:    actual < limit || (actual == 0 && limit == 0),
				Threshold: t.MissedRate,
				Actual:    fmt.Sprintf("%.2f%%", actual),
			})
		}
	}

	return results
}

func (r *ThresholdResults) add(res ThresholdResult) {
	if !res.Passed {
		r.Passed = false
	}
	r.Results = append(r.Results, res)
}

// Violations returns only the failed threshold results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	violations := make([]ThresholdResult, 0)
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("invalid percentage format: %s", s)
	}
	s = strings.TrimSuffix(s, "%")
	return strconv.ParseFloat(s, 64)
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
