package aggregate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"faultline/internal/core"
	"faultline/internal/probe"
	"faultline/internal/recorder"
)

// Sample is one trial as seen by the aggregator. Valid is set when LatencyMs
// is a usable, non-negative latency.
type Sample struct {
	RunID      string
	Scenario   string
	Params     core.Params
	Status     recorder.Status
	LatencyMs  int64
	Valid      bool
	DowntimeMs int64
	HasProbe   bool
	PutFail    int
	GetFail    int
}

// ScanStats counts what Scan found and why trials were left out.
type ScanStats struct {
	Dirs    int `json:"dirs"`
	Trials  int `json:"trials"`
	Valid   int `json:"valid"`
	Missed  int `json:"missed"`
	Invalid int `json:"invalid"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Scan reads every trial directory under runsDir in name order. Directories
// without a manifest, or whose manifest lacks its run_start line, are skipped.
// A trial that ended before recording its probe summary is summarized from
// its client event log instead.
func Scan(runsDir string) ([]Sample, ScanStats, error) {
	var stats ScanStats
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, stats, nil
		}
		return nil, stats, fmt.Errorf("reading runs directory: %w", err)
	}

	var samples []Sample
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		stats.Dirs++
		dir := filepath.Join(runsDir, e.Name())
		m, err := recorder.LoadManifest(dir)
		if err != nil {
			stats.Skipped++
			continue
		}
		params, ok := m.Params()
		if !ok {
			stats.Skipped++
			continue
		}

		s := Sample{
			RunID:    m.RunID(),
			Scenario: m.Start.Scenario,
			Params:   params,
			Status:   m.Status(),
		}
		s.LatencyMs, s.Valid = m.Latency()
		if m.Probe != nil {
			s.HasProbe = true
			s.PutFail = m.Probe.PutFail
			s.GetFail = m.Probe.GetFail
			s.DowntimeMs, _ = m.Downtime()
		} else if ps, ok := clientSummary(dir); ok {
			s.HasProbe = true
			s.PutFail = ps.PutFail
			s.GetFail = ps.GetFail
			if ps.DowntimeMs != nil {
				s.DowntimeMs = *ps.DowntimeMs
			}
		}

		stats.Trials++
		switch {
		case s.Valid:
			stats.Valid++
		case s.Status == recorder.StatusMissed:
			stats.Missed++
		case s.Status == recorder.StatusInvalid:
			stats.Invalid++
		default:
			stats.Failed++
		}
		samples = append(samples, s)
	}
	return samples, stats, nil
}

func clientSummary(dir string) (probe.Summary, bool) {
	path := filepath.Join(dir, recorder.ClientEventsFile)
	if _, err := os.Stat(path); err != nil {
		return probe.Summary{}, false
	}
	ps, err := probe.SummarizeFile(path)
	if err != nil {
		return probe.Summary{}, false
	}
	return ps, true
}
