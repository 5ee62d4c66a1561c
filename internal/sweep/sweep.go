// Package sweep runs a scenario across a grid of configurations, one trial at
// a time, and aggregates the results.
package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"faultline/internal/aggregate"
	"faultline/internal/config"
	"faultline/internal/core"
	"faultline/internal/injector"
	"faultline/internal/progress"
	"faultline/internal/recorder"
	"faultline/internal/scenario"
)

// TrialRunner executes one trial. *injector.Injector implements it.
type TrialRunner interface {
	Run(ctx context.Context, trial injector.Trial) injector.Result
}

type Options struct {
	Config   *config.Config
	Runner   TrialRunner
	Clock    core.Clock
	Logger   *slog.Logger
	Progress *progress.Progress
}

// Summary is the outcome of a sweep.
type Summary struct {
	SweepID    string
	Cells      int
	Skipped    int
	Trials     int
	Detected   int
	Missed     int
	Invalid    int
	Failed     int
	Warnings   int
	Cancelled  bool
	Report     *aggregate.Report
	Thresholds *aggregate.ThresholdResults
}

// Passed reports whether every configured threshold held.
func (s *Summary) Passed() bool {
	return s.Thresholds == nil || s.Thresholds.Passed
}

type Driver struct {
	opts Options
}

func New(opts Options) *Driver {
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{opts: opts}
}

// Run executes every trial of the sweep strictly one after another. A failed
// trial never stops the sweep; a cancelled context stops it after the current
// trial has been torn down. The aggregator runs once at the end either way.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	cfg := d.opts.Config
	sc, err := scenario.Lookup(cfg.Scenario)
	if err != nil {
		return nil, err
	}

	cells, skipped := Cells(cfg.Grid)
	sum := &Summary{
		SweepID: uuid.NewString(),
		Cells:   len(cells),
		Skipped: len(skipped),
	}
	logger := d.opts.Logger.With("sweep", sum.SweepID)
	for _, p := range skipped {
		logger.Warn("skipping invalid cell", "params", p.Key(), "reason", "timeout shorter than interval")
	}

	prog := d.opts.Progress
	if prog == nil {
		prog = progress.NewProgress(len(cells)*cfg.Trials, true)
	}
	prog.Start()
	defer prog.Stop()

	logger.Info("sweep started", "scenario", sc.Name, "cells", len(cells), "trials_per_cell", cfg.Trials)

loop:
	for i, p := range cells {
		for rep := 0; rep < cfg.Trials; rep++ {
			if ctx.Err() != nil {
				sum.Cancelled = true
				break loop
			}
			trial := injector.NewTrial(cfg.RunsDir, sc, p, d.opts.Clock, sum.SweepID)
			prog.Begin(trial.ID)
			logger.Debug("trial starting", "trial", trial.ID, "cell", i+1, "rep", rep+1)

			res := d.opts.Runner.Run(ctx, trial)
			sum.record(res)
			prog.Record(res.Status)
			prog.Print(Describe(res))
			logResult(logger, res)
		}
	}
	if sum.Cancelled {
		logger.Warn("sweep cancelled", "completed", sum.Trials)
	}

	report, err := aggregate.Run(cfg.RunsDir, cfg.OutDir)
	if err != nil {
		return sum, fmt.Errorf("aggregating results: %w", err)
	}
	sum.Report = report
	if cfg.Thresholds != nil {
		sum.Thresholds = cfg.Thresholds.Check(report.Buckets, report.Stats)
	}

	logger.Info("sweep finished",
		"trials", sum.Trials,
		"detected", sum.Detected,
		"missed", sum.Missed,
		"invalid", sum.Invalid,
		"failed", sum.Failed)
	return sum, nil
}

func (s *Summary) record(res injector.Result) {
	s.Trials++
	s.Warnings += len(res.Warnings)
	switch res.Status {
	case recorder.StatusDetected:
		s.Detected++
	case recorder.StatusMissed:
		s.Missed++
	case recorder.StatusInvalid:
		s.Invalid++
	default:
		s.Failed++
	}
}

// Describe renders a one-line outcome of a trial.
func Describe(res injector.Result) string {
	line := fmt.Sprintf("trial %s: %s", res.TrialID, res.Status)
	if ms, ok := res.Latency(); ok {
		line += fmt.Sprintf(" in %dms", ms)
	}
	if res.Probe != nil && res.Probe.DowntimeMs != nil {
		line += fmt.Sprintf(" (write downtime %dms)", *res.Probe.DowntimeMs)
	}
	if n := len(res.Warnings); n > 0 {
		line += fmt.Sprintf(", %d warning(s)", n)
	}
	return line
}

// logResult logs the outcome only. Warnings and leaks were already logged by
// the trial as they happened.
func logResult(logger *slog.Logger, res injector.Result) {
	attrs := []any{"trial", res.TrialID, "status", string(res.Status)}
	if ms, ok := res.Latency(); ok {
		attrs = append(attrs, "latency_ms", ms)
	}
	if n := len(res.Warnings); n > 0 {
		attrs = append(attrs, "warnings", n)
	}
	if len(res.Leaked) > 0 {
		attrs = append(attrs, "leaked", res.Leaked)
	}
	if res.Err != nil && res.Status != recorder.StatusMissed {
		logger.Error("trial failed", append(attrs, "error", res.Err)...)
		return
	}
	logger.Info("trial finished", attrs...)
}
