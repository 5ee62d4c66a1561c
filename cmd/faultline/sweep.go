package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"faultline/internal/aggregate"
	"faultline/internal/progress"
	"faultline/internal/sweep"
)

func newSweepCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every trial of a parameter grid, then aggregate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSweep(cmd.Context())
		},
	}
	flags := cmd.Flags()
	addRunFlags(flags)
	flags.Int("trials", 0, "trials per grid cell")
	flags.IntSlice("intervals", nil, "heartbeat intervals in milliseconds")
	flags.IntSlice("timeouts", nil, "heartbeat timeouts in milliseconds")
	return cmd
}

func (a *app) runSweep(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return withCode(ExitError, err)
	}
	in, err := newInjector(cfg, a)
	if err != nil {
		return withCode(ExitError, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cells, _ := sweep.Cells(cfg.Grid)
	quiet := a.v.GetBool("quiet")
	prog := progress.NewProgress(len(cells)*cfg.Trials, quiet)
	prog.SetOutput(a.stderr)
	prog.Printf("faultline sweep: scenario %s, %d cells x %d trials, runs in %s",
		cfg.Scenario, len(cells), cfg.Trials, cfg.RunsDir)

	sum, err := sweep.New(sweep.Options{
		Config:   cfg,
		Runner:   in,
		Logger:   a.logger,
		Progress: prog,
	}).Run(ctx)
	if err != nil {
		return withCode(ExitError, err)
	}

	prog.Printf("sweep %s: %d trials, %d detected, %d missed, %d invalid, %d failed",
		sum.SweepID, sum.Trials, sum.Detected, sum.Missed, sum.Invalid, sum.Failed)
	if err := a.report(sum.Report, sum.Thresholds); err != nil {
		return withCode(ExitError, err)
	}

	if sum.Cancelled {
		if !quiet {
			fmt.Fprintln(a.stderr, "\nSweep interrupted, partial results aggregated")
		}
		return nil
	}
	if !sum.Passed() {
		return withCode(ExitThresholdFailed, errors.New("threshold check failed"))
	}
	return nil
}

func (a *app) report(r *aggregate.Report, thresholds *aggregate.ThresholdResults) error {
	if a.v.GetString("output") == "json" {
		return aggregate.FormatJSON(a.stdout, r, thresholds)
	}
	aggregate.FormatText(a.stdout, r, thresholds)
	return nil
}
