package main

import (
	"errors"

	"github.com/spf13/cobra"

	"faultline/internal/aggregate"
)

func newAggregateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Summarize existing trial directories into CSV tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAggregate()
		},
	}
}

func (a *app) runAggregate() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return withCode(ExitError, err)
	}

	r, err := aggregate.Run(cfg.RunsDir, cfg.OutDir)
	if err != nil {
		return withCode(ExitError, err)
	}
	a.logger.Info("aggregated trials", "runs_dir", cfg.RunsDir, "out_dir", cfg.OutDir,
		"trials", r.Stats.Trials, "buckets", len(r.Buckets))

	thresholds := cfg.Thresholds.Check(r.Buckets, r.Stats)
	if err := a.report(r, thresholds); err != nil {
		return withCode(ExitError, err)
	}
	if !thresholds.Passed {
		return withCode(ExitThresholdFailed, errors.New("threshold check failed"))
	}
	return nil
}
