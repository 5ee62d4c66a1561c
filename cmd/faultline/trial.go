package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"faultline/internal/config"
	"faultline/internal/core"
	"faultline/internal/injector"
	"faultline/internal/launcher"
	"faultline/internal/recorder"
	"faultline/internal/scenario"
	"faultline/internal/sweep"
	"faultline/internal/watcher"
)

func newTrialCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trial",
		Short: "Run a single fault-injection trial",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTrial(cmd.Context())
		},
	}
	flags := cmd.Flags()
	addRunFlags(flags)
	flags.Int("interval", 0, "heartbeat interval in milliseconds (default: first grid interval)")
	flags.Int("timeout", 0, "heartbeat timeout in milliseconds (default: first grid timeout)")
	return cmd
}

// newInjector wires a launcher-backed injector for cfg.
func newInjector(cfg *config.Config, a *app) (*injector.Injector, error) {
	l := launcher.New(cfg.Binary, a.logger)
	if err := l.CheckBinary(); err != nil {
		return nil, err
	}
	return injector.New(injector.Options{
		Spawner:     l,
		Watcher:     watcher.New(cfg.Detection.Policy(), a.logger),
		Logger:      a.logger,
		Timing:      cfg.Timing,
		Host:        cfg.Host,
		BasePort:    cfg.BasePort,
		Probe:       cfg.Probe.Enabled,
		ProbePeriod: cfg.Probe.Period,
		HTTPClient:  &http.Client{Timeout: cfg.Probe.RequestTimeout},
	}), nil
}

func (a *app) runTrial(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return withCode(ExitError, err)
	}
	sc, err := scenario.Lookup(cfg.Scenario)
	if err != nil {
		return withCode(ExitError, err)
	}

	p := core.Params{IntervalMs: cfg.Grid.Intervals[0], TimeoutMs: cfg.Grid.Timeouts[0]}
	if a.v.IsSet("interval") {
		p.IntervalMs = a.v.GetInt("interval")
	}
	if a.v.IsSet("timeout") {
		p.TimeoutMs = a.v.GetInt("timeout")
	}
	if p.IntervalMs <= 0 || p.TimeoutMs <= 0 {
		return withCode(ExitError, errors.New("--interval and --timeout must be positive"))
	}

	in, err := newInjector(cfg, a)
	if err != nil {
		return withCode(ExitError, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	trial := injector.NewTrial(cfg.RunsDir, sc, p, core.RealClock{}, "")
	res := in.Run(ctx, trial)

	if a.v.GetString("output") == "json" {
		if err := writeResultJSON(a, trial, res); err != nil {
			return withCode(ExitError, err)
		}
	} else {
		fmt.Fprintln(a.stdout, describeResult(res))
		fmt.Fprintf(a.stdout, "manifest: %s\n", trial.Dir)
	}

	if res.Status == recorder.StatusFailed {
		return withCode(ExitError, fmt.Errorf("trial %s failed: %w", res.TrialID, res.Err))
	}
	return nil
}

func describeResult(res injector.Result) string {
	line := sweep.Describe(res)
	for _, w := range res.Warnings {
		line += "\n  warning: " + w
	}
	return line
}

func writeResultJSON(a *app, trial injector.Trial, res injector.Result) error {
	output := struct {
		TrialID   string                 `json:"trial_id"`
		Dir       string                 `json:"dir"`
		Params    core.Params            `json:"params"`
		Status    recorder.Status        `json:"status"`
		FaultTS   int64                  `json:"fault_ts_ms"`
		LatencyMs *int64                 `json:"detection_latency_ms"`
		Node      string                 `json:"node_id,omitempty"`
		Warnings  []string               `json:"warnings,omitempty"`
		Leaked    []string               `json:"leaked,omitempty"`
		Error     string                 `json:"error,omitempty"`
		States    []recorder.StateTiming `json:"states"`
	}{
		TrialID:  res.TrialID,
		Dir:      trial.Dir,
		Params:   trial.Params,
		Status:   res.Status,
		FaultTS:  res.FaultTS,
		Warnings: res.Warnings,
		Leaked:   res.Leaked,
		States:   res.States,
	}
	if ms, ok := res.Latency(); ok {
		output.LatencyMs = recorder.Int64(ms)
	}
	if res.Detection != nil {
		output.Node = res.Detection.NodeID
	}
	if res.Err != nil {
		output.Error = res.Err.Error()
	}

	encoder := json.NewEncoder(a.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
