package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"faultline/internal/config"
)

const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// app holds what every subcommand shares.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "faultline",
		Short:         "faultline - failure detection experiments for clustered nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML sweep config")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("log-format", "text", "log format: text, json")
	flags.BoolP("quiet", "q", false, "suppress progress output")
	flags.StringP("output", "o", "text", "report format: text, json")
	flags.String("runs-dir", "", "directory holding trial directories")
	flags.String("out-dir", "", "directory for aggregated tables")

	root.AddCommand(newTrialCmd(a), newSweepCmd(a), newAggregateCmd(a))
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	// a missing .env is normal
	_ = godotenv.Load()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code == ExitThresholdFailed {
			fmt.Fprintln(stderr, "\nThreshold check failed!")
			return ee.code
		}
		fmt.Fprintf(stderr, "error: %v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitError
}

// setup binds flags and FAULTLINE_* environment variables into viper and
// builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("faultline")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return withCode(ExitError, err)
	}

	switch f := a.v.GetString("output"); f {
	case "text", "json":
	default:
		return withCode(ExitError, fmt.Errorf("--output must be 'text' or 'json', got %q", f))
	}

	logger, err := newLogger(a.stderr, a.v.GetString("log-format"), a.v.GetBool("verbose"))
	if err != nil {
		return withCode(ExitError, err)
	}
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("--log-format must be 'text' or 'json', got %q", format)
}

// loadConfig reads the config file if one was given, then applies flag and
// environment overrides. Flags win over the environment, which wins over
// the file.
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.Defaults()
	if path := a.v.GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	setString := func(key string, dst *string) {
		if a.v.IsSet(key) {
			*dst = a.v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if a.v.IsSet(key) {
			*dst = a.v.GetInt(key)
		}
	}
	setString("binary", &cfg.Binary)
	setString("scenario", &cfg.Scenario)
	setString("runs-dir", &cfg.RunsDir)
	setString("out-dir", &cfg.OutDir)
	setString("host", &cfg.Host)
	setInt("base-port", &cfg.BasePort)
	setInt("trials", &cfg.Trials)
	if a.v.IsSet("intervals") {
		cfg.Grid.Intervals = a.v.GetIntSlice("intervals")
	}
	if a.v.IsSet("timeouts") {
		cfg.Grid.Timeouts = a.v.GetIntSlice("timeouts")
	}
	if a.v.GetBool("no-probe") {
		cfg.Probe.Enabled = false
	}
	if a.v.GetBool("incremental") {
		cfg.Detection.Incremental = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// addRunFlags registers the flags shared by trial and sweep.
func addRunFlags(flags *pflag.FlagSet) {
	flags.String("binary", "", "node binary to launch")
	flags.String("scenario", "", "scenario name: fd_2node, leader_crash")
	flags.String("host", "", "address the nodes listen on")
	flags.Int("base-port", 0, "port of the first node; later nodes count up")
	flags.Bool("no-probe", false, "disable the availability probe")
	flags.Bool("incremental", false, "follow node logs incrementally instead of rereading them")
}
