// Package config handles YAML sweep configuration parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"faultline/internal/aggregate"
	"faultline/internal/injector"
	"faultline/internal/scenario"
	"faultline/internal/watcher"
)

// Config is the root configuration structure.
type Config struct {
	Binary     string                `yaml:"binary"`
	Scenario   string                `yaml:"scenario"`
	RunsDir    string                `yaml:"runs_dir"`
	OutDir     string                `yaml:"out_dir"`
	Host       string                `yaml:"host"`
	BasePort   int                   `yaml:"base_port"`
	Trials     int                   `yaml:"trials"`
	Grid       Grid                  `yaml:"grid"`
	Timing     injector.Timing       `yaml:"timing"`
	Detection  DetectionConfig       `yaml:"detection"`
	Probe      ProbeConfig           `yaml:"probe"`
	Thresholds *aggregate.Thresholds `yaml:"thresholds,omitempty"`
}

// Grid is the parameter space of a sweep. Every combination of interval,
// timeout and knob values is one cell.
type Grid struct {
	Intervals []int            `yaml:"hb_interval_ms"`
	Timeouts  []int            `yaml:"hb_timeout_ms"`
	Knobs     map[string][]int `yaml:"knobs,omitempty"`
	// SkipInvalid drops cells whose timeout is shorter than their interval.
	SkipInvalid bool `yaml:"skip_invalid"`
}

// DetectionConfig mirrors watcher.Policy.
type DetectionConfig struct {
	K            float64       `yaml:"k"`
	Floor        time.Duration `yaml:"floor"`
	Margin       time.Duration `yaml:"margin"`
	Tolerance    time.Duration `yaml:"tolerance"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Grace        time.Duration `yaml:"grace"`
	Incremental  bool          `yaml:"incremental"`
}

func (d DetectionConfig) Policy() watcher.Policy {
	return watcher.Policy{
		K:            d.K,
		Floor:        d.Floor,
		Margin:       d.Margin,
		Tolerance:    d.Tolerance,
		PollInterval: d.PollInterval,
		Grace:        d.Grace,
		Incremental:  d.Incremental,
	}
}

// ProbeConfig controls the client load driven during leader-crash trials.
type ProbeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Period         time.Duration `yaml:"period"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Defaults returns a configuration that runs the two-node scenario over the
// default grid.
func Defaults() *Config {
	p := watcher.DefaultPolicy()
	return &Config{
		Binary:   "./bin/node",
		Scenario: "fd_2node",
		RunsDir:  "runs",
		OutDir:   "results",
		Host:     "127.0.0.1",
		BasePort: 8001,
		Trials:   5,
		Grid: Grid{
			Intervals:   []int{50, 100, 200},
			Timeouts:    []int{300, 600, 1200},
			SkipInvalid: true,
		},
		Timing: injector.DefaultTiming(),
		Detection: DetectionConfig{
			K:            p.K,
			Floor:        p.Floor,
			Margin:       p.Margin,
			Tolerance:    p.Tolerance,
			PollInterval: p.PollInterval,
			Grace:        p.Grace,
			Incremental:  p.Incremental,
		},
		Probe: ProbeConfig{
			Enabled:        true,
			Period:         50 * time.Millisecond,
			RequestTimeout: 500 * time.Millisecond,
		},
	}
}

// LoadConfig reads and parses a YAML configuration file. Fields absent from
// the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Binary == "" {
		errs = append(errs, errors.New("binary is required"))
	}
	if _, err := scenario.Lookup(c.Scenario); err != nil {
		errs = append(errs, err)
	}
	if c.RunsDir == "" {
		errs = append(errs, errors.New("runs_dir is required"))
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("out_dir is required"))
	}
	if c.BasePort <= 0 || c.BasePort > 65535-16 {
		errs = append(errs, fmt.Errorf("base_port %d out of range", c.BasePort))
	}
	if c.Trials < 1 {
		errs = append(errs, fmt.Errorf("trials must be at least 1, got %d", c.Trials))
	}
	if len(c.Grid.Intervals) == 0 {
		errs = append(errs, errors.New("grid.hb_interval_ms must not be empty"))
	}
	if len(c.Grid.Timeouts) == 0 {
		errs = append(errs, errors.New("grid.hb_timeout_ms must not be empty"))
	}
	for _, v := range c.Grid.Intervals {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("grid.hb_interval_ms: %d must be positive", v))
		}
	}
	for _, v := range c.Grid.Timeouts {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("grid.hb_timeout_ms: %d must be positive", v))
		}
	}
	for name, values := range c.Grid.Knobs {
		if len(values) == 0 {
			errs = append(errs, fmt.Errorf("grid.knobs.%s must not be empty", name))
		}
	}
	if c.Detection.K <= 0 {
		errs = append(errs, fmt.Errorf("detection.k must be positive, got %v", c.Detection.K))
	}
	if c.Detection.PollInterval <= 0 {
		errs = append(errs, errors.New("detection.poll_interval must be positive"))
	}
	if c.Probe.Enabled && c.Probe.Period < 0 {
		errs = append(errs, errors.New("probe.period must not be negative"))
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	return errors.Join(errs...)
}
