// Package injector runs a single trial: it starts a scenario's nodes, kills
// the target at a recorded instant, waits for a survivor to notice and tears
// everything down again.
package injector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"faultline/internal/core"
	"faultline/internal/launcher"
	"faultline/internal/probe"
	"faultline/internal/recorder"
	"faultline/internal/scenario"
	"faultline/internal/watcher"
)

// ErrNoDetection is the error of a trial in which no survivor declared the
// target dead before the deadline.
var ErrNoDetection = errors.New("no detection before deadline")

// Timing holds the fixed delays of a trial.
type Timing struct {
	// Stagger bounds the wait for a node's port before the next one starts.
	Stagger     time.Duration `yaml:"stagger"`
	Warmup      time.Duration `yaml:"warmup"`
	KillConfirm time.Duration `yaml:"kill_confirm"`
	// Settle lets the peer observe the closed socket before watching starts.
	Settle    time.Duration `yaml:"settle"`
	StopGrace time.Duration `yaml:"stop_grace"`
	// ProbeTail keeps the probe running after the detection.
	ProbeTail time.Duration `yaml:"probe_tail"`
}

func DefaultTiming() Timing {
	return Timing{
		Stagger:     300 * time.Millisecond,
		Warmup:      3 * time.Second,
		KillConfirm: 2 * time.Second,
		Settle:      300 * time.Millisecond,
		StopGrace:   2 * time.Second,
		ProbeTail:   time.Second,
	}
}

// ReadyFunc waits up to within for addr to accept connections.
type ReadyFunc func(ctx context.Context, addr string, within time.Duration) error

type Options struct {
	Spawner  core.Spawner
	Watcher  *watcher.Watcher
	Clock    core.Clock
	Logger   *slog.Logger
	Timing   Timing
	Host     string
	BasePort int

	// Probe enables the availability probe for scenarios that define one.
	Probe       bool
	ProbePeriod time.Duration
	HTTPClient  *http.Client

	// WaitReady defaults to launcher.WaitListening.
	WaitReady ReadyFunc
}

type Injector struct {
	opts Options
}

func New(opts Options) *Injector {
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Watcher == nil {
		opts.Watcher = watcher.New(watcher.DefaultPolicy(), opts.Logger)
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.BasePort == 0 {
		opts.BasePort = 8001
	}
	if opts.ProbePeriod == 0 {
		opts.ProbePeriod = 50 * time.Millisecond
	}
	if opts.WaitReady == nil {
		opts.WaitReady = launcher.WaitListening
	}
	return &Injector{opts: opts}
}

// Trial is one execution of a scenario under fixed parameters.
type Trial struct {
	ID       string
	Scenario scenario.Scenario
	Params   core.Params
	Dir      string
	SweepID  string
}

// NewTrial names a trial after its configuration and the current wall-clock
// millisecond and places it under runsDir. When a trial of the same
// configuration already took that millisecond, a sequence suffix keeps the
// id and directory unique.
func NewTrial(runsDir string, sc scenario.Scenario, p core.Params, clock core.Clock, sweepID string) Trial {
	base := core.TrialID(sc.Name, p, core.WallMillis(clock))
	id := base
	for seq := 2; exists(filepath.Join(runsDir, id)); seq++ {
		id = base + "_" + strconv.Itoa(seq)
	}
	return Trial{
		ID:       id,
		Scenario: sc,
		Params:   p,
		Dir:      filepath.Join(runsDir, id),
		SweepID:  sweepID,
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Result is the outcome of one trial. Failures are data: Run never returns
// an error of its own.
type Result struct {
	TrialID   string
	Status    recorder.Status
	FaultTS   int64
	Detection *watcher.Detection
	Probe     *probe.Summary
	Err       error
	Warnings  []string
	Leaked    []string
	States    []recorder.StateTiming
}

// Latency is the detection latency of a detected trial.
func (r Result) Latency() (int64, bool) {
	if r.Status != recorder.StatusDetected || r.Detection == nil {
		return 0, false
	}
	return r.Detection.LatencyMs, true
}

// Run executes trial. Whatever happens, every started node is stopped and the
// manifest is finalized before Run returns.
func (in *Injector) Run(ctx context.Context, trial Trial) (res Result) {
	r := &run{
		in:     in,
		trial:  trial,
		logger: in.opts.Logger.With("trial", trial.ID),
		res:    &res,
	}
	res.TrialID = trial.ID
	r.enter(StateIdle)

	rec, err := recorder.Open(trial.Dir, trial.ID, in.opts.Clock)
	if err != nil {
		res.Status = recorder.StatusFailed
		res.Err = err
		r.enter(StateDone)
		return res
	}
	r.rec = rec

	defer func() {
		if p := recover(); p != nil {
			res.Status = recorder.StatusFailed
			res.Err = fmt.Errorf("trial panicked: %v", p)
		}
		r.teardown()
		r.enter(StateDone)
		r.finalize()
	}()

	res.Status, res.Err = r.execute(ctx)
	return res
}
