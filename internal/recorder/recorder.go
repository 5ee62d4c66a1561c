// Package recorder persists the outcome of a trial in its run directory and
// reads it back for aggregation.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

const (
	ManifestFile     = "injector.jsonl"
	FaultFile        = "fault.json"
	ClientEventsFile = "client_events.jsonl"
)

var (
	// ErrFinalized is returned for any write after Finalize.
	ErrFinalized = errors.New("trial already finalized")
	// ErrTrialExists is returned by Open when dir already holds a manifest.
	ErrTrialExists = errors.New("trial directory already in use")
)

// Recorder appends the trial manifest. It is safe for concurrent use.
type Recorder struct {
	dir   string
	runID string
	clock core.Clock
	w     *eventlog.Writer

	mu        sync.Mutex
	finalized bool
}

// Open creates dir if needed and starts the manifest of run runID. A
// directory that already holds a manifest belongs to another trial.
func Open(dir, runID string, clock core.Clock) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating trial directory: %w", err)
	}
	manifest := filepath.Join(dir, ManifestFile)
	if _, err := os.Stat(manifest); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrialExists, dir)
	}
	w, err := eventlog.Create(manifest)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Recorder{dir: dir, runID: runID, clock: clock, w: w}, nil
}

// Path joins name onto the trial directory.
func (r *Recorder) Path(name string) string {
	return filepath.Join(r.dir, name)
}

func (r *Recorder) append(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	return r.w.Append(v)
}

func (r *Recorder) RunStart(rec RunStartRecord) error {
	rec.Event = eventlog.RunStart
	rec.TS = core.WallMillis(r.clock)
	rec.RunID = r.runID
	return r.append(rec)
}

// Fault stamps the fault with the current wall-clock time and makes it
// durable: fault.json is fsynced and renamed into place and the manifest
// line is fsynced too. Callers must not signal the target before Fault
// returns.
func (r *Recorder) Fault(target string) (FaultRecord, error) {
	rec := FaultRecord{
		Event:  eventlog.Fault,
		TS:     core.WallMillis(r.clock),
		RunID:  r.runID,
		Kind:   FaultKill,
		Target: target,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return rec, ErrFinalized
	}
	if err := writeFileSync(r.Path(FaultFile), rec); err != nil {
		return rec, fmt.Errorf("persisting fault: %w", err)
	}
	if err := r.w.Append(rec); err != nil {
		return rec, err
	}
	if err := r.w.Sync(); err != nil {
		return rec, fmt.Errorf("syncing manifest: %w", err)
	}
	return rec, nil
}

func (r *Recorder) Detection(rec DetectionRecord) error {
	rec.Event = eventlog.Detection
	rec.TS = core.WallMillis(r.clock)
	rec.RunID = r.runID
	return r.append(rec)
}

func (r *Recorder) ProbeSummary(rec ProbeSummaryRecord) error {
	rec.Event = eventlog.ProbeSummary
	rec.TS = core.WallMillis(r.clock)
	rec.RunID = r.runID
	return r.append(rec)
}

// Finalize writes the run_end line and closes the manifest. It succeeds once;
// every later call returns ErrFinalized.
func (r *Recorder) Finalize(rec RunEndRecord) error {
	rec.Event = eventlog.RunEnd
	rec.TS = core.WallMillis(r.clock)
	rec.RunID = r.runID

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	r.finalized = true

	err := r.w.Append(rec)
	if serr := r.w.Sync(); err == nil {
		err = serr
	}
	if cerr := r.w.Close(); err == nil {
		err = cerr
	}
	return err
}

func writeFileSync(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
