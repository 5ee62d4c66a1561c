package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

// ErrNoManifest means a directory holds neither a manifest nor a fault file.
var ErrNoManifest = errors.New("no trial manifest")

// Manifest is a trial read back from disk. Any record may be missing if the
// harness crashed part way through the trial.
type Manifest struct {
	Dir       string
	Start     *RunStartRecord
	Fault     *FaultRecord
	Detection *DetectionRecord
	Probe     *ProbeSummaryRecord
	End       *RunEndRecord
}

// LoadManifest reads the manifest in dir. Malformed and partial lines are
// skipped. If the manifest has no fault line, fault.json is consulted.
func LoadManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	faultPath := filepath.Join(dir, FaultFile)
	if !exists(manifestPath) && !exists(faultPath) {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
	}

	m := &Manifest{Dir: dir}
	err := eventlog.Scan(manifestPath, func(rec eventlog.Record) bool {
		raw := []byte(rec.Raw())
		switch rec.Type {
		case eventlog.RunStart:
			var v RunStartRecord
			if json.Unmarshal(raw, &v) == nil {
				m.Start = &v
			}
		case eventlog.Fault:
			var v FaultRecord
			if json.Unmarshal(raw, &v) == nil {
				m.Fault = &v
			}
		case eventlog.Detection:
			var v DetectionRecord
			if json.Unmarshal(raw, &v) == nil {
				m.Detection = &v
			}
		case eventlog.ProbeSummary:
			var v ProbeSummaryRecord
			if json.Unmarshal(raw, &v) == nil {
				m.Probe = &v
			}
		case eventlog.RunEnd:
			var v RunEndRecord
			if json.Unmarshal(raw, &v) == nil {
				m.End = &v
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if m.Fault == nil {
		if data, err := os.ReadFile(faultPath); err == nil {
			var v FaultRecord
			if json.Unmarshal(data, &v) == nil {
				m.Fault = &v
			}
		}
	}
	return m, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func (m *Manifest) RunID() string {
	switch {
	case m.Start != nil:
		return m.Start.RunID
	case m.Fault != nil:
		return m.Fault.RunID
	}
	return filepath.Base(m.Dir)
}

func (m *Manifest) Params() (core.Params, bool) {
	if m.Start == nil {
		return core.Params{}, false
	}
	return m.Start.Params, true
}

// Latency returns the trial's detection latency in milliseconds. Only a
// valid, non-negative latency is reported.
func (m *Manifest) Latency() (int64, bool) {
	d := m.Detection
	if d == nil || !d.Valid || d.LatencyMs == nil || *d.LatencyMs < 0 {
		return 0, false
	}
	return *d.LatencyMs, true
}

// Status is the recorded outcome, or StatusFailed for a trial that never
// finalized.
func (m *Manifest) Status() Status {
	if m.End == nil {
		return StatusFailed
	}
	return m.End.Status
}

// Downtime returns the probe's observed write downtime, if one was measured.
func (m *Manifest) Downtime() (int64, bool) {
	if m.Probe == nil || m.Probe.DowntimeMs == nil {
		return 0, false
	}
	return *m.Probe.DowntimeMs, true
}
