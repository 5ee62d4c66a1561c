package recorder

import "faultline/internal/core"

// Status is the outcome of a finished trial.
type Status string

const (
	StatusDetected Status = "detected"
	StatusMissed   Status = "missed"
	// StatusInvalid is a detection stamped before the fault.
	StatusInvalid Status = "invalid"
	StatusFailed  Status = "failed"
)

// FaultKill is the only fault kind injected today.
const FaultKill = "kill"

type RunStartRecord struct {
	Event    string      `json:"event"`
	TS       int64       `json:"ts_ms"`
	RunID    string      `json:"run_id"`
	Scenario string      `json:"scenario"`
	SweepID  string      `json:"sweep_id,omitempty"`
	Params   core.Params `json:"params"`
	Nodes    []string    `json:"nodes,omitempty"`
	Target   string      `json:"target,omitempty"`
}

type FaultRecord struct {
	Event  string `json:"event"`
	TS     int64  `json:"ts_ms"`
	RunID  string `json:"run_id"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// DetectionRecord is written for every trial that reached the detection
// stage. DetectTS and LatencyMs are null when nothing was detected.
type DetectionRecord struct {
	Event      string `json:"event"`
	TS         int64  `json:"ts_ms"`
	RunID      string `json:"run_id"`
	DetectTS   *int64 `json:"detect_ts_ms"`
	LatencyMs  *int64 `json:"detection_latency_ms"`
	Valid      bool   `json:"valid"`
	Node       string `json:"node_id,omitempty"`
	Matched    string `json:"matched,omitempty"`
	InGrace    bool   `json:"in_grace,omitempty"`
	DeadlineMs int64  `json:"deadline_ms"`
	Polls      int    `json:"polls"`
}

type ProbeSummaryRecord struct {
	Event      string `json:"event"`
	TS         int64  `json:"ts_ms"`
	RunID      string `json:"run_id"`
	PutOK      int    `json:"put_ok"`
	PutFail    int    `json:"put_fail"`
	GetOK      int    `json:"get_ok"`
	GetFail    int    `json:"get_fail"`
	DowntimeMs *int64 `json:"downtime_ms"`
}

// StateTiming is the wall-clock instant the injector entered a state.
type StateTiming struct {
	State string `json:"state"`
	TS    int64  `json:"ts_ms"`
}

type RunEndRecord struct {
	Event    string        `json:"event"`
	TS       int64         `json:"ts_ms"`
	RunID    string        `json:"run_id"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Leaked   []string      `json:"leaked,omitempty"`
	States   []StateTiming `json:"states,omitempty"`
}

// Int64 returns a pointer to v, for the nullable record fields.
func Int64(v int64) *int64 {
	return &v
}
