// Package eventlog reads and writes the line-delimited JSON event logs that
// cluster nodes and the injector produce.
package eventlog

import (
	"github.com/tidwall/gjson"
)

// Event types written by nodes and by the injector.
const (
	RunStart     = "run_start"
	Fault        = "fault"
	Detection    = "detection"
	ProbeSummary = "probe_summary"
	RunEnd       = "run_end"

	NodeStart     = "node_start"
	NodeStop      = "node_stop"
	HeartbeatSent = "hb_ping_sent"
	HeartbeatAck  = "hb_ack_recv"
	DeclaredDead  = "declared_dead"
	LeaderCheck   = "fd_leader_check"
	StateChange   = "fd_state_change"
)

// Record is one parsed log line. Type, TS and RunID are always populated for
// a record returned by Parse; everything else is reachable through Get.
type Record struct {
	Type   string
	TS     int64
	RunID  string
	NodeID string
	PeerID string
	raw    string
}

// Parse decodes a single log line. It reports false for anything that is
// not a JSON object carrying an event type and a numeric ts_ms. Nodes name
// the type field either "event" or "type".
func Parse(line []byte) (Record, bool) {
	if !gjson.ValidBytes(line) {
		return Record{}, false
	}
	res := gjson.ParseBytes(line)
	if !res.IsObject() {
		return Record{}, false
	}

	typ := res.Get("event")
	if !typ.Exists() {
		typ = res.Get("type")
	}
	if typ.Type != gjson.String || typ.Str == "" {
		return Record{}, false
	}

	ts := res.Get("ts_ms")
	if ts.Type != gjson.Number {
		return Record{}, false
	}

	return Record{
		Type:   typ.Str,
		TS:     ts.Int(),
		RunID:  res.Get("run_id").String(),
		NodeID: res.Get("node_id").String(),
		PeerID: res.Get("peer_id").String(),
		raw:    string(line),
	}, true
}

// Get queries the raw line with a gjson path, e.g. "dead" or "extra.to".
func (r Record) Get(path string) gjson.Result {
	return gjson.Get(r.raw, path)
}

// Raw returns the original line without its trailing newline.
func (r Record) Raw() string {
	return r.raw
}

// Bool reports the boolean at path; anything else, including absence, is false.
func (r Record) Bool(path string) bool {
	res := r.Get(path)
	return res.Type == gjson.True
}

// String returns the value at path rendered as a string, or "" if absent.
func (r Record) String(path string) string {
	return r.Get(path).String()
}
