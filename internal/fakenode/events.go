package fakenode

import (
	"time"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

// eventLog stamps node events. Heartbeat roles name the event under
// "event"; key-value roles use "type".
type eventLog struct {
	w       *eventlog.Writer
	opts    Options
	typeKey string
}

func newEventLog(w *eventlog.Writer, o Options) *eventLog {
	key := "event"
	if o.Role == core.RoleLeader || o.Role == core.RoleFollower {
		key = "type"
	}
	return &eventLog{w: w, opts: o, typeKey: key}
}

func (l *eventLog) emit(event, peerID string, fields map[string]any) {
	rec := map[string]any{
		"ts_ms":          time.Now().UnixMilli(),
		"node_id":        l.opts.ID,
		"run_id":         l.opts.RunID,
		"hb_interval_ms": l.opts.IntervalMs,
		"hb_timeout_ms":  l.opts.TimeoutMs,
		l.typeKey:        event,
	}
	if peerID != "" {
		rec["peer_id"] = peerID
	}
	for k, v := range fields {
		rec[k] = v
	}
	_ = l.w.Append(rec)
}
