package probe

import "faultline/internal/eventlog"

// Summary counts probe outcomes. Downtime is the span between the first and
// the last failed PUT. It is nil, and null in JSON, when no PUT failed; a
// single failed PUT gives 0.
type Summary struct {
	PutOK        int    `json:"put_ok"`
	PutFail      int    `json:"put_fail"`
	GetOK        int    `json:"get_ok"`
	GetFail      int    `json:"get_fail"`
	FirstPutFail *int64 `json:"first_put_fail_ts_ms,omitempty"`
	LastPutFail  *int64 `json:"last_put_fail_ts_ms,omitempty"`
	DowntimeMs   *int64 `json:"downtime_ms"`
}

func Summarize(events []Event) Summary {
	var s Summary
	for _, ev := range events {
		switch ev.Op {
		case OpPut:
			if ev.OK {
				s.PutOK++
				continue
			}
			s.PutFail++
			ts := ev.TS
			if s.FirstPutFail == nil || ts < *s.FirstPutFail {
				s.FirstPutFail = &ts
			}
			if s.LastPutFail == nil || ts > *s.LastPutFail {
				last := ts
				s.LastPutFail = &last
			}
		case OpGet:
			if ev.OK {
				s.GetOK++
			} else {
				s.GetFail++
			}
		}
	}
	if s.FirstPutFail != nil {
		d := *s.LastPutFail - *s.FirstPutFail
		s.DowntimeMs = &d
	}
	return s
}

// SummarizeFile rebuilds a Summary from a client_events.jsonl file.
func SummarizeFile(path string) (Summary, error) {
	var events []Event
	err := eventlog.Scan(path, func(rec eventlog.Record) bool {
		if rec.Type != EventClientOp {
			return true
		}
		events = append(events, Event{
			TS: rec.TS,
			Op: Op(rec.String("op")),
			OK: rec.Bool("ok"),
		})
		return true
	})
	return Summarize(events), err
}
