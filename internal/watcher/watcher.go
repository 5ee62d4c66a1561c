// Package watcher decides when a fault was detected by reading the surviving
// nodes' event logs.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

// Policy bounds how long the watcher looks for a detection.
type Policy struct {
	// K scales the heartbeat timeout into the detection deadline.
	K      float64
	Floor  time.Duration
	Margin time.Duration
	// Tolerance admits events stamped slightly before the fault, since node
	// and injector clocks are read in different processes.
	Tolerance    time.Duration
	PollInterval time.Duration
	// Grace is a single extra window after the deadline for a node that was
	// mid-write when the deadline passed.
	Grace time.Duration
	// Incremental follows logs with a byte cursor instead of rereading them
	// on every poll.
	Incremental bool
}

func DefaultPolicy() Policy {
	return Policy{
		K:            6.0,
		Floor:        2 * time.Second,
		Margin:       time.Second,
		Tolerance:    100 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Grace:        500 * time.Millisecond,
	}
}

// Deadline is max(Floor, K*timeout + Margin).
func (p Policy) Deadline(timeout time.Duration) time.Duration {
	d := time.Duration(p.K*float64(timeout)) + p.Margin
	if d < p.Floor {
		return p.Floor
	}
	return d
}

// Source is a candidate log, identified by the node that writes it.
type Source struct {
	NodeID string
	Path   string
}

type Request struct {
	RunID     string
	FaultTS   int64
	Sources   []Source
	Signature Signature
	// Timeout is the heartbeat timeout of the trial, used for the deadline.
	Timeout time.Duration
}

// Detection is the first qualifying event found for a request.
type Detection struct {
	TS        int64
	LatencyMs int64
	NodeID    string
	Event     string
	Polls     int
	InGrace   bool
	Deadline  time.Duration
}

type Watcher struct {
	Policy Policy
	Logger *slog.Logger
}

func New(policy Policy, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{Policy: policy, Logger: logger}
}

// Qualifies reports whether rec can count as the detection of req's fault:
// it must belong to the same run, match the signature and not predate the
// fault by more than the tolerance.
func (w *Watcher) Qualifies(req Request, rec eventlog.Record) bool {
	if rec.RunID != req.RunID {
		return false
	}
	if rec.TS < req.FaultTS-w.Policy.Tolerance.Milliseconds() {
		return false
	}
	return req.Signature.Match(rec)
}

// Watch polls the request's sources until a qualifying event appears, the
// deadline and grace window pass, or ctx is done. Among the sources read in
// one poll the earliest event wins.
func (w *Watcher) Watch(ctx context.Context, req Request) (Detection, bool) {
	deadline := w.Policy.Deadline(req.Timeout)
	sc := w.newScanner(req)

	var (
		det   Detection
		found bool
		polls int
	)
	check := func() bool {
		polls++
		det, found = sc.poll()
		return found
	}

	err := core.PollUntil(ctx, w.Policy.PollInterval, deadline, check)
	inGrace := false
	if !found && errors.Is(err, core.ErrPollDeadline) && w.Policy.Grace > 0 {
		w.Logger.Debug("detection deadline passed, re-polling", "run", req.RunID, "deadline", deadline, "grace", w.Policy.Grace)
		_ = core.PollUntil(ctx, w.Policy.PollInterval, w.Policy.Grace, check)
		inGrace = found
	}

	if !found {
		w.Logger.Debug("no detection", "run", req.RunID, "polls", polls, "deadline", deadline)
		return Detection{Polls: polls, Deadline: deadline}, false
	}
	det.LatencyMs = det.TS - req.FaultTS
	det.Polls = polls
	det.InGrace = inGrace
	det.Deadline = deadline
	return det, true
}

// scanner performs one poll over every source.
type scanner struct {
	w     *Watcher
	req   Request
	tails []*eventlog.Tail
}

func (w *Watcher) newScanner(req Request) *scanner {
	sc := &scanner{w: w, req: req}
	if w.Policy.Incremental {
		for _, src := range req.Sources {
			sc.tails = append(sc.tails, eventlog.NewTail(src.Path))
		}
	}
	return sc
}

func (sc *scanner) poll() (Detection, bool) {
	var (
		best  Detection
		found bool
	)
	for i, src := range sc.req.Sources {
		rec, ok := sc.first(i, src)
		if !ok {
			continue
		}
		if !found || rec.TS < best.TS {
			best = Detection{TS: rec.TS, NodeID: src.NodeID, Event: rec.Type}
			found = true
		}
	}
	return best, found
}

// first returns the earliest qualifying record of one source. Logs are
// monotonic per file, so the first match in file order is the earliest.
func (sc *scanner) first(i int, src Source) (eventlog.Record, bool) {
	var (
		hit eventlog.Record
		ok  bool
	)
	if sc.tails != nil {
		recs, err := sc.tails[i].Next()
		if err != nil {
			sc.w.Logger.Debug("reading node log", "path", src.Path, "err", err)
			return hit, false
		}
		for _, rec := range recs {
			if sc.w.Qualifies(sc.req, rec) {
				return rec, true
			}
		}
		return hit, false
	}

	err := eventlog.Scan(src.Path, func(rec eventlog.Record) bool {
		if sc.w.Qualifies(sc.req, rec) {
			hit, ok = rec, true
			return false
		}
		return true
	})
	if err != nil {
		sc.w.Logger.Debug("reading node log", "path", src.Path, "err", err)
	}
	return hit, ok
}
