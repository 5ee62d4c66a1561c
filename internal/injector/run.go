package injector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"faultline/internal/core"
	"faultline/internal/eventlog"
	"faultline/internal/probe"
	"faultline/internal/recorder"
	"faultline/internal/scenario"
	"faultline/internal/watcher"
)

const outputTailBytes = 2048

// run is the mutable state of one Injector.Run call.
type run struct {
	in     *Injector
	trial  Trial
	logger *slog.Logger
	res    *Result
	rec    *recorder.Recorder

	nodes []core.Node

	probe       *probe.Probe
	probeCancel context.CancelFunc
	probeOut    *eventlog.Writer
}

func (r *run) enter(s State) {
	ts := core.WallMillis(r.in.opts.Clock)
	r.res.States = append(r.res.States, recorder.StateTiming{State: s.String(), TS: ts})
	r.logger.Debug("state", "state", s.String(), "ts_ms", ts)
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.res.Warnings = append(r.res.Warnings, msg)
	r.logger.Warn(msg)
}

func (r *run) node(id string) core.Node {
	for _, n := range r.nodes {
		if n.ID() == id {
			return n
		}
	}
	return nil
}

func (r *run) execute(ctx context.Context) (recorder.Status, error) {
	opts := r.in.opts
	sc := r.trial.Scenario
	specs := sc.Specs(opts.Host, opts.BasePort, r.trial.Params, r.trial.ID, r.trial.Dir)

	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.ID
	}
	if err := r.rec.RunStart(recorder.RunStartRecord{
		Scenario: sc.Name,
		SweepID:  r.trial.SweepID,
		Params:   r.trial.Params,
		Nodes:    ids,
		Target:   sc.Target,
	}); err != nil {
		return recorder.StatusFailed, fmt.Errorf("recording run start: %w", err)
	}

	r.enter(StateNodesStarting)
	for i, spec := range specs {
		if i > 0 {
			prev := specs[i-1]
			if err := opts.WaitReady(ctx, prev.Addr(), opts.Timing.Stagger); err != nil {
				if ctx.Err() != nil {
					return recorder.StatusFailed, ctx.Err()
				}
				r.logger.Debug("node not listening within stagger", "node", prev.ID, "addr", prev.Addr())
			}
		}
		node, err := opts.Spawner.Spawn(spec)
		if err != nil {
			return recorder.StatusFailed, fmt.Errorf("starting node %s: %w", spec.ID, err)
		}
		r.nodes = append(r.nodes, node)
	}

	r.enter(StateWarmup)
	r.startProbe(ctx)
	if err := core.Sleep(ctx, opts.Timing.Warmup); err != nil {
		return recorder.StatusFailed, err
	}
	r.healthCheck()

	r.enter(StateInjecting)
	target := r.node(sc.Target)
	if target == nil {
		return recorder.StatusFailed, fmt.Errorf("target node %s was not started", sc.Target)
	}
	fault, err := r.rec.Fault(target.ID())
	if err != nil {
		return recorder.StatusFailed, fmt.Errorf("recording fault: %w", err)
	}
	r.res.FaultTS = fault.TS
	r.logger.Info("fault injected", "target", target.ID(), "ts_ms", fault.TS)
	if err := target.Kill(opts.Timing.KillConfirm); err != nil {
		r.warn("kill of %s not confirmed: %v", target.ID(), err)
	}
	if err := core.Sleep(ctx, opts.Timing.Settle); err != nil {
		return recorder.StatusFailed, err
	}

	r.enter(StateAwaitingDetection)
	det, ok := opts.Watcher.Watch(ctx, watcher.Request{
		RunID:     r.trial.ID,
		FaultTS:   fault.TS,
		Sources:   sc.Sources(r.trial.Dir),
		Signature: sc.Signature,
		Timeout:   r.trial.Params.Timeout(),
	})
	r.stopProbe(ctx, true)

	if !ok {
		if ctx.Err() != nil {
			return recorder.StatusFailed, ctx.Err()
		}
		r.recordDetection(det, false)
		return recorder.StatusMissed, ErrNoDetection
	}
	r.res.Detection = &det
	if det.LatencyMs < 0 {
		r.recordDetection(det, false)
		return recorder.StatusInvalid, fmt.Errorf("detection at %d precedes fault at %d", det.TS, fault.TS)
	}
	r.recordDetection(det, true)
	r.logger.Info("fault detected", "node", det.NodeID, "event", det.Event, "latency_ms", det.LatencyMs)
	return recorder.StatusDetected, nil
}

func (r *run) recordDetection(det watcher.Detection, valid bool) {
	rec := recorder.DetectionRecord{
		Valid:      valid,
		Node:       det.NodeID,
		Matched:    det.Event,
		InGrace:    det.InGrace,
		DeadlineMs: det.Deadline.Milliseconds(),
		Polls:      det.Polls,
	}
	if det.TS != 0 {
		rec.DetectTS = recorder.Int64(det.TS)
		rec.LatencyMs = recorder.Int64(det.LatencyMs)
	}
	if err := r.rec.Detection(rec); err != nil {
		r.warn("recording detection: %v", err)
	}
}

// healthCheck runs after warmup. Problems are warnings; the trial goes on.
func (r *run) healthCheck() {
	for _, n := range r.nodes {
		if !n.Alive() {
			r.warn("node %s exited during warmup, output: %q", n.ID(), n.OutputTail(outputTailBytes))
		}
	}

	sc := r.trial.Scenario
	if len(sc.WarmupMarkers) == 0 {
		return
	}
	for _, id := range sc.Watch {
		found := false
		err := eventlog.Scan(scenario.LogPath(r.trial.Dir, id), func(rec eventlog.Record) bool {
			if rec.RunID == r.trial.ID && slices.Contains(sc.WarmupMarkers, rec.Type) {
				found = true
				return false
			}
			return true
		})
		if err != nil {
			r.warn("reading %s log: %v", id, err)
			continue
		}
		if !found {
			tail := ""
			if n := r.node(id); n != nil {
				tail = n.OutputTail(outputTailBytes)
			}
			r.warn("node %s logged none of %v during warmup, output: %q", id, sc.WarmupMarkers, tail)
		}
	}
}

func (r *run) startProbe(ctx context.Context) {
	opts := r.in.opts
	plan := r.trial.Scenario.Probe
	if !opts.Probe || plan == nil {
		return
	}
	out, err := eventlog.Create(r.rec.Path(recorder.ClientEventsFile))
	if err != nil {
		r.warn("probe disabled: %v", err)
		return
	}
	sc := r.trial.Scenario
	r.probeOut = out
	r.probe = probe.New(probe.Config{
		RunID:   r.trial.ID,
		PutNode: plan.PutNode,
		PutAddr: sc.Addr(opts.Host, opts.BasePort, plan.PutNode),
		GetNode: plan.GetNode,
		GetAddr: sc.Addr(opts.Host, opts.BasePort, plan.GetNode),
		Period:  opts.ProbePeriod,
	}, opts.HTTPClient, opts.Clock, out, r.logger)

	pctx, cancel := context.WithCancel(ctx)
	r.probeCancel = cancel
	r.probe.Start(pctx)
}

// stopProbe ends the probe, optionally after the configured tail period, and
// records its summary.
func (r *run) stopProbe(ctx context.Context, tail bool) {
	if r.probe == nil {
		return
	}
	if tail {
		_ = core.Sleep(ctx, r.in.opts.Timing.ProbeTail)
	}
	r.probeCancel()
	s := r.probe.Wait()
	r.probe = nil
	if err := r.probeOut.Close(); err != nil {
		r.warn("closing probe log: %v", err)
	}

	r.res.Probe = &s
	if err := r.rec.ProbeSummary(recorder.ProbeSummaryRecord{
		PutOK:      s.PutOK,
		PutFail:    s.PutFail,
		GetOK:      s.GetOK,
		GetFail:    s.GetFail,
		DowntimeMs: s.DowntimeMs,
	}); err != nil {
		r.warn("recording probe summary: %v", err)
	}
}

func (r *run) teardown() {
	r.enter(StateTeardown)
	r.stopProbe(context.Background(), false)
	for i := len(r.nodes) - 1; i >= 0; i-- {
		n := r.nodes[i]
		if err := n.Stop(r.in.opts.Timing.StopGrace); err != nil {
			r.res.Leaked = append(r.res.Leaked, n.ID())
			r.warn("node %s leaked: %v", n.ID(), err)
		}
	}
}

func (r *run) finalize() {
	end := recorder.RunEndRecord{
		Status:   r.res.Status,
		Warnings: r.res.Warnings,
		Leaked:   r.res.Leaked,
		States:   r.res.States,
	}
	if r.res.Err != nil {
		end.Error = r.res.Err.Error()
	}
	if err := r.rec.Finalize(end); err != nil && !errors.Is(err, recorder.ErrFinalized) {
		r.logger.Error("finalizing manifest", "err", err)
	}
}
