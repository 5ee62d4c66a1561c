// Package probe measures client-visible availability during a trial by
// writing to one node and reading from another at a fixed pace.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

// Config places and paces the probe.
type Config struct {
	RunID   string
	PutNode string
	PutAddr string
	GetNode string
	GetAddr string
	Key     string
	Period  time.Duration
	// RequestTimeout bounds each request.
	RequestTimeout time.Duration
}

type Probe struct {
	cfg     Config
	client  *http.Client
	clock   core.Clock
	limiter *Limiter
	out     *eventlog.Writer
	logger  *slog.Logger

	summary Summary
	done    chan struct{}
}

// New builds a probe that appends its events to out. A nil client gets one
// with cfg.RequestTimeout.
func New(cfg Config, client *http.Client, clock core.Clock, out *eventlog.Writer, logger *slog.Logger) *Probe {
	if cfg.Key == "" {
		cfg.Key = "x"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 500 * time.Millisecond
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		limiter: NewLimiter(cfg.Period),
		out:     out,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start runs the probe loop in its own goroutine until ctx is cancelled.
// Wait returns the summary once the loop has exited.
func (p *Probe) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		p.summary = p.Run(ctx)
	}()
}

func (p *Probe) Wait() Summary {
	<-p.done
	return p.summary
}

// Run issues one PUT and one GET per round until ctx is done.
func (p *Probe) Run(ctx context.Context) Summary {
	var events []Event
	start := core.WallMillis(p.clock)
	for round := 0; ; round++ {
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		rid := p.cfg.RunID + "-" + strconv.FormatInt(core.WallMillis(p.clock)-start, 10)

		put, ok := p.request(ctx, OpPut, p.cfg.PutNode, p.cfg.PutAddr, "/put", rid,
			kvRequest{Key: p.cfg.Key, Value: fmt.Sprintf("v%d", round)})
		if !ok {
			break
		}
		events = append(events, put)

		get, ok := p.request(ctx, OpGet, p.cfg.GetNode, p.cfg.GetAddr, "/get", rid+"-g",
			kvRequest{Key: p.cfg.Key})
		if !ok {
			break
		}
		events = append(events, get)
	}
	s := Summarize(events)
	p.logger.Debug("probe finished", "run", p.cfg.RunID, "put_ok", s.PutOK, "put_fail", s.PutFail,
		"get_ok", s.GetOK, "get_fail", s.GetFail)
	return s
}

// request performs one operation. It reports false if ctx ended while the
// request was in flight; such a request is neither logged nor counted.
func (p *Probe) request(ctx context.Context, op Op, node, addr, path, rid string, body kvRequest) (Event, bool) {
	ev := Event{Event: EventClientOp, RunID: p.cfg.RunID, Op: op, Node: node, RID: rid}
	status, err := do(ctx, p.client, "http://"+addr, path, rid, body)
	if ctx.Err() != nil {
		return ev, false
	}
	ev.TS = core.WallMillis(p.clock)
	ev.Status = status
	ev.OK = err == nil && status == http.StatusOK
	if err != nil {
		ev.Error = err.Error()
	}
	if p.out != nil {
		if werr := p.out.Append(ev); werr != nil {
			p.logger.Debug("writing probe event", "err", werr)
		}
	}
	return ev, true
}
