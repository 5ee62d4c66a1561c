package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/core"
)

// State is the lifecycle stage of a node process.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Process is a running node. A single reaper goroutine owns cmd.Wait; every
// other method observes the exit through the done channel.
type Process struct {
	spec   core.NodeSpec
	cmd    *exec.Cmd
	logger *slog.Logger

	state atomic.Int32
	done  chan struct{}

	mu      sync.Mutex
	waitErr error
}

func newProcess(spec core.NodeSpec, cmd *exec.Cmd, logger *slog.Logger) *Process {
	return &Process{
		spec:   spec,
		cmd:    cmd,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (p *Process) start(out *os.File) {
	p.state.Store(int32(StateRunning))
	go func() {
		err := p.cmd.Wait()
		out.Close()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		p.state.Store(int32(StateTerminated))
		close(p.done)
		p.logger.Debug("node exited", "node", p.spec.ID, "err", err)
	}()
}

func (p *Process) ID() string   { return p.spec.ID }
func (p *Process) Addr() string { return p.spec.Addr() }
func (p *Process) Pid() int     { return p.cmd.Process.Pid }

func (p *Process) State() State { return State(p.state.Load()) }

// Alive reports whether the process has not yet been reaped. It never blocks.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.done
}

// ExitErr is the result of cmd.Wait, or nil while the process runs.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Kill sends SIGKILL to the node's process group and waits up to confirm for
// the exit to be observed.
func (p *Process) Kill(confirm time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if err := kill(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing node %s: %w", p.spec.ID, err)
	}
	if !p.wait(confirm) {
		return fmt.Errorf("%w: node %s still running %s after SIGKILL", ErrLeaked, p.spec.ID, confirm)
	}
	return nil
}

// Stop asks the node to exit with SIGTERM and escalates to SIGKILL once grace
// has passed.
func (p *Process) Stop(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("SIGTERM failed", "node", p.spec.ID, "err", err)
	}
	if p.wait(grace) {
		return nil
	}
	p.logger.Debug("node ignored SIGTERM, escalating", "node", p.spec.ID)
	if err := kill(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("SIGKILL failed", "node", p.spec.ID, "err", err)
	}
	if p.wait(grace) {
		return nil
	}
	return fmt.Errorf("%w: node %s (pid %d)", ErrLeaked, p.spec.ID, p.Pid())
}

func (p *Process) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// OutputTail returns up to the last n bytes the node wrote to stdout/stderr.
func (p *Process) OutputTail(n int) string {
	f, err := os.Open(p.spec.OutPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if off := info.Size() - int64(n); off > 0 {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return ""
		}
	}
	data, _ := io.ReadAll(io.LimitReader(f, int64(n)))
	return string(data)
}

// WaitListening polls addr until it accepts a TCP connection or within
// elapses.
func WaitListening(ctx context.Context, addr string, within time.Duration) error {
	return core.PollUntil(ctx, 20*time.Millisecond, within, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})
}
