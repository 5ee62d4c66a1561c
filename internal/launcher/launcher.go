// Package launcher starts cluster node binaries as OS processes according to
// the node command-line contract and supervises them until they exit.
package launcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"faultline/internal/core"
)

var (
	// ErrBinaryMissing means the node binary cannot be executed at all.
	// Unlike per-trial failures it aborts a sweep before any trial runs.
	ErrBinaryMissing = errors.New("node binary not found")

	// ErrLeaked is returned when a process survives both SIGTERM and SIGKILL.
	ErrLeaked = errors.New("process did not exit")
)

// Launcher spawns node processes from a single binary.
type Launcher struct {
	Binary string
	// Env is appended to the inherited environment of every node.
	Env    []string
	Logger *slog.Logger
}

func New(binary string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{Binary: binary, Logger: logger}
}

// CheckBinary verifies that the node binary exists and is executable.
func (l *Launcher) CheckBinary() error {
	if l.Binary == "" {
		return fmt.Errorf("%w: no binary configured", ErrBinaryMissing)
	}
	if _, err := exec.LookPath(l.Binary); err != nil {
		return fmt.Errorf("%w: %v", ErrBinaryMissing, err)
	}
	return nil
}

// Args renders spec as the node's argument vector.
func Args(spec core.NodeSpec) []string {
	args := []string{
		"--id", spec.ID,
		"--port", strconv.Itoa(spec.Port),
		"--role", string(spec.Role),
	}
	if spec.PeerAddr != "" {
		args = append(args, "--peer_addr", spec.PeerAddr)
	}
	if len(spec.Peers) > 0 {
		peers := make([]string, len(spec.Peers))
		for i, p := range spec.Peers {
			peers[i] = p.String()
		}
		args = append(args, "--peers", strings.Join(peers, ","))
	}
	args = append(args,
		"--hb_interval_ms", strconv.Itoa(spec.IntervalMs),
		"--hb_timeout_ms", strconv.Itoa(spec.TimeoutMs),
		"--log_path", spec.LogPath,
		"--run_id", spec.RunID,
	)
	return append(args, spec.ExtraArgs...)
}

// Launch starts one node. The node's stdout and stderr go to spec.OutPath and
// its event log file is created empty so readers never race its creation.
func (l *Launcher) Launch(spec core.NodeSpec) (*Process, error) {
	for _, p := range []string{spec.LogPath, spec.OutPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("creating node directory: %w", err)
		}
	}
	logf, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("touching node log: %w", err)
	}
	logf.Close()

	out, err := os.OpenFile(spec.OutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening node output: %w", err)
	}

	cmd := exec.Command(l.Binary, Args(spec)...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, "RUN_ID="+spec.RunID)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)

	p := newProcess(spec, cmd, l.Logger)
	if err := cmd.Start(); err != nil {
		out.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrBinaryMissing, err)
		}
		return nil, fmt.Errorf("starting node %s: %w", spec.ID, err)
	}
	p.start(out)

	l.Logger.Debug("node started", "node", spec.ID, "role", spec.Role, "addr", spec.Addr(), "pid", cmd.Process.Pid)
	return p, nil
}

// Spawn adapts Launch to core.Spawner.
func (l *Launcher) Spawn(spec core.NodeSpec) (core.Node, error) {
	p, err := l.Launch(spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}
