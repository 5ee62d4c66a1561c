// Package fakenode is a small implementation of the cluster node command
// line contract. It is used by tests and for dry runs of the harness without
// a real cluster binary.
package fakenode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

// Run serves role o.Role until ctx is done.
func Run(ctx context.Context, o Options) error {
	w, err := eventlog.Create(o.LogPath)
	if err != nil {
		return err
	}
	defer w.Close()
	log := newEventLog(w, o)

	switch o.Role {
	case core.RoleMonitored:
		err = runMonitored(ctx, o, log)
	case core.RoleDetector:
		err = runDetector(ctx, o, log)
	case core.RoleLeader, core.RoleFollower:
		err = runKV(ctx, o, log)
	default:
		err = fmt.Errorf("unknown role %q", o.Role)
	}
	if err != nil {
		return err
	}
	log.emit(eventlog.NodeStop, "", nil)
	return nil
}

// Main is the entry point of the node binary. It returns the process exit
// code.
func Main(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	o, err := ParseArgs(args)
	if err != nil {
		logger.Error("invalid arguments", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("node starting", "id", o.ID, "role", o.Role, "addr", o.Addr(), "run", o.RunID)
	if err := Run(ctx, o); err != nil {
		logger.Error("node failed", "id", o.ID, "err", err)
		return 1
	}
	logger.Info("node stopped", "id", o.ID)
	return 0
}
