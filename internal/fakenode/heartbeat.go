package fakenode

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/eventlog"
)

const (
	ping = "PING"
	ack  = "ACK"

	checkInterval = 10 * time.Millisecond
)

// serveHeartbeats answers every PING line with an ACK line until ctx ends.
func serveHeartbeats(ctx context.Context, ln net.Listener) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()

			sc := bufio.NewScanner(conn)
			for sc.Scan() {
				if strings.TrimSpace(sc.Text()) != ping {
					continue
				}
				if _, err := fmt.Fprintln(conn, ack); err != nil {
					return
				}
			}
		}()
	}
}

func listen(ctx context.Context, addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	context.AfterFunc(ctx, func() { ln.Close() })
	return ln, nil
}

func runMonitored(ctx context.Context, o Options, log *eventLog) error {
	ln, err := listen(ctx, o.Addr())
	if err != nil {
		return err
	}
	log.emit(eventlog.NodeStart, "", map[string]any{"role": string(o.Role), "addr": o.Addr()})
	serveHeartbeats(ctx, ln)
	return nil
}

// runDetector also answers heartbeats so it can be probed for readiness.
func runDetector(ctx context.Context, o Options, log *eventLog) error {
	ln, err := listen(ctx, o.Addr())
	if err != nil {
		return err
	}
	go serveHeartbeats(ctx, ln)
	log.emit(eventlog.NodeStart, "", map[string]any{"role": string(o.Role), "addr": o.Addr(), "peer_addr": o.PeerAddr})

	conn := dialPeer(ctx, o)
	if conn == nil {
		return nil
	}
	defer conn.Close()
	peerID := o.PeerAddr

	start := time.Now()
	var (
		lastAck atomic.Int64
		dead    atomic.Bool
	)
	lastAck.Store(int64(time.Since(start)))

	go func() {
		ticker := time.NewTicker(o.Interval())
		defer ticker.Stop()
		for !dead.Load() {
			if _, err := fmt.Fprintln(conn, ping); err != nil {
				return
			}
			log.emit(eventlog.HeartbeatSent, peerID, nil)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	go func() {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			// late acks after the verdict are ignored
			if dead.Load() {
				continue
			}
			if strings.TrimSpace(sc.Text()) == ack {
				lastAck.Store(int64(time.Since(start)))
				log.emit(eventlog.HeartbeatAck, peerID, nil)
			}
		}
	}()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		since := time.Since(start) - time.Duration(lastAck.Load())
		if since >= o.Timeout() {
			dead.Store(true)
			log.emit(eventlog.DeclaredDead, peerID, map[string]any{"since_ack_ms": since.Milliseconds()})
			conn.Close()
			<-ctx.Done()
			return nil
		}
	}
}

// dialPeer connects to the monitored peer, retrying every interval until it
// answers or ctx ends.
func dialPeer(ctx context.Context, o Options) net.Conn {
	for {
		conn, err := net.DialTimeout("tcp", o.PeerAddr, o.Interval())
		if err == nil {
			return conn
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.Interval()):
		}
	}
}
