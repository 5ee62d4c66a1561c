package fakenode

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func waitForEvent(t *testing.T, path, typ string, within time.Duration) eventlog.Record {
	t.Helper()
	var found eventlog.Record
	err := core.PollUntil(context.Background(), 10*time.Millisecond, within, func() bool {
		ok := false
		_ = eventlog.Scan(path, func(r eventlog.Record) bool {
			if r.Type == typ {
				found, ok = r, true
				return false
			}
			return true
		})
		return ok
	})
	if err != nil {
		t.Fatalf("no %s event in %s within %s", typ, path, within)
	}
	return found
}

func TestFailureDetector(t *testing.T) {
	fd := newFailureDetector(100*time.Millisecond, nil)
	t0 := time.UnixMilli(1000)

	if got := fd.update("leader", false, t0); got != Suspected {
		t.Errorf("never-contacted peer should be suspected, got %s", got)
	}
	if got := fd.update("leader", false, t0.Add(time.Hour)); got != Suspected {
		t.Errorf("never-contacted peer must not be declared dead, got %s", got)
	}
	if got := fd.update("leader", true, t0); got != Alive {
		t.Errorf("expected alive after success, got %s", got)
	}
	if got := fd.update("leader", false, t0.Add(50*time.Millisecond)); got != Suspected {
		t.Errorf("expected suspected within timeout, got %s", got)
	}
	if got := fd.update("leader", false, t0.Add(150*time.Millisecond)); got != Dead {
		t.Errorf("expected dead after timeout, got %s", got)
	}
	if !fd.dead("leader", t0.Add(150*time.Millisecond)) {
		t.Error("expected dead verdict")
	}
	if fd.dead("other", t0.Add(time.Hour)) {
		t.Error("unknown peer must not be dead")
	}
}

func TestFailureDetector_LogsTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "B.jsonl")
	w, err := eventlog.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	log := newEventLog(w, Options{ID: "B", Role: core.RoleFollower, RunID: "r"})

	fd := newFailureDetector(100*time.Millisecond, log)
	t0 := time.UnixMilli(1000)
	fd.update("leader", true, t0)
	fd.update("leader", true, t0.Add(10*time.Millisecond))
	fd.update("leader", false, t0.Add(200*time.Millisecond))

	recs, _ := eventlog.ReadFile(path)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one transition, got %d", len(recs))
	}
	r := recs[0]
	if r.Type != eventlog.StateChange || r.PeerID != "leader" || r.String("from") != Alive || r.String("to") != Dead {
		t.Errorf("unexpected transition record %s", r.Raw())
	}
	if r.RunID != "r" || r.NodeID != "B" {
		t.Errorf("expected run and node ids, got %s", r.Raw())
	}
	if !strings.Contains(r.Raw(), `"type":"fd_state_change"`) {
		t.Errorf("expected kv nodes to use the type key, got %s", r.Raw())
	}
}

func TestKVNode_Routes(t *testing.T) {
	dir := t.TempDir()
	follower := newKVNode(Options{ID: "B", Role: core.RoleFollower, TimeoutMs: 100}, discardLog(t, dir, "B"))
	fsrv := httptest.NewServer(follower.routes())
	defer fsrv.Close()

	leader := newKVNode(Options{
		ID: "A", Role: core.RoleLeader, TimeoutMs: 100,
		Peers: []core.Peer{{ID: "B", Addr: strings.TrimPrefix(fsrv.URL, "http://")}},
	}, discardLog(t, dir, "A"))
	lsrv := httptest.NewServer(leader.routes())
	defer lsrv.Close()

	post := func(base, path, body string) int {
		resp, err := http.Post(base+path+"?rid=r-1", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(fsrv.URL, "/get", `{"key":"x"}`); code != http.StatusNotFound {
		t.Errorf("expected 404 before any write, got %d", code)
	}
	if code := post(lsrv.URL, "/put", `{"key":"x","value":"v1"}`); code != http.StatusOK {
		t.Errorf("expected leader put 200, got %d", code)
	}
	if code := post(fsrv.URL, "/put", `{"key":"x","value":"v2"}`); code != http.StatusConflict {
		t.Errorf("expected follower put 409, got %d", code)
	}
	if code := post(lsrv.URL, "/put", `not json`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", code)
	}

	resp, err := http.Post(fsrv.URL+"/get?rid=r-2", "application/json", bytes.NewBufferString(`{"key":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || got.Value != "v1" {
		t.Errorf("expected replicated value v1, got %d %q", resp.StatusCode, got.Value)
	}

	pr, err := http.Get(lsrv.URL + "/internal/ping?from=B")
	if err != nil {
		t.Fatal(err)
	}
	pr.Body.Close()
	if pr.StatusCode != http.StatusOK {
		t.Errorf("expected ping 200, got %d", pr.StatusCode)
	}
}

func discardLog(t *testing.T, dir, id string) *eventLog {
	t.Helper()
	w, err := eventlog.Create(filepath.Join(dir, id+".jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return newEventLog(w, Options{ID: id, Role: core.RoleLeader})
}

func TestRun_HeartbeatDetection(t *testing.T) {
	dir := t.TempDir()
	bPort := freePort(t)
	bOpts := Options{
		ID: "B", Host: "127.0.0.1", Port: bPort, Role: core.RoleMonitored,
		IntervalMs: 20, TimeoutMs: 100, LogPath: filepath.Join(dir, "B.jsonl"), RunID: "r",
	}
	aOpts := Options{
		ID: "A", Host: "127.0.0.1", Port: freePort(t), Role: core.RoleDetector,
		PeerAddr:   bOpts.Addr(),
		IntervalMs: 20, TimeoutMs: 100, LogPath: filepath.Join(dir, "A.jsonl"), RunID: "r",
	}

	bCtx, killB := context.WithCancel(context.Background())
	bDone := make(chan error, 1)
	go func() { bDone <- Run(bCtx, bOpts) }()

	aCtx, stopA := context.WithCancel(context.Background())
	defer stopA()
	aDone := make(chan error, 1)
	go func() { aDone <- Run(aCtx, aOpts) }()

	waitForEvent(t, aOpts.LogPath, eventlog.HeartbeatAck, 3*time.Second)
	killB()
	if err := <-bDone; err != nil {
		t.Fatalf("monitored node failed: %v", err)
	}
	killedAt := time.Now().UnixMilli()

	dead := waitForEvent(t, aOpts.LogPath, eventlog.DeclaredDead, 3*time.Second)
	if dead.TS < killedAt-int64(bOpts.TimeoutMs) {
		t.Errorf("declared dead at %d, before the peer stopped at %d", dead.TS, killedAt)
	}
	if dead.RunID != "r" || dead.NodeID != "A" {
		t.Errorf("unexpected record %s", dead.Raw())
	}

	stopA()
	if err := <-aDone; err != nil {
		t.Errorf("detector failed: %v", err)
	}
	waitForEvent(t, aOpts.LogPath, eventlog.NodeStop, time.Second)
}

func TestRun_LeaderCrash(t *testing.T) {
	dir := t.TempDir()
	aPort, bPort := freePort(t), freePort(t)
	leader := Options{
		ID: "A", Host: "127.0.0.1", Port: aPort, Role: core.RoleLeader,
		Peers:      []core.Peer{{ID: "B", Addr: "127.0.0.1:" + strconv.Itoa(bPort)}},
		IntervalMs: 20, TimeoutMs: 100, LogPath: filepath.Join(dir, "A.jsonl"), RunID: "r",
	}
	follower := Options{
		ID: "B", Host: "127.0.0.1", Port: bPort, Role: core.RoleFollower,
		PeerAddr:   leader.Addr(),
		IntervalMs: 20, TimeoutMs: 100, LogPath: filepath.Join(dir, "B.jsonl"), RunID: "r",
	}

	aCtx, killA := context.WithCancel(context.Background())
	aDone := make(chan error, 1)
	go func() { aDone <- Run(aCtx, leader) }()
	bCtx, stopB := context.WithCancel(context.Background())
	defer stopB()
	go Run(bCtx, follower)

	started := waitForEvent(t, leader.LogPath, eventlog.NodeStart, 3*time.Second)
	err := core.PollUntil(context.Background(), 10*time.Millisecond, 3*time.Second, func() bool {
		ok := false
		_ = eventlog.Scan(follower.LogPath, func(r eventlog.Record) bool {
			ok = r.Type == eventlog.LeaderCheck && r.TS > started.TS
			return !ok
		})
		return ok
	})
	if err != nil {
		t.Fatal("follower never checked the running leader")
	}
	// a few intervals of successful pings
	time.Sleep(60 * time.Millisecond)

	killA()
	<-aDone

	err = core.PollUntil(context.Background(), 10*time.Millisecond, 3*time.Second, func() bool {
		ok := false
		_ = eventlog.Scan(follower.LogPath, func(r eventlog.Record) bool {
			if r.Type == eventlog.LeaderCheck && r.Bool("dead") {
				ok = true
				return false
			}
			return true
		})
		return ok
	})
	if err != nil {
		t.Error("follower never declared the leader dead")
	}
}
