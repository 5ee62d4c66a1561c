package fakenode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"faultline/internal/core"
	"faultline/internal/eventlog"
)

// Failure detector verdicts.
const (
	Alive     = "Alive"
	Suspected = "Suspected"
	Dead      = "Dead"
)

const leaderPeer = "leader"

type store struct {
	mu sync.RWMutex
	m  map[string]string
}

func (s *store) put(k, v string) {
	s.mu.Lock()
	s.m[k] = v
	s.mu.Unlock()
}

func (s *store) get(k string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	return v, ok
}

// failureDetector tracks the last successful contact with each peer. A peer
// never contacted is only ever Suspected, so startup races cannot produce a
// Dead verdict.
type failureDetector struct {
	mu      sync.Mutex
	timeout time.Duration
	lastOK  map[string]time.Time
	state   map[string]string
	log     *eventLog
}

func newFailureDetector(timeout time.Duration, log *eventLog) *failureDetector {
	return &failureDetector{
		timeout: timeout,
		lastOK:  make(map[string]time.Time),
		state:   make(map[string]string),
		log:     log,
	}
}

func (f *failureDetector) update(peer string, ok bool, now time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.lastOK[peer] = now
	}
	prev, seen := f.state[peer]
	if !seen {
		prev = Alive
	}

	next := Alive
	if !ok {
		last, contacted := f.lastOK[peer]
		switch {
		case !contacted:
			next = Suspected
		case now.Sub(last) > f.timeout:
			next = Dead
		default:
			next = Suspected
		}
	}
	f.state[peer] = next
	if next != prev && f.log != nil {
		f.log.emit(eventlog.StateChange, peer, map[string]any{"from": prev, "to": next})
	}
	return next
}

func (f *failureDetector) dead(peer string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.lastOK[peer]
	return ok && now.Sub(last) > f.timeout
}

type kvNode struct {
	opts   Options
	log    *eventLog
	store  *store
	fd     *failureDetector
	client *http.Client
}

func newKVNode(o Options, log *eventLog) *kvNode {
	return &kvNode{
		opts:   o,
		log:    log,
		store:  &store{m: make(map[string]string)},
		fd:     newFailureDetector(o.Timeout(), log),
		client: &http.Client{Timeout: 200 * time.Millisecond},
	}
}

func (n *kvNode) isLeader() bool { return n.opts.Role == core.RoleLeader }

func (n *kvNode) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/put", n.handlePut).Methods(http.MethodPost)
	r.HandleFunc("/get", n.handleGet).Methods(http.MethodPost)
	r.HandleFunc("/internal/ping", n.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/internal/replicate", n.handleReplicate).Methods(http.MethodPost)
	return r
}

type kvBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type replicateBody struct {
	RID   string `json:"rid"`
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (n *kvNode) handlePut(w http.ResponseWriter, r *http.Request) {
	rid := r.URL.Query().Get("rid")
	var body kvBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_json"})
		return
	}
	if !n.isLeader() {
		n.log.emit("put_reject_not_leader", "", map[string]any{"rid": rid, "key": body.Key})
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "not_leader"})
		return
	}
	n.store.put(body.Key, body.Value)
	n.log.emit("put_ok", "", map[string]any{"rid": rid, "key": body.Key})
	n.replicate(r.Context(), replicateBody{RID: rid, Op: "PUT", Key: body.Key, Value: body.Value})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rid": rid})
}

func (n *kvNode) handleGet(w http.ResponseWriter, r *http.Request) {
	rid := r.URL.Query().Get("rid")
	var body kvBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_json"})
		return
	}
	v, ok := n.store.get(body.Key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "rid": rid, "found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rid": rid, "found": true, "value": v})
}

func (n *kvNode) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (n *kvNode) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var body replicateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Op != "PUT" || body.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_json"})
		return
	}
	n.store.put(body.Key, body.Value)
	n.log.emit("replicate_apply", "", map[string]any{"rid": body.RID, "key": body.Key})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// replicate pushes a write to every peer. Failures only feed the failure
// detector; the client write has already succeeded.
func (n *kvNode) replicate(ctx context.Context, body replicateBody) {
	payload, _ := json.Marshal(body)
	for _, p := range n.opts.Peers {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+p.Addr+"/internal/replicate", bytes.NewReader(payload))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		ok := n.do(req)
		n.fd.update(p.ID, ok, time.Now())
	}
}

func (n *kvNode) do(req *http.Request) bool {
	resp, err := n.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (n *kvNode) ping(ctx context.Context, addr string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/internal/ping?from="+n.opts.ID, nil)
	if err != nil {
		return false
	}
	return n.do(req)
}

// heartbeat pings the followers from the leader, or the leader from a
// follower, once per interval.
func (n *kvNode) heartbeat(ctx context.Context) {
	for {
		started := time.Now()
		if n.isLeader() {
			for _, p := range n.opts.Peers {
				ok := n.ping(ctx, p.Addr)
				n.fd.update(p.ID, ok, time.Now())
			}
		} else {
			ok := n.ping(ctx, n.opts.PeerAddr)
			now := time.Now()
			n.fd.update(leaderPeer, ok, now)
			n.log.emit(eventlog.LeaderCheck, leaderPeer, map[string]any{
				"dead":        n.fd.dead(leaderPeer, now),
				"leader_addr": n.opts.PeerAddr,
			})
		}

		wait := n.opts.Interval() - time.Since(started)
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func runKV(ctx context.Context, o Options, log *eventLog) error {
	n := newKVNode(o, log)
	ln, err := listen(ctx, o.Addr())
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: n.routes(), ReadHeaderTimeout: time.Second}
	log.emit(eventlog.NodeStart, "", map[string]any{"role": string(o.Role), "addr": o.Addr()})

	go n.heartbeat(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// the listener is closed on shutdown as well
		if ctx.Err() == nil {
			return err
		}
	}
	return nil
}
