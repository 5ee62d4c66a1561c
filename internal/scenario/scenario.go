// Package scenario describes the cluster layouts a trial can run: which nodes
// to start, which one to kill and what counts as its detection.
package scenario

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"faultline/internal/core"
	"faultline/internal/eventlog"
	"faultline/internal/watcher"
)

// NodePlan is one node of a scenario.
type NodePlan struct {
	ID         string
	Role       core.Role
	PortOffset int
	// Watch names the single node this one monitors, rendered as --peer_addr.
	Watch string
	// Peers names the nodes this one replicates to, rendered as --peers.
	Peers []string
}

// ProbePlan places the availability probe's writes and reads.
type ProbePlan struct {
	PutNode string
	GetNode string
}

type Scenario struct {
	Name string
	// Nodes are listed in launch order.
	Nodes  []NodePlan
	Target string
	// Watch lists the nodes whose logs are searched for the detection, in
	// priority order.
	Watch     []string
	Signature watcher.Signature
	// WarmupMarkers are events the watch nodes emit once they are
	// exchanging heartbeats.
	WarmupMarkers []string
	Probe         *ProbePlan
}

var registry = map[string]Scenario{
	"fd_2node": {
		Name: "fd_2node",
		Nodes: []NodePlan{
			{ID: "B", Role: core.RoleMonitored, PortOffset: 1},
			{ID: "A", Role: core.RoleDetector, PortOffset: 0, Watch: "B"},
		},
		Target:        "B",
		Watch:         []string{"A"},
		Signature:     watcher.Signature{{Type: eventlog.DeclaredDead}},
		WarmupMarkers: []string{eventlog.HeartbeatSent, eventlog.HeartbeatAck},
	},
	"leader_crash": {
		Name: "leader_crash",
		Nodes: []NodePlan{
			{ID: "A", Role: core.RoleLeader, PortOffset: 0, Peers: []string{"B", "C"}},
			{ID: "B", Role: core.RoleFollower, PortOffset: 1, Watch: "A"},
			{ID: "C", Role: core.RoleFollower, PortOffset: 2, Watch: "A"},
		},
		Target: "A",
		Watch:  []string{"B", "C"},
		Signature: watcher.Signature{
			{Type: eventlog.LeaderCheck, Fields: map[string]string{"dead": "true"}},
			{Type: eventlog.StateChange, Fields: map[string]string{"to": "Dead", "peer_id": "leader"}},
		},
		WarmupMarkers: []string{eventlog.LeaderCheck},
		Probe:         &ProbePlan{PutNode: "A", GetNode: "B"},
	},
}

// Lookup returns the named scenario.
func Lookup(name string) (Scenario, error) {
	s, ok := registry[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q (known: %v)", name, Names())
	}
	return s, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Node returns the plan of node id.
func (s Scenario) Node(id string) (NodePlan, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodePlan{}, false
}

// Addr is the listening address node id gets under host and basePort.
func (s Scenario) Addr(host string, basePort int, id string) string {
	n, _ := s.Node(id)
	return fmt.Sprintf("%s:%d", host, basePort+n.PortOffset)
}

// LogPath is where node id writes its event log inside a trial directory.
func LogPath(dir, id string) string {
	return filepath.Join(dir, id+".jsonl")
}

// OutPath is where node id's stdout and stderr are captured.
func OutPath(dir, id string) string {
	return filepath.Join(dir, id+".out")
}

// Specs renders the launch specs of every node for one trial, in launch
// order. Scenario knobs are passed to every node as --<name> <value>.
func (s Scenario) Specs(host string, basePort int, p core.Params, runID, dir string) []core.NodeSpec {
	var knobArgs []string
	for _, k := range p.KnobNames() {
		knobArgs = append(knobArgs, "--"+k, strconv.Itoa(p.Knobs[k]))
	}

	specs := make([]core.NodeSpec, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		spec := core.NodeSpec{
			ID:         n.ID,
			Role:       n.Role,
			Host:       host,
			Port:       basePort + n.PortOffset,
			IntervalMs: p.IntervalMs,
			TimeoutMs:  p.TimeoutMs,
			LogPath:    LogPath(dir, n.ID),
			OutPath:    OutPath(dir, n.ID),
			RunID:      runID,
			ExtraArgs:  append([]string(nil), knobArgs...),
		}
		if n.Watch != "" {
			spec.PeerAddr = s.Addr(host, basePort, n.Watch)
		}
		for _, id := range n.Peers {
			spec.Peers = append(spec.Peers, core.Peer{ID: id, Addr: s.Addr(host, basePort, id)})
		}
		specs = append(specs, spec)
	}
	return specs
}

// Sources lists the detection candidate logs of a trial directory.
func (s Scenario) Sources(dir string) []watcher.Source {
	out := make([]watcher.Source, len(s.Watch))
	for i, id := range s.Watch {
		out[i] = watcher.Source{NodeID: id, Path: LogPath(dir, id)}
	}
	return out
}
