// Package core defines the fundamental types and interfaces shared by the
// faultline harness: trial parameters, node specs and the process handles
// the injector drives.
package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Role is the part a node plays in a scenario.
type Role string

const (
	RoleMonitored Role = "monitored"
	RoleDetector  Role = "detector"
	RoleLeader    Role = "leader"
	RoleFollower  Role = "follower"
)

// Params is the configuration of a single trial. Two trials belong to the same
// aggregate bucket iff their Params are equal.
type Params struct {
	IntervalMs int            `json:"hb_interval_ms" yaml:"hb_interval_ms"`
	TimeoutMs  int            `json:"hb_timeout_ms" yaml:"hb_timeout_ms"`
	Knobs      map[string]int `json:"knobs,omitempty" yaml:"knobs,omitempty"`
}

func (p Params) Interval() time.Duration { return time.Duration(p.IntervalMs) * time.Millisecond }
func (p Params) Timeout() time.Duration  { return time.Duration(p.TimeoutMs) * time.Millisecond }

// Missed is the number of heartbeat intervals that fit in the timeout.
func (p Params) Missed() float64 {
	if p.IntervalMs == 0 {
		return 0
	}
	return float64(p.TimeoutMs) / float64(p.IntervalMs)
}

// KnobNames returns the scenario knob names in sorted order.
func (p Params) KnobNames() []string {
	names := make([]string, 0, len(p.Knobs))
	for k := range p.Knobs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Key renders Params canonically: knobs are emitted in name order so equal
// configurations always produce equal keys.
func (p Params) Key() string {
	var b strings.Builder
	b.WriteString("interval=")
	b.WriteString(strconv.Itoa(p.IntervalMs))
	b.WriteString(",timeout=")
	b.WriteString(strconv.Itoa(p.TimeoutMs))
	for _, k := range p.KnobNames() {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(strconv.Itoa(p.Knobs[k]))
	}
	return b.String()
}

// KnobHash is a short fingerprint of the scenario knobs, empty when there are
// none. It keeps trial directory names readable for knob-heavy sweeps.
func (p Params) KnobHash() string {
	if len(p.Knobs) == 0 {
		return ""
	}
	return fmt.Sprintf("%08x", uint32(xxhash.Sum64String(p.Key())))
}

// TrialID derives the unique identifier of a trial from its scenario, its
// configuration and the wall-clock millisecond it was created at.
func TrialID(scenario string, p Params, wallMs int64) string {
	if h := p.KnobHash(); h != "" {
		return fmt.Sprintf("%s_%d_%d_%s_%d", scenario, p.IntervalMs, p.TimeoutMs, h, wallMs)
	}
	return fmt.Sprintf("%s_%d_%d_%d", scenario, p.IntervalMs, p.TimeoutMs, wallMs)
}

// Peer names another node by id and address.
type Peer struct {
	ID   string
	Addr string
}

func (p Peer) String() string { return p.ID + "@" + p.Addr }

// NodeSpec is everything needed to launch one cluster node.
type NodeSpec struct {
	ID         string
	Role       Role
	Host       string
	Port       int
	PeerAddr   string // the single peer a detector or follower watches
	Peers      []Peer // the full peer list a leader replicates to
	IntervalMs int
	TimeoutMs  int
	LogPath    string
	OutPath    string
	RunID      string
	ExtraArgs  []string
}

// Addr is the node's listening address.
func (s NodeSpec) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Node is a handle to a spawned cluster member.
type Node interface {
	ID() string
	Addr() string
	Alive() bool
	// Kill forcefully terminates the node and waits up to confirm for it to
	// be reaped.
	Kill(confirm time.Duration) error
	// Stop asks the node to exit, escalating to a kill after grace.
	Stop(grace time.Duration) error
	// OutputTail returns the last n bytes of the node's captured output.
	OutputTail(n int) string
}

// Spawner launches nodes.
type Spawner interface {
	Spawn(spec NodeSpec) (Node, error)
}
