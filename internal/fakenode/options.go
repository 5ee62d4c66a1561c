package fakenode

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"faultline/internal/core"
)

// Options is the parsed node command line.
type Options struct {
	ID         string
	Host       string
	Port       int
	Role       core.Role
	PeerAddr   string
	Peers      []core.Peer
	IntervalMs int
	TimeoutMs  int
	LogPath    string
	RunID      string
}

func (o Options) Addr() string            { return fmt.Sprintf("%s:%d", o.Host, o.Port) }
func (o Options) Interval() time.Duration { return time.Duration(o.IntervalMs) * time.Millisecond }
func (o Options) Timeout() time.Duration  { return time.Duration(o.TimeoutMs) * time.Millisecond }

// ParseArgs parses the node command line. Flags it does not know, such as
// scenario knobs meant for other node implementations, are ignored.
func ParseArgs(args []string) (Options, error) {
	fs := pflag.NewFlagSet("fakenode", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	var (
		o     Options
		role  string
		peers string
	)
	fs.StringVar(&o.ID, "id", "", "node id")
	fs.StringVar(&o.Host, "host", "127.0.0.1", "address to bind")
	fs.IntVar(&o.Port, "port", 0, "port to listen on")
	fs.StringVar(&role, "role", "", "monitored, detector, leader or follower")
	fs.StringVar(&o.PeerAddr, "peer_addr", "", "address of the watched peer")
	fs.StringVar(&peers, "peers", "", "replication peers as id@host:port,...")
	fs.IntVar(&o.IntervalMs, "hb_interval_ms", 100, "heartbeat interval in milliseconds")
	fs.IntVar(&o.TimeoutMs, "hb_timeout_ms", 500, "heartbeat timeout in milliseconds")
	fs.StringVar(&o.LogPath, "log_path", "", "event log file")
	fs.StringVar(&o.RunID, "run_id", "", "trial id stamped on every event")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.Role = core.Role(role)
	if o.RunID == "" {
		o.RunID = os.Getenv("RUN_ID")
	}

	var errs []error
	if peers != "" {
		for _, p := range strings.Split(peers, ",") {
			id, addr, ok := strings.Cut(p, "@")
			if !ok || id == "" || addr == "" {
				errs = append(errs, fmt.Errorf("invalid peer %q, want id@host:port", p))
				continue
			}
			o.Peers = append(o.Peers, core.Peer{ID: id, Addr: addr})
		}
	}
	return o, errors.Join(append(errs, o.validate()...)...)
}

func (o Options) validate() []error {
	var errs []error
	if o.ID == "" {
		errs = append(errs, errors.New("--id is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("--port %d out of range", o.Port))
	}
	if o.LogPath == "" {
		errs = append(errs, errors.New("--log_path is required"))
	}
	if o.IntervalMs <= 0 || o.TimeoutMs <= 0 {
		errs = append(errs, errors.New("--hb_interval_ms and --hb_timeout_ms must be positive"))
	}
	switch o.Role {
	case core.RoleMonitored, core.RoleLeader:
	case core.RoleDetector, core.RoleFollower:
		if o.PeerAddr == "" {
			errs = append(errs, fmt.Errorf("--peer_addr is required for role %s", o.Role))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", o.Role))
	}
	return errs
}
