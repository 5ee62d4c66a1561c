package fakenode

import (
	"strings"
	"testing"

	"faultline/internal/core"
)

func TestParseArgs(t *testing.T) {
	o, err := ParseArgs([]string{
		"--id", "A", "--port", "8001", "--role", "leader",
		"--peers", "B@127.0.0.1:8002,C@127.0.0.1:8003",
		"--hb_interval_ms", "50", "--hb_timeout_ms", "250",
		"--log_path", "/tmp/A.jsonl", "--run_id", "r1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ID != "A" || o.Port != 8001 || o.Role != core.RoleLeader {
		t.Errorf("unexpected options: %+v", o)
	}
	if len(o.Peers) != 2 || o.Peers[1].ID != "C" || o.Peers[1].Addr != "127.0.0.1:8003" {
		t.Errorf("unexpected peers: %v", o.Peers)
	}
	if o.Interval().Milliseconds() != 50 || o.Timeout().Milliseconds() != 250 {
		t.Errorf("unexpected durations: %s %s", o.Interval(), o.Timeout())
	}
	if o.Addr() != "127.0.0.1:8001" {
		t.Errorf("unexpected addr %s", o.Addr())
	}
}

func TestParseArgs_UnknownFlagsIgnored(t *testing.T) {
	o, err := ParseArgs([]string{
		"--id", "B", "--port", "8002", "--role", "monitored", "--log_path", "/tmp/B.jsonl",
		"--suspect_ms", "40", "--run_id", "r2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.RunID != "r2" {
		t.Errorf("expected flags after an unknown knob to parse, got run id %q", o.RunID)
	}
}

func TestParseArgs_RunIDFromEnv(t *testing.T) {
	t.Setenv("RUN_ID", "from-env")
	o, err := ParseArgs([]string{"--id", "B", "--port", "8002", "--role", "monitored", "--log_path", "/tmp/B.jsonl"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.RunID != "from-env" {
		t.Errorf("expected RUN_ID fallback, got %q", o.RunID)
	}
}

func TestParseArgs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing id", []string{"--port", "1", "--role", "monitored", "--log_path", "x"}, "--id"},
		{"bad role", []string{"--id", "A", "--port", "1", "--role", "boss", "--log_path", "x"}, "unknown role"},
		{"detector without peer", []string{"--id", "A", "--port", "1", "--role", "detector", "--log_path", "x"}, "--peer_addr"},
		{"bad peer", []string{"--id", "A", "--port", "1", "--role", "leader", "--log_path", "x", "--peers", "B"}, "invalid peer"},
		{"no log", []string{"--id", "A", "--port", "1", "--role", "monitored"}, "--log_path"},
		{"bad port", []string{"--id", "A", "--port", "0", "--role", "monitored", "--log_path", "x"}, "out of range"},
	}
	for _, tt := range tests {
		_, err := ParseArgs(tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}
}
