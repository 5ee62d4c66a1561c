package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"faultline/internal/aggregate"
	"faultline/internal/core"
	"faultline/internal/recorder"
)

func seedTrial(t *testing.T, runs, id string, latency int64) {
	t.Helper()
	rec, err := recorder.Open(filepath.Join(runs, id), id, core.NewFakeClockMillis(5000))
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	_ = rec.RunStart(recorder.RunStartRecord{Scenario: "fd_2node", Params: core.Params{IntervalMs: 100, TimeoutMs: 300}})
	_, _ = rec.Fault("B")
	_ = rec.Detection(recorder.DetectionRecord{Valid: true, LatencyMs: recorder.Int64(latency), DetectTS: recorder.Int64(5000 + latency)})
	if err := rec.Finalize(recorder.RunEndRecord{Status: recorder.StatusDetected}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestAggregateCommand(t *testing.T) {
	runs := t.TempDir()
	out := filepath.Join(t.TempDir(), "results")
	seedTrial(t, runs, "fd_2node_100_300_1", 120)
	seedTrial(t, runs, "fd_2node_100_300_2", 140)
	seedTrial(t, runs, "fd_2node_100_300_3", 600)

	code, stdout, stderr := run(t, "aggregate", "--runs-dir", runs, "--out-dir", out)
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "median=140ms") {
		t.Errorf("expected text report, got %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(out, aggregate.HeatmapFile)); err != nil {
		t.Errorf("expected heatmap: %v", err)
	}
}

func TestAggregateCommand_JSON(t *testing.T) {
	runs := t.TempDir()
	seedTrial(t, runs, "fd_2node_100_300_1", 200)

	code, stdout, _ := run(t, "aggregate", "--runs-dir", runs, "--out-dir", t.TempDir(), "-o", "json")
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, `"median_detection_ms": 200`) {
		t.Errorf("expected JSON report, got %q", stdout)
	}
}

func TestAggregateCommand_ThresholdFailed(t *testing.T) {
	runs := t.TempDir()
	seedTrial(t, runs, "fd_2node_100_300_1", 900)
	cfgPath := filepath.Join(t.TempDir(), "sweep.yaml")
	if err := os.WriteFile(cfgPath, []byte("thresholds:\n  median_detection: 500ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := run(t, "aggregate", "-c", cfgPath, "--runs-dir", runs, "--out-dir", t.TempDir())
	if code != ExitThresholdFailed {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stdout, "✗ median_detection") {
		t.Errorf("expected failed threshold in report, got %q", stdout)
	}
	if !strings.Contains(stderr, "Threshold check failed!") {
		t.Errorf("expected threshold message, got %q", stderr)
	}
}

func TestEnvOverride(t *testing.T) {
	runs := t.TempDir()
	out := t.TempDir()
	seedTrial(t, runs, "fd_2node_100_300_1", 150)
	t.Setenv("FAULTLINE_RUNS_DIR", runs)
	t.Setenv("FAULTLINE_OUT_DIR", out)

	code, stdout, stderr := run(t, "aggregate")
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "median=150ms") {
		t.Errorf("expected runs dir from environment, got %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(out, aggregate.MetricsFile)); err != nil {
		t.Errorf("expected output in env out dir: %v", err)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	code, _, stderr := run(t, "aggregate", "-o", "xml")
	if code != ExitError {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr, "--output must be 'text' or 'json'") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestInvalidLogFormat(t *testing.T) {
	code, _, _ := run(t, "aggregate", "--log-format", "xml")
	if code != ExitError {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestTrialCommand_MissingBinary(t *testing.T) {
	code, _, stderr := run(t, "trial",
		"--binary", filepath.Join(t.TempDir(), "no-such-node"),
		"--runs-dir", t.TempDir())
	if code != ExitError {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr, "node binary not found") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestSweepCommand_InvalidConfig(t *testing.T) {
	code, _, stderr := run(t, "sweep", "--scenario", "split_brain", "--trials", "0")
	if code != ExitError {
		t.Fatalf("expected exit 2, got %d", code)
	}
	for _, want := range []string{`unknown scenario "split_brain"`, "trials must be at least 1"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("expected %q in %q", want, stderr)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, _ := run(t, "bogus")
	if code != ExitError {
		t.Fatalf("expected exit 2, got %d", code)
	}
}
