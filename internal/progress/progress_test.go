package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"faultline/internal/core"
	"faultline/internal/recorder"
)

func TestNewProgress(t *testing.T) {
	progress := NewProgress(12, false)

	if progress.Tally().Total != 12 {
		t.Errorf("expected total 12, got %d", progress.Tally().Total)
	}
	if progress.quiet {
		t.Error("quiet should be false")
	}
}

func TestProgress_QuietMode(t *testing.T) {
	progress := NewProgress(1, true)

	// Start and stop should not panic in quiet mode
	progress.Start()
	time.Sleep(10 * time.Millisecond)
	progress.Stop()
}

func TestProgress_DoubleStop(t *testing.T) {
	progress := NewProgress(1, false)
	progress.SetOutput(&core.MockWriter{})
	progress.Start()

	progress.Stop()
	progress.Stop()
}

func TestProgress_StopWithoutStart(t *testing.T) {
	progress := NewProgress(1, false)
	progress.SetOutput(&bytes.Buffer{})

	// Stop without start should not panic
	progress.Stop()
}

func TestProgress_Record(t *testing.T) {
	progress := NewProgress(5, true)

	for _, s := range []recorder.Status{
		recorder.StatusDetected,
		recorder.StatusDetected,
		recorder.StatusMissed,
		recorder.StatusInvalid,
		recorder.StatusFailed,
	} {
		progress.Record(s)
	}

	got := progress.Tally()
	want := Tally{Total: 5, Done: 5, Detected: 2, Missed: 1, Invalid: 1, Failed: 1}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestProgress_Ticker(t *testing.T) {
	var buf core.MockWriter
	progress := NewProgress(4, false)
	progress.interval = 5 * time.Millisecond
	progress.SetOutput(&buf)

	progress.Record(recorder.StatusDetected)
	progress.Begin("fd_2node_100_300_1")
	progress.Start()
	time.Sleep(50 * time.Millisecond)
	progress.Stop()

	if !strings.Contains(buf.String(), "Trial 2/4 fd_2node_100_300_1 | detected: 1") {
		t.Errorf("expected progress line, got: %q", buf.String())
	}
}

func TestProgress_Print(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(1, false)
	progress.SetOutput(&buf)

	progress.Print("trial fd_2node_100_300_1: detected in 350ms")

	output := buf.String()
	if !strings.Contains(output, "\033[K") {
		t.Error("expected output to contain line clear escape sequence")
	}
	if !strings.Contains(output, "detected in 350ms\n") {
		t.Errorf("expected message with newline, got: %q", output)
	}
}

func TestProgress_Print_Quiet(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(1, true)
	progress.SetOutput(&buf)

	progress.Print("trial")

	if buf.String() != "" {
		t.Errorf("expected no output in quiet mode, got: %q", buf.String())
	}
}

func TestProgress_Printf(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(1, false)
	progress.SetOutput(&buf)

	progress.Printf("cell %d/%d: %s", 3, 8, "interval=100,timeout=300")

	if !strings.Contains(buf.String(), "cell 3/8: interval=100,timeout=300\n") {
		t.Errorf("expected formatted message, got: %q", buf.String())
	}
}

func TestProgress_SetOutput(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	progress := NewProgress(1, false)

	progress.SetOutput(&buf1)
	progress.Print("message1")

	progress.SetOutput(&buf2)
	progress.Print("message2")

	if !strings.Contains(buf1.String(), "message1") {
		t.Error("expected message1 in buf1")
	}
	if strings.Contains(buf1.String(), "message2") {
		t.Error("buf1 should not contain message2")
	}
	if !strings.Contains(buf2.String(), "message2") {
		t.Error("expected message2 in buf2")
	}
}
