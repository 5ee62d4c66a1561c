// Package progress prints sweep progress to the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/recorder"
)

// Tally counts finished trials by outcome.
type Tally struct {
	Total    int
	Done     int
	Detected int
	Missed   int
	Invalid  int
	Failed   int
}

type Progress struct {
	startTime time.Time
	interval  time.Duration
	tally     Tally
	current   string
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   atomic.Bool
	quiet     bool
	output    io.Writer
	mu        sync.Mutex
}

func NewProgress(total int, quiet bool) *Progress {
	return &Progress{
		tally:    Tally{Total: total},
		interval: time.Second,
		quiet:    quiet,
		output:   os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.startTime = time.Now()
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)
	go p.run()
}

func (p *Progress) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress()
		}
	}
}

func (p *Progress) printProgress() {
	elapsed := time.Since(p.startTime).Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	p.mu.Lock()
	t := p.tally
	fmt.Fprintf(p.output, "\033[K[%02d:%02d] Trial %d/%d %s | detected: %d | missed: %d | failed: %d\r",
		mins, secs, t.Done+1, t.Total, p.current, t.Detected, t.Missed+t.Invalid, t.Failed)
	p.mu.Unlock()
}

// Begin marks trialID as the one currently running.
func (p *Progress) Begin(trialID string) {
	p.mu.Lock()
	p.current = trialID
	p.mu.Unlock()
}

// Record counts a finished trial.
func (p *Progress) Record(status recorder.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tally.Done++
	switch status {
	case recorder.StatusDetected:
		p.tally.Detected++
	case recorder.StatusMissed:
		p.tally.Missed++
	case recorder.StatusInvalid:
		p.tally.Invalid++
	default:
		p.tally.Failed++
	}
	p.current = ""
}

// Tally returns the counts so far.
func (p *Progress) Tally() Tally {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tally
}

func (p *Progress) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K")
	p.mu.Unlock()
}

func (p *Progress) Print(message string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K%s\n", message)
	p.mu.Unlock()
}

func (p *Progress) Printf(format string, args ...any) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K"+format+"\n", args...)
	p.mu.Unlock()
}
