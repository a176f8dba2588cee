package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
)

// ResourceReader reports the most recent server resource sample.
type ResourceReader interface {
	Latest() (cpuPercent float64, memoryBytes uint64, ok bool)
}

// ProgressReporter displays real-time progress updates on one line.
type ProgressReporter struct {
	collector *metrics.Collector
	bids      *metrics.BidTracker
	resources ResourceReader
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    atomic.Bool
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. bids and resources may be nil.
func NewProgressReporter(collector *metrics.Collector, bids *metrics.BidTracker, resources ResourceReader, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		collector: collector,
		bids:      bids,
		resources: resources,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !p.active.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	if p.active.CompareAndSwap(true, false) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	live := p.collector.Live()
	line := fmt.Sprintf("[%s] Sent: %d | Received: %d | %.1f msg/s | P50 %.1fms P99 %.1fms | Errors: %d | Mismatches: %d",
		live.Elapsed.Truncate(time.Second), live.Sent, live.Received, live.ReceiveRate,
		live.P50LatencyMs, live.P99LatencyMs, live.ConnectionErrors, live.Mismatches)
	if p.bids != nil {
		c := p.bids.Counts()
		line += fmt.Sprintf(" | Bids: %d placed, %d accepted", c.Placed, c.Accepted)
	}
	if p.resources != nil {
		if cpu, mem, ok := p.resources.Latest(); ok {
			line += fmt.Sprintf(" | Server: %.0f%% CPU, %s", cpu, formatBytes(mem))
		}
	}
	if errs := errorBreakdown(p.collector); errs != "" && live.ConnectionErrors > 0 {
		line += " (" + errs + ")"
	}
	return line
}
