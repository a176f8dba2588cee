package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// LatencySample is one correlated round trip.
type LatencySample struct {
	MessageID int64   `json:"message_id"`
	ClientID  int     `json:"client_id"`
	LatencyMs float64 `json:"latency_ms"`
}

// Collector aggregates run counters and latency samples in a thread-safe manner.
//
// Exact samples are kept for the final Snapshot. A histogram mirrors them so
// that live views (progress line, dashboard, Prometheus scrapes) stay cheap.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	samples      []LatencySample
	sent         int64
	received     int64
	correlated   int64
	connErrors   int64
	mismatches   int64
	bytesSent    int64
	firstAt      time.Time
	lastRecvAt   time.Time
	errorsByType map[string]int64
	start        time.Time
	now          func() time.Time
}

// Snapshot is an immutable copy of the collector's state.
type Snapshot struct {
	TotalSent        int64           `json:"total_sent"`
	TotalReceived    int64           `json:"total_received"`
	Correlated       int64           `json:"correlated"`
	ConnectionErrors int64           `json:"connection_errors"`
	Mismatches       int64           `json:"mismatches"`
	BytesSent        int64           `json:"bytes_sent"`
	Throughput       float64         `json:"throughput_msgs_per_sec"`
	Window           time.Duration   `json:"-"`
	WindowMs         float64         `json:"window_ms"`
	Latency          LatencySummary  `json:"latency"`
	Errors           map[string]int  `json:"errors,omitempty"`
	Samples          []LatencySample `json:"-"`
}

// LiveStats is a cheap, approximate view for periodic display.
type LiveStats struct {
	Sent             int64
	Received         int64
	ConnectionErrors int64
	Mismatches       int64
	Elapsed          time.Duration
	SendRate         float64
	ReceiveRate      float64
	MeanLatencyMs    float64
	P50LatencyMs     float64
	P90LatencyMs     float64
	P99LatencyMs     float64
	MaxLatencyMs     float64
}

// Option customizes a Collector.
type Option func(*Collector)

// WithClock replaces the wall clock used for throughput windows.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCollector(opts ...Option) *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	c := &Collector{
		hist:         h,
		errorsByType: make(map[string]int64),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.start = c.now()
	return c
}

// Start marks the beginning of the measured run for live rates.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = c.now()
	c.mu.Unlock()
}

// RecordSent counts one outbound message of the given size.
func (c *Collector) RecordSent(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent++
	c.bytesSent += int64(size)
	c.touch()
}

// RecordReceived counts a response correlated to a send.
func (c *Collector) RecordReceived(sample LatencySample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.received++
	c.correlated++
	c.samples = append(c.samples, sample)

	us := int64(sample.LatencyMs * 1000)
	if us < c.hist.LowestTrackableValue() {
		us = c.hist.LowestTrackableValue()
	}
	if us > c.hist.HighestTrackableValue() {
		us = c.hist.HighestTrackableValue()
	}
	_ = c.hist.RecordValue(us)

	c.lastRecvAt = c.touch()
}

// RecordUncorrelated counts a received message toward throughput only.
func (c *Collector) RecordUncorrelated() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.received++
	c.lastRecvAt = c.touch()
}

// RecordConnectionError counts a failed connect or a connection lost mid-run.
func (c *Collector) RecordConnectionError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connErrors++
	if err != nil {
		c.errorsByType[ErrorLabel(err)]++
	}
}

// RecordMismatch counts a response that could not be matched to a send.
func (c *Collector) RecordMismatch() {
	c.mu.Lock()
	c.mismatches++
	c.mu.Unlock()
}

// touch records the first activity timestamp and returns now. Callers hold mu.
func (c *Collector) touch() time.Time {
	now := c.now()
	if c.firstAt.IsZero() {
		c.firstAt = now
	}
	return now
}

// Snapshot returns a deep copy of the current state with computed statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	samples := make([]LatencySample, len(c.samples))
	copy(samples, c.samples)
	snap := Snapshot{
		TotalSent:        c.sent,
		TotalReceived:    c.received,
		Correlated:       c.correlated,
		ConnectionErrors: c.connErrors,
		Mismatches:       c.mismatches,
		BytesSent:        c.bytesSent,
		Samples:          samples,
	}
	if !c.firstAt.IsZero() && c.lastRecvAt.After(c.firstAt) {
		snap.Window = c.lastRecvAt.Sub(c.firstAt)
	}
	if len(c.errorsByType) > 0 {
		snap.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			snap.Errors[k] = int(v)
		}
	}
	c.mu.Unlock()

	latencies := make([]float64, len(samples))
	for i, s := range samples {
		latencies[i] = s.LatencyMs
	}
	snap.Latency = Summarize(latencies)
	snap.Throughput = Throughput(snap.TotalReceived, snap.Window)
	snap.WindowMs = float64(snap.Window) / float64(time.Millisecond)
	return snap
}

// Live returns histogram-based statistics without copying samples.
func (c *Collector) Live() LiveStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.now().Sub(c.start)
	stats := LiveStats{
		Sent:             c.sent,
		Received:         c.received,
		ConnectionErrors: c.connErrors,
		Mismatches:       c.mismatches,
		Elapsed:          elapsed,
		SendRate:         Throughput(c.sent, elapsed),
		ReceiveRate:      Throughput(c.received, elapsed),
	}
	if c.hist.TotalCount() > 0 {
		stats.MeanLatencyMs = c.hist.Mean() / 1000
		stats.P50LatencyMs = float64(c.hist.ValueAtQuantile(50)) / 1000
		stats.P90LatencyMs = float64(c.hist.ValueAtQuantile(90)) / 1000
		stats.P99LatencyMs = float64(c.hist.ValueAtQuantile(99)) / 1000
		stats.MaxLatencyMs = float64(c.hist.Max()) / 1000
	}
	return stats
}

// GetErrorBreakdown returns a map of connection error labels to their counts.
func (c *Collector) GetErrorBreakdown() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]int)
	for k, v := range c.errorsByType {
		result[k] = int(v)
	}
	return result
}
