// Package procmon samples CPU and memory of the server under test.
package procmon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot is one resource sample of the monitored process.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryBytes uint64    `json:"memory_bytes"`
}

// Reading is the raw process state a sample is derived from.
type Reading struct {
	CPUSeconds  float64
	MemoryBytes uint64
}

// Probe reads the current state of a process.
type Probe interface {
	Read(ctx context.Context) (Reading, error)
}

// ProbeFactory opens a probe for pid.
type ProbeFactory func(ctx context.Context, pid int32) (Probe, error)

type gopsutilProbe struct {
	proc *process.Process
}

func (p gopsutilProbe) Read(ctx context.Context) (Reading, error) {
	times, err := p.proc.TimesWithContext(ctx)
	if err != nil {
		return Reading{}, err
	}
	mem, err := p.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Reading{}, err
	}
	return Reading{CPUSeconds: times.User + times.System, MemoryBytes: mem.RSS}, nil
}

// OpenProcess is the default ProbeFactory, backed by gopsutil.
func OpenProcess(ctx context.Context, pid int32) (Probe, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	return gopsutilProbe{proc: proc}, nil
}

// SamplerOptions configure a Sampler.
type SamplerOptions struct {
	Interval    time.Duration // default 1s
	StopTimeout time.Duration // how long Stop waits for the loop, default 5s
	Open        ProbeFactory  // default OpenProcess
	Logger      *zap.Logger
}

// Sampler periodically records CPU% and resident memory of one process.
// Failed ticks produce no snapshot; sampling continues.
type Sampler struct {
	opt SamplerOptions

	mu        sync.Mutex
	snapshots []Snapshot
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSampler creates an idle sampler.
func NewSampler(opt SamplerOptions) *Sampler {
	if opt.Interval <= 0 {
		opt.Interval = time.Second
	}
	if opt.StopTimeout <= 0 {
		opt.StopTimeout = 5 * time.Second
	}
	if opt.Open == nil {
		opt.Open = OpenProcess
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Sampler{opt: opt}
}

// Start launches background sampling of pid. Calling Start while running is a no-op.
func (s *Sampler) Start(ctx context.Context, pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, pid, s.done)
}

func (s *Sampler) run(ctx context.Context, pid int32, done chan struct{}) {
	defer close(done)
	log := s.opt.Logger.With(zap.Int32("pid", pid))

	var probe Probe
	var prev Reading
	var prevAt time.Time
	havePrev := false

	sample := func() {
		if probe == nil {
			p, err := s.opt.Open(ctx, pid)
			if err != nil {
				log.Debug("process unavailable", zap.Error(err))
				return
			}
			probe = p
		}
		reading, err := probe.Read(ctx)
		now := time.Now()
		if err != nil {
			log.Debug("resource sample failed", zap.Error(err))
			return
		}
		if havePrev {
			wall := now.Sub(prevAt).Seconds()
			cpu := 0.0
			if wall > 0 {
				cpu = (reading.CPUSeconds - prev.CPUSeconds) / wall * 100
			}
			if cpu < 0 {
				cpu = 0
			}
			s.append(Snapshot{Timestamp: now, CPUPercent: cpu, MemoryBytes: reading.MemoryBytes})
		}
		prev, prevAt, havePrev = reading, now, true
	}

	// Baseline for the first CPU delta.
	sample()

	ticker := time.NewTicker(s.opt.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (s *Sampler) append(snap Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

// Stop cancels sampling and waits up to StopTimeout for the loop to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(s.opt.StopTimeout):
		s.opt.Logger.Warn("resource sampler did not stop in time")
	}
}

// Snapshots returns a copy of the samples taken so far.
func (s *Sampler) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() (float64, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return 0, 0, false
	}
	last := s.snapshots[len(s.snapshots)-1]
	return last.CPUPercent, last.MemoryBytes, true
}

// Summary aggregates a snapshot series.
type Summary struct {
	Samples         int     `json:"samples"`
	AvgCPUPercent   float64 `json:"avg_cpu_percent"`
	PeakCPUPercent  float64 `json:"peak_cpu_percent"`
	AvgMemoryBytes  uint64  `json:"avg_memory_bytes"`
	PeakMemoryBytes uint64  `json:"peak_memory_bytes"`
}

// Summarize computes average and peak CPU and memory.
func Summarize(snaps []Snapshot) Summary {
	if len(snaps) == 0 {
		return Summary{}
	}
	var cpuSum float64
	var memSum uint64
	sum := Summary{Samples: len(snaps)}
	for _, s := range snaps {
		cpuSum += s.CPUPercent
		memSum += s.MemoryBytes
		if s.CPUPercent > sum.PeakCPUPercent {
			sum.PeakCPUPercent = s.CPUPercent
		}
		if s.MemoryBytes > sum.PeakMemoryBytes {
			sum.PeakMemoryBytes = s.MemoryBytes
		}
	}
	sum.AvgCPUPercent = cpuSum / float64(len(snaps))
	sum.AvgMemoryBytes = memSum / uint64(len(snaps))
	return sum
}
