package runner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lister-potter/Socket-Benchmarks/internal/correlation"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/pool"
	"github.com/lister-potter/Socket-Benchmarks/internal/procmon"
	"github.com/lister-potter/Socket-Benchmarks/internal/tracing"
	"github.com/lister-potter/Socket-Benchmarks/internal/websocket"
)

// State is the lifecycle phase of a Runner.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RunMetrics is the immutable outcome of one run.
type RunMetrics struct {
	RunID            string              `json:"run_id"`
	Mode             string              `json:"mode"`
	Pattern          string              `json:"pattern"`
	RequestedClients int                 `json:"requested_clients"`
	ConnectedClients int                 `json:"connected_clients"`
	StartedAt        time.Time           `json:"started_at"`
	EndedAt          time.Time           `json:"ended_at"`
	ServerPID        int32               `json:"server_pid,omitempty"`
	Metrics          metrics.Snapshot    `json:"metrics"`
	Resources        []procmon.Snapshot  `json:"resources,omitempty"`
	ResourceSummary  procmon.Summary     `json:"resource_summary"`
	Bids             *metrics.BidSummary `json:"bids,omitempty"`
	Connections      ConnectionTotals    `json:"connections"`
}

// Duration is the wall-clock length of the run.
func (m RunMetrics) Duration() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

// Runner executes one benchmark run: connect, send and receive, drain,
// close, aggregate.
type Runner struct {
	opt   Options
	id    ulid.ULID
	state atomic.Int32
	once  atomic.Bool
}

// New validates opt and returns an idle runner.
func New(opt Options) (*Runner, error) {
	opt.normalize()
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &Runner{opt: opt, id: ulid.Make()}, nil
}

// ID identifies the run in reports and logs.
func (r *Runner) ID() string { return r.id.String() }

// State returns the current lifecycle phase.
func (r *Runner) State() State { return State(r.state.Load()) }

// Collector returns the aggregator the run records into.
func (r *Runner) Collector() *metrics.Collector { return r.opt.Collector }

// Bids returns the bid tracker, or nil outside auction mode.
func (r *Runner) Bids() *metrics.BidTracker { return r.opt.Bids }

func (r *Runner) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev != s {
		r.opt.Logger.Debug("run state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run executes the run once and returns its metrics. Degraded runs (few or no
// live connections) are reported through the counts, not as an error. A
// second call returns an error.
func (r *Runner) Run(ctx context.Context) (RunMetrics, error) {
	if !r.once.CompareAndSwap(false, true) {
		return RunMetrics{}, fmt.Errorf("run %s already started", r.ID())
	}

	opt := &r.opt
	log := opt.Logger.With(zap.String("run_id", r.ID()))
	result := RunMetrics{
		RunID:            r.ID(),
		Mode:             string(opt.Mode),
		Pattern:          string(opt.Pattern),
		RequestedClients: opt.Clients,
		ServerPID:        opt.ServerPID,
		StartedAt:        time.Now(),
	}

	runCtx, runSpan := tracing.StartPhaseSpan(ctx, opt.Tracer, tracing.PhaseRun,
		attribute.String("wsbench.run_id", r.ID()),
		attribute.String("wsbench.mode", string(opt.Mode)),
		attribute.String("wsbench.pattern", string(opt.Pattern)),
		attribute.Int("wsbench.clients", opt.Clients))

	var conns []*websocket.Conn
	samplerRunning := false
	// Cleanup runs on every path so the run always reaches Closed.
	defer func() {
		pool.CloseAll(conns)
		if samplerRunning {
			opt.Sampler.Stop()
		}
		r.setState(StateClosed)
	}()

	if opt.Sampler != nil && opt.ServerPID > 0 {
		opt.Sampler.Start(runCtx, opt.ServerPID)
		samplerRunning = true
		log.Info("sampling server resources", zap.Int32("pid", opt.ServerPID))
	}

	// Connect.
	r.setState(StateConnecting)
	conns = r.connect(runCtx, log)
	live := pool.Alive(conns)
	result.ConnectedClients = len(live)
	if len(live) == 0 {
		log.Warn("no live connections; nothing to send", zap.Int("requested", opt.Clients))
	}

	// Send and receive.
	r.setState(StateRunning)
	opt.Collector.Start()
	sendCtx, sendSpan := tracing.StartPhaseSpan(runCtx, opt.Tracer, tracing.PhaseSend,
		attribute.Int("wsbench.live_clients", len(live)))
	sendCtx, cancelSend := context.WithTimeout(sendCtx, opt.Duration)
	recvCtx, cancelRecv := context.WithCancel(runCtx)

	var receivers errgroup.Group
	var senders sync.WaitGroup
	bidSeq := new(atomic.Int64)
	for _, conn := range live {
		queue := correlation.NewQueue()
		rcv := newReceiver(conn, queue, opt)
		snd := newSender(conn, queue, opt, bidSeq)
		receivers.Go(func() error {
			rcv.run(recvCtx)
			return nil
		})
		senders.Add(1)
		go func() {
			defer senders.Done()
			snd.run(sendCtx)
		}()
	}
	senders.Wait()
	cancelSend()
	sendSpan.End()

	// Drain.
	r.setState(StateDraining)
	_, drainSpan := tracing.StartPhaseSpan(runCtx, opt.Tracer, tracing.PhaseDrain)
	if opt.GracePeriod > 0 && len(live) > 0 {
		select {
		case <-time.After(opt.GracePeriod):
		case <-ctx.Done():
		}
	}
	cancelRecv()
	_ = receivers.Wait()
	drainSpan.End()

	// Close.
	_, closeSpan := tracing.StartPhaseSpan(runCtx, opt.Tracer, tracing.PhaseClose)
	result.Connections = tallyConnections(conns)
	pool.CloseAll(conns)
	if samplerRunning {
		opt.Sampler.Stop()
		samplerRunning = false
	}
	closeSpan.End()

	result.EndedAt = time.Now()
	result.Metrics = opt.Collector.Snapshot()
	if opt.Sampler != nil && opt.ServerPID > 0 {
		result.Resources = opt.Sampler.Snapshots()
		result.ResourceSummary = procmon.Summarize(result.Resources)
	}
	if opt.Bids != nil {
		bids := opt.Bids.Snapshot()
		result.Bids = &bids
	}

	tracing.EndSpan(runSpan, nil,
		attribute.Int("wsbench.connected_clients", result.ConnectedClients),
		attribute.Int64("wsbench.sent", result.Metrics.TotalSent),
		attribute.Int64("wsbench.received", result.Metrics.TotalReceived))
	log.Info("run finished",
		zap.Int("connected", result.ConnectedClients),
		zap.Int64("sent", result.Metrics.TotalSent),
		zap.Int64("received", result.Metrics.TotalReceived),
		zap.Int64("mismatches", result.Metrics.Mismatches),
		zap.Int64("binary_frames", result.Connections.BinaryFramesReceived),
		zap.Duration("elapsed", result.Duration()))
	return result, nil
}

func (r *Runner) connect(ctx context.Context, log *zap.Logger) []*websocket.Conn {
	opt := &r.opt
	ctx, span := tracing.StartPhaseSpan(ctx, opt.Tracer, tracing.PhaseConnect,
		attribute.String("wsbench.url", opt.URL))
	defer span.End()

	p := pool.New(func(id int) *websocket.Conn {
		headers := make(http.Header, len(opt.Headers))
		for k, v := range opt.Headers {
			headers.Set(k, v)
		}
		if opt.PropagateTrace {
			tracing.InjectHTTPHeaders(ctx, headers)
		}
		return websocket.NewConn(id, websocket.Config{
			URL:              opt.URL,
			Headers:          headers,
			HandshakeTimeout: opt.HandshakeTimeout,
			WriteTimeout:     opt.WriteTimeout,
			MaxMessageSize:   opt.MaxMessageSize,
		})
	}, pool.Options{
		MaxInFlight: opt.ConnectConcurrency,
		ConnectRate: opt.ConnectRate,
		OnError: func(_ int, err error) {
			opt.Collector.RecordConnectionError(err)
		},
		Logger: log.Named("pool"),
	})
	conns := p.Connect(ctx, opt.Clients)
	span.SetAttributes(attribute.Int("wsbench.live_clients", pool.CountAlive(conns)))
	return conns
}
