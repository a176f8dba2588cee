package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/procmon"
)

// ResourceSampler samples the server process while the run is in progress.
type ResourceSampler interface {
	Start(ctx context.Context, pid int32)
	Stop()
	Snapshots() []procmon.Snapshot
}

// NoGracePeriod skips the drain wait. An unset GracePeriod gets the default.
const NoGracePeriod time.Duration = -1

// Options configure a Runner.
type Options struct {
	URL         string            // ws:// or wss:// endpoint (required)
	Headers     map[string]string // extra handshake headers
	Clients     int               // connections to open (required)
	Rate        float64           // messages per second per client (required)
	MessageSize int               // echo payload bytes
	Duration    time.Duration     // send phase length (required)
	Pattern     config.Pattern    // default fixed-rate
	Mode        config.Mode       // default echo
	GracePeriod time.Duration     // wait for in-flight responses after sending (default 2s, NoGracePeriod disables)

	ConnectConcurrency int     // concurrent connection attempts (default 100)
	ConnectRate        float64 // connection attempts per second (0 means unlimited)
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	MaxMessageSize     int64

	ServerPID int32           // server process to sample (0 disables sampling)
	Sampler   ResourceSampler // optional; created from SampleInterval when nil
	// SampleInterval is the sampling period when the runner creates its own sampler.
	SampleInterval time.Duration

	Collector      *metrics.Collector  // created when nil
	Bids           *metrics.BidTracker // auction mode only; created when nil
	Tracer         trace.Tracer        // defaults to a no-op tracer
	PropagateTrace bool                // inject W3C trace headers into each handshake
	Logger         *zap.Logger

	// ReadRetryDelay is the pause after a transient read error (default 100ms).
	ReadRetryDelay time.Duration
	// JoinWait is how long an auction client waits after joining its lot
	// before bidding (default 100ms).
	JoinWait time.Duration
}

func (o *Options) normalize() {
	if o.Pattern == "" {
		o.Pattern = config.PatternFixedRate
	}
	if o.Mode == "" {
		o.Mode = config.ModeEcho
	}
	if o.GracePeriod == 0 {
		o.GracePeriod = 2 * time.Second
	}
	if o.MessageSize < 0 {
		o.MessageSize = 0
	}
	if o.ConnectRate < 0 {
		o.ConnectRate = 0
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = time.Second
	}
	if o.ReadRetryDelay <= 0 {
		o.ReadRetryDelay = 100 * time.Millisecond
	}
	if o.JoinWait == 0 {
		o.JoinWait = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("wsbench")
	}
	if o.Collector == nil {
		o.Collector = metrics.NewCollector()
	}
	if o.Mode == config.ModeAuction && o.Bids == nil {
		o.Bids = metrics.NewBidTracker()
	}
	if o.ServerPID > 0 && o.Sampler == nil {
		o.Sampler = procmon.NewSampler(procmon.SamplerOptions{
			Interval: o.SampleInterval,
			Logger:   o.Logger.Named("procmon"),
		})
	}
}

func (o Options) validate() error {
	var issues []string
	if strings.TrimSpace(o.URL) == "" {
		issues = append(issues, "url is required")
	} else if _, ok := procmon.PortFromURL(o.URL); !ok {
		issues = append(issues, fmt.Sprintf("url %q must be ws:// or wss:// with a host and a valid port", o.URL))
	}
	if o.Clients < 1 {
		issues = append(issues, "clients must be >= 1")
	}
	if _, err := periodFor(o.Rate); err != nil {
		issues = append(issues, "rate must be a positive number")
	}
	if o.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}
	switch o.Pattern {
	case config.PatternFixedRate, config.PatternBurst, config.PatternRampUp:
	default:
		issues = append(issues, fmt.Sprintf("unknown pattern %q", o.Pattern))
	}
	switch o.Mode {
	case config.ModeEcho, config.ModeAuction:
	default:
		issues = append(issues, fmt.Sprintf("unknown mode %q", o.Mode))
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(issues, "; "))
	}
	return nil
}

// OptionsFromConfig maps a loaded configuration onto runner options. Shared
// collaborators (collector, tracker, sampler, tracer, logger) are left for
// the caller to fill in. A configured grace period of zero disables the drain
// wait, since the configuration already carries its own default.
func OptionsFromConfig(cfg config.Config) Options {
	grace := cfg.GracePeriod
	if grace == 0 {
		grace = NoGracePeriod
	}
	return Options{
		URL:                cfg.ServerURL,
		Headers:            cfg.Headers,
		Clients:            cfg.Clients,
		Rate:               cfg.Rate,
		MessageSize:        cfg.MessageSize,
		Duration:           cfg.Duration,
		Pattern:            cfg.Pattern,
		Mode:               cfg.Mode,
		GracePeriod:        grace,
		ConnectConcurrency: cfg.ConnectConcurrency,
		ConnectRate:        cfg.ConnectRate,
		HandshakeTimeout:   cfg.HandshakeTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		MaxMessageSize:     cfg.MaxMessageSize,
		ServerPID:          int32(cfg.ServerPID),
		SampleInterval:     cfg.SampleInterval,
		PropagateTrace:     cfg.Tracing.ShouldPropagate(),
	}
}
