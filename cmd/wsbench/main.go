package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
	"github.com/lister-potter/Socket-Benchmarks/internal/dashboard"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/output"
	"github.com/lister-potter/Socket-Benchmarks/internal/procmon"
	"github.com/lister-potter/Socket-Benchmarks/internal/runner"
	"github.com/lister-potter/Socket-Benchmarks/internal/threshold"
	"github.com/lister-potter/Socket-Benchmarks/internal/tracing"
)

const progressInterval = time.Second

var errThresholdsFailed = errors.New("thresholds failed")

// pidResolver finds the process listening on a TCP port.
type pidResolver interface {
	Resolve(ctx context.Context, port int) (int32, error)
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pid := resolveServerPID(ctx, *cfg, procmon.NewResolver(logger.Named("procmon")), logger)

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector()
	var bids *metrics.BidTracker
	if cfg.Mode == config.ModeAuction {
		bids = metrics.NewBidTracker()
	}
	var sampler *procmon.Sampler
	if pid > 0 {
		sampler = procmon.NewSampler(procmon.SamplerOptions{
			Interval: cfg.SampleInterval,
			Logger:   logger.Named("procmon"),
		})
	}

	opts := runner.OptionsFromConfig(*cfg)
	opts.ServerPID = pid
	opts.Collector = collector
	opts.Bids = bids
	opts.Tracer = provider.Tracer()
	opts.PropagateTrace = provider.ShouldPropagate()
	opts.Logger = logger.Named("runner")
	if sampler != nil {
		opts.Sampler = sampler
	}

	r, err := runner.New(opts)
	if err != nil {
		return err
	}

	var resources output.ResourceReader
	if sampler != nil {
		resources = sampler
	}

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, metrics.NewExporter(collector, bids, resources), logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.Dashboard {
		dash, err := dashboard.New(collector, bids, resources, dashboardConfig(*cfg, pid), cancel)
		if err != nil {
			return err
		}
		dash.Start()
		defer dash.Stop()
	} else if !cfg.JSONOutput {
		progress := output.NewProgressReporter(collector, bids, resources, progressInterval, stderr)
		progress.Start()
		defer progress.Stop()
	}

	result, err := r.Run(ctx)
	if err != nil {
		return err
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(result)
	report := output.NewReport(*cfg, result, results)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, report)
	}

	path := output.ReportPath(*cfg, report.GeneratedAt)
	if err := output.WriteReportFile(path, cfg.Report.Format, report); err != nil {
		return err
	}
	logger.Info("report written", zap.String("path", path))

	if !threshold.AllPassed(results) {
		failed := 0
		for _, res := range results {
			if !res.Pass {
				failed++
			}
		}
		return fmt.Errorf("%w: %d of %d", errThresholdsFailed, failed, len(results))
	}
	return nil
}

// newLogger builds a zap logger writing to w.
func newLogger(level, format string, w io.Writer) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "", "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// resolveServerPID returns the configured PID, or looks up the process
// listening on the server URL's port. Zero disables resource sampling.
func resolveServerPID(ctx context.Context, cfg config.Config, resolver pidResolver, logger *zap.Logger) int32 {
	if cfg.ServerPID > 0 {
		return int32(cfg.ServerPID)
	}
	port, ok := procmon.PortFromURL(cfg.ServerURL)
	if !ok {
		logger.Warn("cannot determine server port; resource sampling disabled", zap.String("url", cfg.ServerURL))
		return 0
	}
	pid, err := resolver.Resolve(ctx, port)
	if err != nil {
		logger.Warn("server process not detected; resource sampling disabled",
			zap.Int("port", port), zap.Error(err))
		return 0
	}
	logger.Info("detected server process", zap.Int("port", port), zap.Int32("pid", pid))
	return pid
}

// serveMetrics exposes the exporter on addr until the returned stop function
// is called.
func serveMetrics(addr string, exporter prometheus.Collector, logger *zap.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(exporter); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on metrics address: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving prometheus metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func dashboardConfig(cfg config.Config, pid int32) dashboard.RunConfig {
	return dashboard.RunConfig{
		TargetURL: cfg.ServerURL,
		Scenario:  cfg.Scenario,
		Mode:      string(cfg.Mode),
		Pattern:   string(cfg.Pattern),
		Clients:   cfg.Clients,
		Rate:      cfg.Rate,
		Duration:  cfg.Duration,
		ServerPID: pid,
	}
}
