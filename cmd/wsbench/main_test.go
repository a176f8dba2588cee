package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/output"
	"github.com/lister-potter/Socket-Benchmarks/internal/procmon"
	"github.com/lister-potter/Socket-Benchmarks/internal/testserver"
)

type fakeResolver struct {
	pid   int32
	err   error
	ports []int
}

func (f *fakeResolver) Resolve(_ context.Context, port int) (int32, error) {
	f.ports = append(f.ports, port)
	return f.pid, f.err
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("warn", "json", &buf)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", zap.Int("clients", 3))
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, out)
	}
	if entry["msg"] != "shown" || entry["clients"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLoggerConsoleDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("", "", &buf)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Debug("debug line")
	logger.Info("info line")
	_ = logger.Sync()
	if strings.Contains(buf.String(), "debug line") || !strings.Contains(buf.String(), "info line") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	if _, err := newLogger("loud", "console", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger("info", "xml", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestResolveServerPID(t *testing.T) {
	logger := zap.NewNop()

	t.Run("explicit pid wins", func(t *testing.T) {
		r := &fakeResolver{pid: 7}
		cfg := config.Defaults()
		cfg.ServerPID = 1234
		if got := resolveServerPID(context.Background(), cfg, r, logger); got != 1234 {
			t.Errorf("pid = %d, want 1234", got)
		}
		if len(r.ports) != 0 {
			t.Errorf("resolver consulted: %v", r.ports)
		}
	})

	t.Run("port from url", func(t *testing.T) {
		r := &fakeResolver{pid: 42}
		cfg := config.Defaults()
		cfg.ServerURL = "ws://localhost:8081/ws"
		if got := resolveServerPID(context.Background(), cfg, r, logger); got != 42 {
			t.Errorf("pid = %d, want 42", got)
		}
		if len(r.ports) != 1 || r.ports[0] != 8081 {
			t.Errorf("ports = %v, want [8081]", r.ports)
		}
	})

	t.Run("not found disables sampling", func(t *testing.T) {
		r := &fakeResolver{err: procmon.ErrNotFound}
		if got := resolveServerPID(context.Background(), config.Defaults(), r, logger); got != 0 {
			t.Errorf("pid = %d, want 0", got)
		}
	})

	t.Run("unusable url", func(t *testing.T) {
		r := &fakeResolver{pid: 42}
		cfg := config.Defaults()
		cfg.ServerURL = "http://localhost:5000"
		if got := resolveServerPID(context.Background(), cfg, r, logger); got != 0 {
			t.Errorf("pid = %d, want 0", got)
		}
	})
}

func TestDashboardConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Scenario = "100-client-burst"
	cfg.Clients = 100
	cfg.Mode = config.ModeAuction
	cfg.Pattern = config.PatternBurst

	got := dashboardConfig(cfg, 99)
	if got.TargetURL != cfg.ServerURL || got.Clients != 100 || got.Rate != cfg.Rate || got.Duration != cfg.Duration {
		t.Errorf("dashboardConfig() = %+v", got)
	}
	if got.Mode != "auction" || got.Pattern != "burst" || got.Scenario != "100-client-burst" || got.ServerPID != 99 {
		t.Errorf("dashboardConfig() = %+v", got)
	}
}

func TestRunHelp(t *testing.T) {
	if err := run([]string{"--help"}, &bytes.Buffer{}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run(--help) error = %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	err := run([]string{"--clients", "0", "--rate=-1"}, &bytes.Buffer{}, &bytes.Buffer{})
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(verr.Issues()) < 2 {
		t.Errorf("issues = %v", verr.Issues())
	}
}

func TestRunRejectsInvalidThreshold(t *testing.T) {
	err := run([]string{"--threshold", "latency:p42 < 1"}, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unsupported aggregate") {
		t.Fatalf("error = %v", err)
	}
}

func benchArgs(url, dir string, extra ...string) []string {
	args := []string{
		"--server-url", url,
		"--server-pid", strconv.Itoa(os.Getpid()),
		"--clients", "2",
		"--rate", "20",
		"--duration", "300ms",
		"--grace-period", "200ms",
		"--sample-interval", "50ms",
		"--json-output",
		"--log-level", "error",
		"--report-dir", dir,
	}
	return append(args, extra...)
}

func TestRunEchoWritesReport(t *testing.T) {
	srv := httptest.NewServer(testserver.New(testserver.Options{}))
	defer srv.Close()

	dir := t.TempDir()
	args := benchArgs(testserver.WebSocketURL(srv.URL), dir, "--threshold", "sent:count > 0", "--server-language", "Go")
	var stdout, stderr bytes.Buffer
	if err := run(args, &stdout, &stderr); err != nil {
		t.Fatalf("run() error = %v\nstderr: %s", err, stderr.String())
	}

	var report output.Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("stdout is not a JSON report: %v\n%s", err, stdout.String())
	}
	if report.RunID == "" || report.Run.ConnectedClients != 2 {
		t.Errorf("report = %+v", report.Run)
	}
	if report.Run.Metrics.TotalSent == 0 || report.Run.Metrics.Correlated == 0 {
		t.Errorf("metrics = %+v", report.Run.Metrics)
	}
	if len(report.Thresholds) != 1 || !report.Thresholds[0].Pass {
		t.Errorf("thresholds = %+v", report.Thresholds)
	}

	files, err := filepath.Glob(filepath.Join(dir, "benchmark-custom-go-*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("report files = %v (err %v)", files, err)
	}
}

func TestRunZeroGracePeriodSkipsDrain(t *testing.T) {
	srv := httptest.NewServer(testserver.New(testserver.Options{}))
	defer srv.Close()

	args := benchArgs(testserver.WebSocketURL(srv.URL), t.TempDir(), "--grace-period", "0")
	var stdout bytes.Buffer
	if err := run(args, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	var report output.Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("stdout is not a JSON report: %v", err)
	}
	if report.Config.GracePeriodMs != 0 {
		t.Errorf("grace_period_ms = %d", report.Config.GracePeriodMs)
	}
	// 300ms of sending; the 2s default drain would push the run well past 1.5s.
	if elapsed := report.Run.Duration(); elapsed > 1500*time.Millisecond {
		t.Errorf("run took %s with the drain disabled", elapsed)
	}
}

func TestRunFailsOnThreshold(t *testing.T) {
	srv := httptest.NewServer(testserver.New(testserver.Options{}))
	defer srv.Close()

	args := benchArgs(testserver.WebSocketURL(srv.URL), t.TempDir(), "--threshold", "sent:count < 1")
	err := run(args, &bytes.Buffer{}, &bytes.Buffer{})
	if !errors.Is(err, errThresholdsFailed) {
		t.Fatalf("error = %v, want errThresholdsFailed", err)
	}
}

func TestRunAuctionYAMLReport(t *testing.T) {
	srv := httptest.NewServer(testserver.New(testserver.Options{Mode: testserver.ModeAuction}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "nested", "auction.yaml")
	args := benchArgs(testserver.WebSocketURL(srv.URL), t.TempDir(),
		"--mode", "auction", "--report-file", file, "--report-format", "yaml")
	if err := run(args, &bytes.Buffer{}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "bids:") || !strings.Contains(string(data), "mode: auction") {
		t.Errorf("yaml report missing auction fields:\n%s", data)
	}
}

func TestServeMetrics(t *testing.T) {
	stop, err := serveMetrics("127.0.0.1:0", metrics.NewExporter(metrics.NewCollector(), nil, nil), zap.NewNop())
	if err != nil {
		t.Fatalf("serveMetrics() error = %v", err)
	}
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not return")
	}
}
