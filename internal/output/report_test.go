package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/procmon"
	"github.com/lister-potter/Socket-Benchmarks/internal/runner"
	"github.com/lister-potter/Socket-Benchmarks/internal/threshold"
)

func sampleReport() Report {
	cfg := config.Defaults()
	cfg.Scenario = "100-client-burst"
	cfg.ServerLanguage = "go"
	cfg.Clients = 100
	cfg.Mode = config.ModeAuction

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := runner.RunMetrics{
		RunID:            "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		Mode:             "auction",
		Pattern:          "fixed-rate",
		RequestedClients: 100,
		ConnectedClients: 98,
		StartedAt:        start,
		EndedAt:          start.Add(30 * time.Second),
		ServerPID:        4242,
		Metrics: metrics.Snapshot{
			TotalSent:        3000,
			TotalReceived:    2990,
			Correlated:       2985,
			ConnectionErrors: 2,
			Mismatches:       5,
			BytesSent:        2048,
			Throughput:       99.67,
			Latency:          metrics.LatencySummary{Count: 2985, MinMs: 0.4, MaxMs: 42, MeanMs: 3.2, P50Ms: 2.5, P90Ms: 6, P99Ms: 21},
			Errors:           map[string]int{"connection refused": 2},
		},
		Connections: runner.ConnectionTotals{
			FramesSent: 3000, FramesReceived: 3004, BinaryFramesReceived: 4,
			BytesSent: 2048, BytesReceived: 4096, TransportErrors: 1,
		},
		ResourceSummary: procmon.Summary{Samples: 30, AvgCPUPercent: 35.5, PeakCPUPercent: 80, AvgMemoryBytes: 50 << 20, PeakMemoryBytes: 64 << 20},
		Bids: &metrics.BidSummary{
			Placed: 2900, Accepted: 2000, Failed: 900, Rejected: 850, Unresolved: 50,
			AcceptanceRate: 2000.0 / 2900, FailureRate: 900.0 / 2900,
			FailureReasons: map[metrics.FailureReason]int64{metrics.ReasonBidTooLow: 800, metrics.ReasonLotClosed: 50},
		},
	}
	results := []threshold.Result{
		{Raw: "latency:p99 < 50", Actual: 21, Pass: true, Message: "✓ latency:p99 < 50: 21.00 < 50.00"},
		{Raw: "mismatches:count == 0", Actual: 5, Pass: false, Message: "✗ mismatches:count == 0: 5.00 == 0.00"},
	}
	return NewReport(cfg, run, results)
}

func TestNewReport(t *testing.T) {
	r := sampleReport()
	if r.RunID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" || r.Scenario != "100-client-burst" || r.ServerLanguage != "go" {
		t.Fatalf("header = %q %q %q", r.RunID, r.Scenario, r.ServerLanguage)
	}
	if r.Config.Clients != 100 || r.Config.Mode != "auction" || r.Config.DurationMs != 30000 || r.Config.ServerPID != 4242 {
		t.Fatalf("config = %+v", r.Config)
	}
	if r.GeneratedAt.IsZero() {
		t.Fatal("GeneratedAt not set")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())
	out := buf.String()

	for _, want := range []string{
		"--- WebSocket Benchmark Results ---",
		"Scenario:          100-client-burst (go server)",
		"98 connected of 100 requested",
		"Duration:          30s",
		"Sent:            3000 (2.0 KiB)",
		"Mismatches:      5",
		"P99:             21.00ms",
		"Connection Errors: 2",
		"connection refused: 2",
		"Frames Sent:     3000 (2.0 KiB)",
		"Frames Received: 3004 (4.0 KiB)",
		"Binary:        4",
		"I/O Errors:      1",
		"Server Resources (pid 4242, 30 samples)",
		"avg 35.5%, peak 80.0%",
		"avg 50.0 MiB, peak 64.0 MiB",
		"Accepted:        2000 (69.0%)",
		"Unresolved:    50",
		"BidTooLow: 800",
		"Thresholds: 1/2 passed",
		"✗ mismatches:count == 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
	if strings.Index(out, "BidTooLow") > strings.Index(out, "LotClosed") {
		t.Error("failure reasons should be sorted by count")
	}
}

func TestPrintReportEmptyRun(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, NewReport(config.Defaults(), runner.RunMetrics{RequestedClients: 5}, nil))
	out := buf.String()

	if !strings.Contains(out, "No correlated responses") {
		t.Errorf("expected empty latency note\n%s", out)
	}
	for _, absent := range []string{"Server Resources", "Bids:", "Thresholds:"} {
		if strings.Contains(out, absent) {
			t.Errorf("unexpected section %q\n%s", absent, out)
		}
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintJSONReport: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	run, ok := decoded["run"].(map[string]any)
	if !ok {
		t.Fatalf("missing run: %v", decoded)
	}
	m := run["metrics"].(map[string]any)
	if m["total_sent"] != 3000.0 || m["mismatches"] != 5.0 {
		t.Fatalf("metrics = %v", m)
	}
	conns := run["connections"].(map[string]any)
	if conns["binary_frames_received"] != 4.0 || conns["transport_errors"] != 1.0 {
		t.Fatalf("connections = %v", conns)
	}
	bids := run["bids"].(map[string]any)
	if bids["placed"] != 2900.0 {
		t.Fatalf("bids = %v", bids)
	}
	thresholds := decoded["thresholds"].([]any)
	if len(thresholds) != 2 || thresholds[0].(map[string]any)["threshold"] != "latency:p99 < 50" {
		t.Fatalf("thresholds = %v", thresholds)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
