package dashboard

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
)

type fakeResources struct {
	cpu float64
	mem uint64
}

func (f fakeResources) Latest() (float64, uint64, bool) { return f.cpu, f.mem, true }

func TestFormatRunParams(t *testing.T) {
	tests := []struct {
		name     string
		config   RunConfig
		contains []string
		excludes []string
	}{
		{
			name:     "full config",
			config:   RunConfig{Scenario: "100-client-burst", Mode: "echo", Pattern: "burst", Clients: 100, Rate: 10, Duration: 30 * time.Second},
			contains: []string{"Scenario: 100-client-burst", "Mode: echo", "Pattern: burst", "Clients: 100", "Rate: 10/s per client", "Duration: 30s"},
		},
		{
			name:     "fractional rate",
			config:   RunConfig{Clients: 1, Rate: 0.5},
			contains: []string{"Rate: 0.5/s per client"},
			excludes: []string{"Scenario:", "Duration:"},
		},
		{
			name:   "empty",
			config: RunConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatRunParams(tt.config)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("formatRunParams() = %q, missing %q", got, want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("formatRunParams() = %q, should not contain %q", got, unwanted)
				}
			}
			if len(tt.contains) == 0 && got != "" {
				t.Errorf("formatRunParams() = %q, want empty", got)
			}
		})
	}
}

func TestGaugePercent(t *testing.T) {
	tests := []struct {
		current, target float64
		want            int
	}{
		{50, 100, 50},
		{150, 100, 100},
		{10, 0, 0},
		{0, 100, 0},
	}
	for _, tt := range tests {
		if got := gaugePercent(tt.current, tt.target); got != tt.want {
			t.Errorf("gaugePercent(%v, %v) = %d, want %d", tt.current, tt.target, got, tt.want)
		}
	}
}

func TestAppendHistoryBounded(t *testing.T) {
	var h []float64
	for i := 0; i < historyLen+20; i++ {
		h = appendHistory(h, float64(i))
	}
	if len(h) != historyLen {
		t.Fatalf("len = %d, want %d", len(h), historyLen)
	}
	if h[0] != 20 || h[len(h)-1] != float64(historyLen+19) {
		t.Fatalf("history window = [%v ... %v]", h[0], h[len(h)-1])
	}
}

func TestFormatErrorRows(t *testing.T) {
	if rows := formatErrorRows(nil); len(rows) != 1 || !strings.Contains(rows[0], "No errors") {
		t.Fatalf("empty rows = %v", rows)
	}

	rows := formatErrorRows(map[string]int{"timeout": 1, "connection refused": 5, "eof": 1})
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if !strings.Contains(rows[0], "connection refused") || !strings.Contains(rows[0], " 5") {
		t.Errorf("first row = %q", rows[0])
	}
	if !strings.Contains(rows[1], "eof") || !strings.Contains(rows[2], "timeout") {
		t.Errorf("ties should sort by name: %v", rows)
	}

	many := map[string]int{}
	for i := 0; i < 15; i++ {
		many[string(rune('a'+i))] = i
	}
	if rows := formatErrorRows(many); len(rows) != 10 {
		t.Errorf("rows capped at 10, got %d", len(rows))
	}
}

func TestFormatBids(t *testing.T) {
	text := formatBids(metrics.BidCounts{Placed: 10, Accepted: 6, Rejected: 3})
	for _, want := range []string{"Placed:    10", "[6](fg:green) (60.0%)", "[3](fg:red)", "Pending:   1"} {
		if !strings.Contains(text, want) {
			t.Errorf("formatBids missing %q:\n%s", want, text)
		}
	}
	if text := formatBids(metrics.BidCounts{}); !strings.Contains(text, "(0.0%)") {
		t.Errorf("zero bids:\n%s", text)
	}
}

func TestFormatServer(t *testing.T) {
	text := formatServer(4242, 12.5, 256*1024*1024, []float64{5, 40, 12.5})
	for _, want := range []string{"PID:      4242", "CPU:      12.5% (peak 40.0%)", "Memory:   256.0 MB"} {
		if !strings.Contains(text, want) {
			t.Errorf("formatServer missing %q:\n%s", want, text)
		}
	}
}

func TestUpdateFillsWidgets(t *testing.T) {
	collector := metrics.NewCollector()
	collector.Start()
	for i := 0; i < 4; i++ {
		collector.RecordSent(16)
		collector.RecordReceived(metrics.LatencySample{MessageID: int64(i + 1), LatencyMs: 3})
	}
	collector.RecordMismatch()
	collector.RecordConnectionError(errors.New("connection refused"))

	bids := metrics.NewBidTracker()
	if err := bids.RecordPlaced("lot-1", "bidder-0", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := bids.RecordAccepted("lot-1", "bidder-0"); err != nil {
		t.Fatal(err)
	}

	d := newDashboard(collector, bids, fakeResources{cpu: 33, mem: 8 << 20}, RunConfig{
		TargetURL: "ws://localhost:5000/ws",
		Clients:   2,
		Rate:      10,
		ServerPID: 99,
	})
	d.update()

	if !strings.Contains(d.summaryPara.Text, "ws://localhost:5000/ws") {
		t.Errorf("summary = %q", d.summaryPara.Text)
	}
	if !strings.Contains(d.messagesPara.Text, "Sent:          4") || !strings.Contains(d.messagesPara.Text, "Mismatches:    1") {
		t.Errorf("messages = %q", d.messagesPara.Text)
	}
	if !strings.HasSuffix(d.rateGauge.Label, "/ 20.0 msg/s") {
		t.Errorf("gauge label = %q", d.rateGauge.Label)
	}
	if len(d.latencyHistory) != 1 {
		t.Errorf("latency history = %v", d.latencyHistory)
	}
	if !strings.Contains(d.serverPara.Text, "PID:      99") || !strings.Contains(d.serverPara.Text, "33.0%") {
		t.Errorf("server = %q", d.serverPara.Text)
	}
	if !strings.Contains(d.bidsPara.Text, "Placed:    1") {
		t.Errorf("bids = %q", d.bidsPara.Text)
	}
	if len(d.errorList.Rows) != 1 || strings.Contains(d.errorList.Rows[0], "No errors") {
		t.Errorf("error rows = %v", d.errorList.Rows)
	}
}

func TestUpdateWithoutOptionalSources(t *testing.T) {
	collector := metrics.NewCollector()
	collector.Start()
	d := newDashboard(collector, nil, nil, RunConfig{})
	d.update()

	if !strings.Contains(d.serverPara.Text, "Not sampling") {
		t.Errorf("server = %q", d.serverPara.Text)
	}
	if !strings.Contains(d.bidsPara.Text, "Echo mode") {
		t.Errorf("bids = %q", d.bidsPara.Text)
	}
	if d.rateGauge.Percent != 0 {
		t.Errorf("gauge = %d", d.rateGauge.Percent)
	}
}
