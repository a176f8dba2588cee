package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/runner"
	"github.com/lister-potter/Socket-Benchmarks/internal/threshold"
)

// Report is the persisted and printed outcome of one benchmark run.
type Report struct {
	RunID          string             `json:"run_id"`
	Scenario       string             `json:"scenario"`
	ServerLanguage string             `json:"server_language"`
	GeneratedAt    time.Time          `json:"generated_at"`
	Config         RunConfig          `json:"config"`
	Run            runner.RunMetrics  `json:"run"`
	Thresholds     []threshold.Result `json:"thresholds,omitempty"`
}

// RunConfig echoes the settings that shaped the run.
type RunConfig struct {
	ServerURL     string  `json:"server_url"`
	Mode          string  `json:"mode"`
	Pattern       string  `json:"pattern"`
	Clients       int     `json:"clients"`
	Rate          float64 `json:"rate"`
	MessageSize   int     `json:"message_size"`
	DurationMs    int64   `json:"duration_ms"`
	GracePeriodMs int64   `json:"grace_period_ms"`
	ServerPID     int32   `json:"server_pid,omitempty"`
}

// NewReport assembles a report from the configuration and the run outcome.
func NewReport(cfg config.Config, run runner.RunMetrics, results []threshold.Result) Report {
	return Report{
		RunID:          run.RunID,
		Scenario:       cfg.Scenario,
		ServerLanguage: cfg.ServerLanguage,
		GeneratedAt:    time.Now().UTC(),
		Config: RunConfig{
			ServerURL:     cfg.ServerURL,
			Mode:          string(cfg.Mode),
			Pattern:       string(cfg.Pattern),
			Clients:       cfg.Clients,
			Rate:          cfg.Rate,
			MessageSize:   cfg.MessageSize,
			DurationMs:    cfg.Duration.Milliseconds(),
			GracePeriodMs: cfg.GracePeriod.Milliseconds(),
			ServerPID:     run.ServerPID,
		},
		Run:        run,
		Thresholds: results,
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	run := r.Run
	m := run.Metrics

	fmt.Fprintln(w, "\n--- WebSocket Benchmark Results ---")
	fmt.Fprintf(w, "Run:               %s\n", r.RunID)
	fmt.Fprintf(w, "Scenario:          %s (%s server)\n", r.Scenario, r.ServerLanguage)
	fmt.Fprintf(w, "Target:            %s\n", r.Config.ServerURL)
	fmt.Fprintf(w, "Mode / Pattern:    %s / %s\n", run.Mode, run.Pattern)
	fmt.Fprintf(w, "Clients:           %d connected of %d requested\n", run.ConnectedClients, run.RequestedClients)
	fmt.Fprintf(w, "Duration:          %s\n", run.Duration().Round(time.Millisecond))

	fmt.Fprintln(w, "\nMessages:")
	fmt.Fprintf(w, "  Sent:            %d (%s)\n", m.TotalSent, formatBytes(uint64(m.BytesSent)))
	fmt.Fprintf(w, "  Received:        %d\n", m.TotalReceived)
	fmt.Fprintf(w, "  Correlated:      %d\n", m.Correlated)
	fmt.Fprintf(w, "  Mismatches:      %d\n", m.Mismatches)
	fmt.Fprintf(w, "  Throughput:      %.2f msg/s\n", m.Throughput)

	fmt.Fprintln(w, "\nLatency:")
	if m.Latency.Count == 0 {
		fmt.Fprintln(w, "  No correlated responses")
	} else {
		fmt.Fprintf(w, "  Min:             %.2fms\n", m.Latency.MinMs)
		fmt.Fprintf(w, "  Max:             %.2fms\n", m.Latency.MaxMs)
		fmt.Fprintf(w, "  Mean:            %.2fms\n", m.Latency.MeanMs)
		fmt.Fprintf(w, "  P50:             %.2fms\n", m.Latency.P50Ms)
		fmt.Fprintf(w, "  P90:             %.2fms\n", m.Latency.P90Ms)
		fmt.Fprintf(w, "  P99:             %.2fms\n", m.Latency.P99Ms)
	}

	fmt.Fprintf(w, "\nConnection Errors: %d\n", m.ConnectionErrors)
	writeCounts(w, m.Errors, "  ")

	c := run.Connections
	fmt.Fprintln(w, "\nConnections:")
	fmt.Fprintf(w, "  Frames Sent:     %d (%s)\n", c.FramesSent, formatBytes(uint64(c.BytesSent)))
	fmt.Fprintf(w, "  Frames Received: %d (%s)\n", c.FramesReceived, formatBytes(uint64(c.BytesReceived)))
	fmt.Fprintf(w, "    Binary:        %d\n", c.BinaryFramesReceived)
	fmt.Fprintf(w, "  I/O Errors:      %d\n", c.TransportErrors)

	if s := run.ResourceSummary; s.Samples > 0 {
		fmt.Fprintf(w, "\nServer Resources (pid %d, %d samples):\n", run.ServerPID, s.Samples)
		fmt.Fprintf(w, "  CPU:             avg %.1f%%, peak %.1f%%\n", s.AvgCPUPercent, s.PeakCPUPercent)
		fmt.Fprintf(w, "  Memory:          avg %s, peak %s\n", formatBytes(s.AvgMemoryBytes), formatBytes(s.PeakMemoryBytes))
	}

	if b := run.Bids; b != nil {
		fmt.Fprintln(w, "\nBids:")
		fmt.Fprintf(w, "  Placed:          %d\n", b.Placed)
		fmt.Fprintf(w, "  Accepted:        %d (%.1f%%)\n", b.Accepted, b.AcceptanceRate*100)
		fmt.Fprintf(w, "  Failed:          %d (%.1f%%)\n", b.Failed, b.FailureRate*100)
		fmt.Fprintf(w, "    Rejected:      %d\n", b.Rejected)
		fmt.Fprintf(w, "    Unresolved:    %d\n", b.Unresolved)
		if len(b.FailureReasons) > 0 {
			reasons := make(map[string]int, len(b.FailureReasons))
			for reason, n := range b.FailureReasons {
				reasons[string(reason)] = int(n)
			}
			fmt.Fprintln(w, "  Failure Reasons:")
			writeCounts(w, reasons, "    ")
		}
	}

	if len(r.Thresholds) > 0 {
		passed := 0
		for _, t := range r.Thresholds {
			if t.Pass {
				passed++
			}
		}
		fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", passed, len(r.Thresholds))
		for _, t := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", t.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// writeCounts prints name: count lines, largest first.
func writeCounts(w io.Writer, counts map[string]int, indent string) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(w, "%s%s: %d\n", indent, name, counts[name])
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// errorBreakdown flattens a collector's error map for callers that only hold
// a live collector.
func errorBreakdown(c *metrics.Collector) string {
	counts := c.GetErrorBreakdown()
	if len(counts) == 0 {
		return ""
	}
	var b strings.Builder
	writeCounts(&b, counts, "")
	return strings.ReplaceAll(strings.TrimRight(b.String(), "\n"), "\n", ", ")
}
