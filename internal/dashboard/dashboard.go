package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
)

// RunConfig holds the run parameters shown in the header.
type RunConfig struct {
	TargetURL string
	Scenario  string
	Mode      string
	Pattern   string
	Clients   int
	Rate      float64 // messages per second per client
	Duration  time.Duration
	ServerPID int32
}

// ResourceReader reports the most recent server resource sample.
type ResourceReader interface {
	Latest() (cpuPercent float64, memoryBytes uint64, ok bool)
}

const historyLen = 100

// Dashboard renders a live terminal UI for a benchmark run.
type Dashboard struct {
	collector    *metrics.Collector
	bids         *metrics.BidTracker
	resources    ResourceReader
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	rateGauge      *widgets.Gauge
	messagesPara   *widgets.Paragraph
	latencySpark   *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	serverPara     *widgets.Paragraph
	bidsPara       *widgets.Paragraph
	errorList      *widgets.List
	latencyHistory []float64
	cpuHistory     []float64
	startTime      time.Time
	cfg            RunConfig
}

// New initializes the terminal and builds the dashboard. bids and resources
// may be nil. shutdownFunc is called when the user presses q or Ctrl-C.
func New(collector *metrics.Collector, bids *metrics.BidTracker, resources ResourceReader, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := newDashboard(collector, bids, resources, cfg)
	d.ctx = ctx
	d.cancel = cancel
	d.shutdownFunc = shutdownFunc
	d.setupGrid()
	return d, nil
}

// newDashboard builds the widgets without touching the terminal.
func newDashboard(collector *metrics.Collector, bids *metrics.BidTracker, resources ResourceReader, cfg RunConfig) *Dashboard {
	d := &Dashboard{
		collector:      collector,
		bids:           bids,
		resources:      resources,
		latencyHistory: make([]float64, 0, historyLen),
		cpuHistory:     make([]float64, 0, historyLen),
		startTime:      time.Now(),
		cfg:            cfg,
	}
	d.initWidgets()
	return d
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run"
	d.summaryPara.Text = "Connecting..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.rateGauge = widgets.NewGauge()
	d.rateGauge.Title = "Send Rate vs Target"
	d.rateGauge.BarColor = ui.ColorBlue
	d.rateGauge.BorderStyle.Fg = ui.ColorCyan
	d.rateGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.messagesPara = widgets.NewParagraph()
	d.messagesPara.Title = "Messages"
	d.messagesPara.Text = "Waiting for data..."
	d.messagesPara.BorderStyle.Fg = ui.ColorCyan

	sparkline := widgets.NewSparkline()
	sparkline.Title = "P50 (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.latencySpark = widgets.NewSparklineGroup(sparkline)
	d.latencySpark.Title = "Latency"
	d.latencySpark.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = formatLatency(metrics.LiveStats{})
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.serverPara = widgets.NewParagraph()
	d.serverPara.Title = "Server Process"
	d.serverPara.Text = "[Not sampling](fg:yellow)"
	d.serverPara.BorderStyle.Fg = ui.ColorCyan

	d.bidsPara = widgets.NewParagraph()
	d.bidsPara.Title = "Bids"
	d.bidsPara.Text = "[Echo mode](fg:green)"
	d.bidsPara.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Connection Errors"
	d.errorList.Rows = []string{"[No errors](fg:green)"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.22,
			ui.NewCol(0.5, d.rateGauge),
			ui.NewCol(0.5, d.messagesPara),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.65, d.latencySpark),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.36,
			ui.NewCol(0.33, d.serverPara),
			ui.NewCol(0.33, d.bidsPara),
			ui.NewCol(0.34, d.errorList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give the terminal time to restore.
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context once the run has wound down.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes all widget data.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	live := d.collector.Live()
	elapsed := time.Since(d.startTime)

	d.summaryPara.Text = fmt.Sprintf("Target: %s\n%s\nElapsed: %s",
		d.cfg.TargetURL, formatRunParams(d.cfg), elapsed.Round(time.Second))

	target := float64(d.cfg.Clients) * d.cfg.Rate
	d.rateGauge.Percent = gaugePercent(live.SendRate, target)
	d.rateGauge.Label = fmt.Sprintf("%.1f / %.1f msg/s", live.SendRate, target)

	d.messagesPara.Text = formatMessages(live)
	d.latencyPara.Text = formatLatency(live)
	if live.P50LatencyMs > 0 {
		d.latencyHistory = appendHistory(d.latencyHistory, live.P50LatencyMs)
		d.latencySpark.Sparklines[0].Data = d.latencyHistory
		d.latencySpark.Title = fmt.Sprintf("Latency | P50 %.2fms | P99 %.2fms | Max %.2fms",
			live.P50LatencyMs, live.P99LatencyMs, live.MaxLatencyMs)
	}

	if d.resources != nil {
		if cpu, mem, ok := d.resources.Latest(); ok {
			d.cpuHistory = appendHistory(d.cpuHistory, cpu)
			d.serverPara.Text = formatServer(d.cfg.ServerPID, cpu, mem, d.cpuHistory)
		}
	}
	if d.bids != nil {
		d.bidsPara.Text = formatBids(d.bids.Counts())
	}
	d.errorList.Rows = formatErrorRows(d.collector.GetErrorBreakdown())
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func appendHistory(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historyLen {
		history = history[1:]
	}
	return history
}

func gaugePercent(current, target float64) int {
	if target <= 0 || current <= 0 {
		return 0
	}
	pct := int(current / target * 100)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func formatMessages(live metrics.LiveStats) string {
	return fmt.Sprintf(
		"Sent:          %d (%.1f/s)\nReceived:      %d (%.1f/s)\nMismatches:    %d\nConn Errors:   %d",
		live.Sent, live.SendRate,
		live.Received, live.ReceiveRate,
		live.Mismatches,
		live.ConnectionErrors,
	)
}

func formatLatency(live metrics.LiveStats) string {
	return fmt.Sprintf("Mean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms\nMax:  %.2fms",
		live.MeanLatencyMs, live.P50LatencyMs, live.P90LatencyMs, live.P99LatencyMs, live.MaxLatencyMs)
}

func formatServer(pid int32, cpu float64, mem uint64, cpuHistory []float64) string {
	peak := 0.0
	for _, v := range cpuHistory {
		if v > peak {
			peak = v
		}
	}
	return fmt.Sprintf("PID:      %d\nCPU:      %.1f%% (peak %.1f%%)\nMemory:   %.1f MB",
		pid, cpu, peak, float64(mem)/(1024*1024))
}

func formatBids(c metrics.BidCounts) string {
	failed := c.Placed - c.Accepted
	acceptance := 0.0
	if c.Placed > 0 {
		acceptance = float64(c.Accepted) / float64(c.Placed) * 100
	}
	return fmt.Sprintf("Placed:    %d\nAccepted:  [%d](fg:green) (%.1f%%)\nRejected:  [%d](fg:red)\nPending:   %d",
		c.Placed, c.Accepted, acceptance, c.Rejected, failed-c.Rejected)
}

func formatErrorRows(breakdown map[string]int) []string {
	if len(breakdown) == 0 {
		return []string{"[No errors](fg:green)"}
	}
	names := make([]string, 0, len(breakdown))
	for name := range breakdown {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if breakdown[names[i]] == breakdown[names[j]] {
			return names[i] < names[j]
		}
		return breakdown[names[i]] > breakdown[names[j]]
	})
	if len(names) > 10 {
		names = names[:10]
	}
	rows := make([]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", name, breakdown[name]))
	}
	return rows
}

func formatRunParams(cfg RunConfig) string {
	var parts []string
	if cfg.Scenario != "" {
		parts = append(parts, fmt.Sprintf("Scenario: %s", cfg.Scenario))
	}
	if cfg.Mode != "" {
		parts = append(parts, fmt.Sprintf("Mode: %s", cfg.Mode))
	}
	if cfg.Pattern != "" {
		parts = append(parts, fmt.Sprintf("Pattern: %s", cfg.Pattern))
	}
	if cfg.Clients > 0 {
		parts = append(parts, fmt.Sprintf("Clients: %d", cfg.Clients))
	}
	if cfg.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %g/s per client", cfg.Rate))
	}
	if cfg.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", cfg.Duration))
	}
	return strings.Join(parts, " | ")
}
