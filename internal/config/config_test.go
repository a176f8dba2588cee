package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerURL != "ws://localhost:5000/ws" {
		t.Errorf("ServerURL = %q, want ws://localhost:5000/ws", cfg.ServerURL)
	}
	if cfg.Scenario != config.ScenarioCustom {
		t.Errorf("Scenario = %q, want custom", cfg.Scenario)
	}
	if cfg.Clients != 1 {
		t.Errorf("Clients = %d, want 1", cfg.Clients)
	}
	if cfg.Rate != 10 {
		t.Errorf("Rate = %g, want 10", cfg.Rate)
	}
	if cfg.MessageSize != 256 {
		t.Errorf("MessageSize = %d, want 256", cfg.MessageSize)
	}
	if cfg.Duration != 30*time.Second {
		t.Errorf("Duration = %s, want 30s", cfg.Duration)
	}
	if cfg.Pattern != config.PatternFixedRate {
		t.Errorf("Pattern = %q, want fixed-rate", cfg.Pattern)
	}
	if cfg.Mode != config.ModeEcho {
		t.Errorf("Mode = %q, want echo", cfg.Mode)
	}
	if cfg.GracePeriod != 2*time.Second {
		t.Errorf("GracePeriod = %s, want 2s", cfg.GracePeriod)
	}
	if cfg.ConnectConcurrency != 100 {
		t.Errorf("ConnectConcurrency = %d, want 100", cfg.ConnectConcurrency)
	}
	if cfg.SampleInterval != time.Second {
		t.Errorf("SampleInterval = %s, want 1s", cfg.SampleInterval)
	}
	if cfg.JSONOutput {
		t.Errorf("JSONOutput = true, want false")
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("Headers len = %d, want 0", len(cfg.Headers))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"serverUrl": "ws://bench.local:9000/ws",
		"serverLanguage": "go",
		"headers": {"X-Run": "nightly"},
		"clients": 50,
		"rate": 2.5,
		"messageSize": 1024,
		"duration": "2m",
		"pattern": "Burst",
		"mode": "AUCTION",
		"gracePeriod": "5s",
		"report": {"format": "yaml", "dir": "out"},
		"tracing": {"endpoint": "collector:4317", "sample_rate": 0.5},
		"jsonOutput": true
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path, "--clients", "75", "--header", "Authorization=Bearer token"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerURL != "ws://bench.local:9000/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.ServerLanguage != "go" {
		t.Errorf("ServerLanguage = %q, want go", cfg.ServerLanguage)
	}
	if cfg.Clients != 75 {
		t.Errorf("Clients = %d, want flag override 75", cfg.Clients)
	}
	if cfg.Rate != 2.5 {
		t.Errorf("Rate = %g, want 2.5", cfg.Rate)
	}
	if cfg.MessageSize != 1024 {
		t.Errorf("MessageSize = %d, want 1024", cfg.MessageSize)
	}
	if cfg.Duration != 2*time.Minute {
		t.Errorf("Duration = %s, want 2m", cfg.Duration)
	}
	if cfg.Pattern != config.PatternBurst {
		t.Errorf("Pattern = %q, want burst", cfg.Pattern)
	}
	if cfg.Mode != config.ModeAuction {
		t.Errorf("Mode = %q, want auction", cfg.Mode)
	}
	if cfg.GracePeriod != 5*time.Second {
		t.Errorf("GracePeriod = %s, want 5s", cfg.GracePeriod)
	}
	if cfg.Report.Format != config.ReportFormatYAML || cfg.Report.Dir != "out" {
		t.Errorf("Report = %+v", cfg.Report)
	}
	if cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Tracing.Protocol != "grpc" {
		t.Errorf("Tracing.Protocol = %q, want default grpc", cfg.Tracing.Protocol)
	}
	if cfg.Headers["X-Run"] != "nightly" {
		t.Errorf("Headers[X-Run] = %q, want nightly", cfg.Headers["X-Run"])
	}
	if cfg.Headers["Authorization"] != "Bearer token" {
		t.Errorf("Headers[Authorization] = %q", cfg.Headers["Authorization"])
	}
	if !cfg.JSONOutput {
		t.Errorf("JSONOutput = false, want true")
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server_url: wss://secure.example.com/ws
scenario: 100-client-burst
rate: 20
duration: 45
pattern: ramp-up
thresholds:
  - "latency:p99 < 100"
  - "errors:rate < 0.01"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "wss://secure.example.com/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Scenario != "100-client-burst" || cfg.Clients != 100 {
		t.Errorf("scenario preset not applied: %q with %d clients", cfg.Scenario, cfg.Clients)
	}
	if cfg.Duration != 45*time.Second {
		t.Errorf("Duration = %s, want 45s", cfg.Duration)
	}
	if cfg.Pattern != config.PatternRampUp {
		t.Errorf("Pattern = %q, want ramp-up", cfg.Pattern)
	}
	if len(cfg.Thresholds) != 2 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestScenarioPresets(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		clients     int
		connectRate float64
	}{
		{"positional single", []string{"single-client"}, 1, 0},
		{"positional burst", []string{"100-client-burst"}, 100, 0},
		{"steady load staggers connects", []string{"1000-client-steady-load"}, 1000, 100},
		{"flag form", []string{"--scenario", "1000-client-steady-load"}, 1000, 100},
		{"explicit clients win", []string{"100-client-burst", "--clients", "7"}, 7, 0},
		{"explicit connect rate wins", []string{"1000-client-steady-load", "--connect-rate", "5"}, 1000, 5},
		{"case insensitive", []string{"Single-Client"}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.NewLoader().Load(tt.args)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Clients != tt.clients {
				t.Errorf("Clients = %d, want %d", cfg.Clients, tt.clients)
			}
			if cfg.ConnectRate != tt.connectRate {
				t.Errorf("ConnectRate = %g, want %g", cfg.ConnectRate, tt.connectRate)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestUnknownScenarioFailsValidation(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"warp-speed"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "scenario") {
		t.Fatalf("expected scenario validation error, got %v", err)
	}
}

func TestLoadRejectsExtraArguments(t *testing.T) {
	if _, err := config.NewLoader().Load([]string{"single-client", "extra"}); err == nil {
		t.Fatal("expected error for extra positional arguments")
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("expected ErrHelpRequested, got %v", err)
	}
}

func TestInvalidHeaderFlag(t *testing.T) {
	if _, err := config.NewLoader().Load([]string{"--header", "novalue"}); err == nil {
		t.Fatal("expected error for header without '='")
	}
}

func TestEnumParsing(t *testing.T) {
	patterns := map[string]config.Pattern{
		"fixedrate":  config.PatternFixedRate,
		"FixedRate":  config.PatternFixedRate,
		"fixed-rate": config.PatternFixedRate,
		"burst":      config.PatternBurst,
		"BURST":      config.PatternBurst,
		"rampup":     config.PatternRampUp,
		"ramp-up":    config.PatternRampUp,
		"RampUp":     config.PatternRampUp,
	}
	for in, want := range patterns {
		got, err := config.ParsePattern(in)
		if err != nil || got != want {
			t.Errorf("ParsePattern(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := config.ParsePattern("sawtooth"); err == nil {
		t.Error("ParsePattern(sawtooth) should fail")
	}

	for in, want := range map[string]config.Mode{"echo": config.ModeEcho, "Echo": config.ModeEcho, "AUCTION": config.ModeAuction} {
		got, err := config.ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := config.ParseMode("chat"); err == nil {
		t.Error("ParseMode(chat) should fail")
	}
}

func TestValidateCollectsIssues(t *testing.T) {
	cfg := config.Defaults()
	cfg.ServerURL = "http://localhost:5000"
	cfg.Clients = 0
	cfg.Rate = 0
	cfg.Duration = 0
	cfg.Pattern = "sawtooth"
	cfg.Mode = "chat"
	cfg.ConnectConcurrency = 0
	cfg.SampleInterval = 0
	cfg.Dashboard = true
	cfg.JSONOutput = true
	cfg.Report.Format = "xml"
	cfg.Tracing.SampleRate = 2

	err := cfg.Validate()
	var vErr config.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	issues := strings.Join(vErr.Issues(), "\n")
	for _, want := range []string{
		"ws:// or wss://",
		"clients must be >= 1",
		"rate must be > 0",
		"duration must be > 0",
		"pattern",
		"mode",
		"connect-concurrency",
		"sample-interval",
		"mutually exclusive",
		"report-format",
		"sample_rate",
	} {
		if !strings.Contains(issues, want) {
			t.Errorf("issues missing %q:\n%s", want, issues)
		}
	}
}

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"ws://localhost:5000/ws", true},
		{"wss://example.com", true},
		{"WS://LOCALHOST/ws", true},
		{"", false},
		{"localhost:5000", false},
		{"ws:///nohost", false},
		{"ws://localhost:0/ws", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.ServerURL = tt.url
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestTracingConfigPropagation(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var tc config.TracingConfig
	if tc.Enabled() || tc.ShouldPropagate() {
		t.Fatal("empty tracing config should be disabled")
	}
	tc.Endpoint = "localhost:4317"
	if !tc.Enabled() || !tc.ShouldPropagate() {
		t.Fatal("endpoint should enable tracing and propagation")
	}
	off := false
	tc.Propagate = &off
	if tc.ShouldPropagate() {
		t.Fatal("explicit propagate=false should win")
	}

	cfg, err := config.NewLoader().Load([]string{"--tracing-endpoint", "collector:4318", "--tracing-protocol", "http", "--tracing-propagate=false"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tracing.Endpoint != "collector:4318" || cfg.Tracing.Protocol != "http" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Tracing.Propagate == nil || *cfg.Tracing.Propagate {
		t.Errorf("Propagate should be explicitly false")
	}
}
