package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"
)

// Pattern is the temporal shape of generated traffic.
type Pattern string

const (
	PatternFixedRate Pattern = "fixed-rate"
	PatternBurst     Pattern = "burst"
	PatternRampUp    Pattern = "ramp-up"
)

// ParsePattern accepts the canonical names plus their unhyphenated spellings,
// case-insensitively.
func ParsePattern(s string) (Pattern, error) {
	switch normalizeEnum(s) {
	case "fixedrate", "fixed":
		return PatternFixedRate, nil
	case "burst":
		return PatternBurst, nil
	case "rampup", "ramp":
		return PatternRampUp, nil
	default:
		return Pattern(strings.ToLower(strings.TrimSpace(s))), fmt.Errorf("unknown pattern %q", s)
	}
}

func (p Pattern) valid() bool {
	switch p {
	case PatternFixedRate, PatternBurst, PatternRampUp:
		return true
	}
	return false
}

// Mode selects the wire protocol spoken to the server under test.
type Mode string

const (
	ModeEcho    Mode = "echo"
	ModeAuction Mode = "auction"
)

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch normalizeEnum(s) {
	case "echo":
		return ModeEcho, nil
	case "auction":
		return ModeAuction, nil
	default:
		return Mode(strings.ToLower(strings.TrimSpace(s))), fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) valid() bool {
	return m == ModeEcho || m == ModeAuction
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

// ReportFormat is the encoding of the report file.
type ReportFormat string

const (
	ReportFormatJSON ReportFormat = "json"
	ReportFormatYAML ReportFormat = "yaml"
)

// Config holds every parameter of one benchmark run. It is built once by the
// Loader and treated as read-only afterwards.
type Config struct {
	ServerURL          string            `mapstructure:"server_url"`
	Scenario           string            `mapstructure:"scenario"`
	ServerLanguage     string            `mapstructure:"server_language"`
	Clients            int               `mapstructure:"clients"`
	Rate               float64           `mapstructure:"rate"`
	MessageSize        int               `mapstructure:"message_size"`
	Duration           time.Duration     `mapstructure:"duration"`
	Pattern            Pattern           `mapstructure:"pattern"`
	Mode               Mode              `mapstructure:"mode"`
	ServerPID          int               `mapstructure:"server_pid"`
	GracePeriod        time.Duration     `mapstructure:"grace_period"`
	ConnectConcurrency int               `mapstructure:"connect_concurrency"`
	ConnectRate        float64           `mapstructure:"connect_rate"`
	HandshakeTimeout   time.Duration     `mapstructure:"handshake_timeout"`
	WriteTimeout       time.Duration     `mapstructure:"write_timeout"`
	MaxMessageSize     int64             `mapstructure:"max_message_size"`
	SampleInterval     time.Duration     `mapstructure:"sample_interval"`
	Headers            map[string]string `mapstructure:"headers"`
	Report             ReportConfig      `mapstructure:"report"`
	JSONOutput         bool              `mapstructure:"json_output"`
	Dashboard          bool              `mapstructure:"dashboard"`
	LogLevel           string            `mapstructure:"log_level"`
	LogFormat          string            `mapstructure:"log_format"`
	MetricsAddr        string            `mapstructure:"metrics_addr"`
	Thresholds         []string          `mapstructure:"thresholds"`
	Tracing            TracingConfig     `mapstructure:"tracing"`
	ConfigFile         string            `mapstructure:"-"`
}

// ReportConfig controls where the report file goes. An empty File means a
// generated name inside Dir.
type ReportConfig struct {
	File   string       `mapstructure:"file"`
	Dir    string       `mapstructure:"dir"`
	Format ReportFormat `mapstructure:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an OTLP endpoint is configured, directly or via
// OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace headers go on the handshake. It
// follows Enabled unless set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		ServerURL:          "ws://localhost:5000/ws",
		Scenario:           ScenarioCustom,
		ServerLanguage:     "unknown",
		Clients:            1,
		Rate:               10,
		MessageSize:        256,
		Duration:           30 * time.Second,
		Pattern:            PatternFixedRate,
		Mode:               ModeEcho,
		GracePeriod:        2 * time.Second,
		ConnectConcurrency: 100,
		HandshakeTimeout:   30 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxMessageSize:     1 << 20,
		SampleInterval:     time.Second,
		Headers:            map[string]string{},
		Report:             ReportConfig{Dir: ".", Format: ReportFormatJSON},
		LogLevel:           "info",
		LogFormat:          "console",
		Tracing:            TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string
	var warnings []string

	issues = append(issues, validateServerURL(c.ServerURL)...)

	if _, ok := LookupScenario(c.Scenario); !ok {
		issues = append(issues, fmt.Sprintf("scenario %q is not supported (use %s)", c.Scenario, strings.Join(ScenarioNames(), ", ")))
	}

	if c.Clients > 2000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High client count configured (%d connections). Ensure you have authorization to test the target system.", c.Clients))
	}
	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High per-client rate configured (%g msg/s). Ensure you have authorization to test the target system.", c.Rate))
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if c.Clients < 1 {
		issues = append(issues, "clients must be >= 1")
	}
	if c.Rate <= 0 || math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) {
		issues = append(issues, "rate must be > 0")
	}
	if c.MessageSize < 0 {
		issues = append(issues, "message-size must be >= 0")
	}
	if c.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}
	if !c.Pattern.valid() {
		issues = append(issues, fmt.Sprintf("pattern %q is not supported (use fixed-rate, burst or ramp-up)", c.Pattern))
	}
	if !c.Mode.valid() {
		issues = append(issues, fmt.Sprintf("mode %q is not supported (use echo or auction)", c.Mode))
	}
	if c.ServerPID < 0 {
		issues = append(issues, "server-pid must be >= 0")
	}
	if c.GracePeriod < 0 {
		issues = append(issues, "grace-period must be >= 0")
	}
	if c.ConnectConcurrency < 1 {
		issues = append(issues, "connect-concurrency must be >= 1")
	}
	if c.ConnectRate < 0 {
		issues = append(issues, "connect-rate must be >= 0")
	}
	if c.HandshakeTimeout < 0 {
		issues = append(issues, "handshake-timeout must be >= 0")
	}
	if c.WriteTimeout < 0 {
		issues = append(issues, "write-timeout must be >= 0")
	}
	if c.MaxMessageSize < 0 {
		issues = append(issues, "max-message-size must be >= 0")
	}
	if c.SampleInterval <= 0 {
		issues = append(issues, "sample-interval must be > 0")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}

	switch c.Report.Format {
	case "", ReportFormatJSON, ReportFormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("report-format %q is not supported (use json or yaml)", c.Report.Format))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level %q is not supported", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log-format %q is not supported (use console or json)", c.LogFormat))
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateServerURL(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"server-url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []string{fmt.Sprintf("server-url is invalid: %v", err)}
	}
	var issues []string
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		issues = append(issues, fmt.Sprintf("server-url must use ws:// or wss://, got %q", u.Scheme))
	}
	if u.Hostname() == "" {
		issues = append(issues, "server-url must include a host")
	}
	if p := u.Port(); p != "" {
		var port int
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil || port <= 0 || port > 65535 {
			issues = append(issues, fmt.Sprintf("server-url port %q is out of range", p))
		}
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0.0 and 1.0")
	}
	return issues
}
