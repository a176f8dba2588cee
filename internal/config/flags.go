package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wsbench [scenario]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	d := Defaults()

	// Target flags
	flags.String("server-url", d.ServerURL, "WebSocket URL of the server under test (ws:// or wss://)")
	flags.String("server-language", d.ServerLanguage, "Label for the server implementation, used in report names")
	flags.Int("server-pid", 0, "Process id of the server for resource sampling (0 detects it from the URL port)")
	flags.StringSlice("header", nil, "Additional handshake header in key=value form")

	// Load flags
	flags.String("scenario", d.Scenario, "Preset: "+strings.Join(ScenarioNames(), ", "))
	flags.IntP("clients", "c", d.Clients, "Number of concurrent client connections")
	flags.Float64P("rate", "r", d.Rate, "Messages per second per client")
	flags.Int("message-size", d.MessageSize, "Echo payload size in bytes")
	flags.DurationP("duration", "d", d.Duration, "How long to send (e.g. 30s, 1m)")
	flags.String("pattern", string(d.Pattern), "Traffic pattern: fixed-rate, burst or ramp-up")
	flags.String("mode", string(d.Mode), "Protocol mode: echo or auction")
	flags.Duration("grace-period", d.GracePeriod, "Time to wait for in-flight responses after sending stops (0 disables)")

	// Connection flags
	flags.Int("connect-concurrency", d.ConnectConcurrency, "Maximum concurrent connection attempts")
	flags.Float64("connect-rate", 0, "Connection attempts per second (0 means unlimited)")
	flags.Duration("handshake-timeout", d.HandshakeTimeout, "WebSocket handshake timeout")
	flags.Duration("write-timeout", d.WriteTimeout, "Per-frame write timeout")
	flags.Int64("max-message-size", d.MaxMessageSize, "Largest inbound frame accepted, in bytes")
	flags.Duration("sample-interval", d.SampleInterval, "Server resource sampling interval")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.String("report-file", "", "Write the report to this path")
	flags.String("report-dir", d.Report.Dir, "Directory for the generated report file name")
	flags.String("report-format", string(d.Report.Format), "Report file format: json or yaml")
	flags.String("log-level", d.LogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", d.LogFormat, "Log format: console or json")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g., 'latency:p99 < 50')")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", d.Tracing.Protocol, "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.String("tracing-service-name", "", "Service name reported in spans")
	flags.Float64("tracing-sample-rate", d.Tracing.SampleRate, "Trace sampling ratio between 0 and 1")
	flags.Bool("tracing-propagate", false, "Inject W3C trace headers into the handshake (defaults to on when tracing is enabled)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var val string
		if val, err = fs.GetString(name); err == nil {
			*dst = strings.TrimSpace(val)
		}
	}
	integer := func(name string, dst *int) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var val int
		if val, err = fs.GetInt(name); err == nil {
			*dst = val
		}
	}
	float := func(name string, dst *float64) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var val float64
		if val, err = fs.GetFloat64(name); err == nil {
			*dst = val
		}
	}
	duration := func(name string, dst *time.Duration) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var val time.Duration
		if val, err = fs.GetDuration(name); err == nil {
			*dst = val
		}
	}
	boolean := func(name string, dst *bool) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var val bool
		if val, err = fs.GetBool(name); err == nil {
			*dst = val
		}
	}

	str("server-url", &cfg.ServerURL)
	str("server-language", &cfg.ServerLanguage)
	integer("server-pid", &cfg.ServerPID)
	str("scenario", &cfg.Scenario)
	integer("clients", &cfg.Clients)
	float("rate", &cfg.Rate)
	integer("message-size", &cfg.MessageSize)
	duration("duration", &cfg.Duration)
	duration("grace-period", &cfg.GracePeriod)
	integer("connect-concurrency", &cfg.ConnectConcurrency)
	float("connect-rate", &cfg.ConnectRate)
	duration("handshake-timeout", &cfg.HandshakeTimeout)
	duration("write-timeout", &cfg.WriteTimeout)
	duration("sample-interval", &cfg.SampleInterval)
	boolean("json-output", &cfg.JSONOutput)
	boolean("dashboard", &cfg.Dashboard)
	str("report-file", &cfg.Report.File)
	str("report-dir", &cfg.Report.Dir)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("metrics-addr", &cfg.MetricsAddr)
	str("tracing-endpoint", &cfg.Tracing.Endpoint)
	str("tracing-protocol", &cfg.Tracing.Protocol)
	boolean("tracing-insecure", &cfg.Tracing.Insecure)
	str("tracing-service-name", &cfg.Tracing.ServiceName)
	float("tracing-sample-rate", &cfg.Tracing.SampleRate)
	if err != nil {
		return err
	}

	if fs.Changed("max-message-size") {
		val, err := fs.GetInt64("max-message-size")
		if err != nil {
			return err
		}
		cfg.MaxMessageSize = val
	}
	if fs.Changed("pattern") {
		val, err := fs.GetString("pattern")
		if err != nil {
			return err
		}
		// Unknown values are kept and reported by Validate.
		cfg.Pattern, _ = ParsePattern(val)
	}
	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Mode, _ = ParseMode(val)
	}
	if fs.Changed("report-format") {
		val, err := fs.GetString("report-format")
		if err != nil {
			return err
		}
		cfg.Report.Format = ReportFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return nil
}
