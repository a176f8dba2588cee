package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a
// Config. The first positional argument, if any, names the scenario.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	positional := flagSet.Args()
	if len(positional) > 1 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(positional[1:], " "))
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	if len(positional) == 1 && !flagSet.Changed("scenario") {
		cfg.Scenario = strings.TrimSpace(positional[0])
	}

	_, clientsInFile := lookupSetting(settings, "clients")
	_, connectRateInFile := lookupSetting(settings, "connectrate", "connect_rate", "connect-rate")
	applyScenario(&cfg,
		clientsInFile || flagSet.Changed("clients"),
		connectRateInFile || flagSet.Changed("connect-rate"))

	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "serverurl", "server_url", "server-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("serverUrl: %w", err)
		}
		cfg.ServerURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "scenario"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
		cfg.Scenario = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "serverlanguage", "server_language", "server-language"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("serverLanguage: %w", err)
		}
		if val != "" {
			cfg.ServerLanguage = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "serverpid", "server_pid", "server-pid"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("serverPid: %w", err)
		}
		cfg.ServerPID = val
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "clients"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("clients: %w", err)
		}
		cfg.Clients = val
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}

	if raw, ok := lookupSetting(settings, "messagesize", "message_size", "message-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("messageSize: %w", err)
		}
		cfg.MessageSize = val
	}

	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = dur
	}

	if raw, ok := lookupSetting(settings, "pattern"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
		cfg.Pattern, _ = ParsePattern(val)
	}

	if raw, ok := lookupSetting(settings, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		cfg.Mode, _ = ParseMode(val)
	}

	if raw, ok := lookupSetting(settings, "graceperiod", "grace_period", "grace-period"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("gracePeriod: %w", err)
		}
		cfg.GracePeriod = dur
	}

	if raw, ok := lookupSetting(settings, "connectconcurrency", "connect_concurrency", "connect-concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("connectConcurrency: %w", err)
		}
		cfg.ConnectConcurrency = val
	}

	if raw, ok := lookupSetting(settings, "connectrate", "connect_rate", "connect-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("connectRate: %w", err)
		}
		cfg.ConnectRate = val
	}

	if raw, ok := lookupSetting(settings, "handshaketimeout", "handshake_timeout", "handshake-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("handshakeTimeout: %w", err)
		}
		cfg.HandshakeTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "writetimeout", "write_timeout", "write-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("writeTimeout: %w", err)
		}
		cfg.WriteTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "maxmessagesize", "max_message_size", "max-message-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxMessageSize: %w", err)
		}
		cfg.MaxMessageSize = int64(val)
	}

	if raw, ok := lookupSetting(settings, "sampleinterval", "sample_interval", "sample-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("sampleInterval: %w", err)
		}
		cfg.SampleInterval = dur
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "report"); ok {
		report, err := parseReportConfig(raw, cfg.Report)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		cfg.Report = report
	}

	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		cfg.LogLevel = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "logformat", "log_format", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logFormat: %w", err)
		}
		cfg.LogFormat = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "metricsaddr", "metrics_addr", "metrics-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metricsAddr: %w", err)
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseReportConfig(value interface{}, base ReportConfig) (ReportConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return ReportConfig{}, err
	}
	report := base
	if raw, ok := lookupSetting(settings, "file"); ok {
		val, err := asString(raw)
		if err != nil {
			return ReportConfig{}, fmt.Errorf("file: %w", err)
		}
		report.File = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return ReportConfig{}, fmt.Errorf("dir: %w", err)
		}
		report.Dir = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return ReportConfig{}, fmt.Errorf("format: %w", err)
		}
		report.Format = ReportFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	return report, nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}
