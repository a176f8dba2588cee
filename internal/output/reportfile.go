package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
)

// ReportFileName returns benchmark-{scenario}-{language}-{yyyyMMdd-HHmmss}
// with the extension for format.
func ReportFileName(scenario, language string, format config.ReportFormat, at time.Time) string {
	ext := ".json"
	if format == config.ReportFormatYAML {
		ext = ".yaml"
	}
	return fmt.Sprintf("benchmark-%s-%s-%s%s",
		fileSafe(scenario, "custom"), fileSafe(language, "unknown"), at.Format("20060102-150405"), ext)
}

// ReportPath resolves where the report for cfg goes: the explicit file when
// set, otherwise a generated name inside the report directory.
func ReportPath(cfg config.Config, at time.Time) string {
	if cfg.Report.File != "" {
		return cfg.Report.File
	}
	dir := cfg.Report.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, ReportFileName(cfg.Scenario, cfg.ServerLanguage, cfg.Report.Format, at))
}

// WriteReportFile encodes r as JSON or YAML and writes it to path, creating
// parent directories. An advisory lock on path+".lock" is held for the write.
// The lock file is left in place so every writer locks the same inode.
func WriteReportFile(path string, format config.ReportFormat, r Report) error {
	data, err := EncodeReport(format, r)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

// EncodeReport renders r in the given format. YAML output uses the same
// field names as JSON.
func EncodeReport(format config.ReportFormat, r Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	switch format {
	case "", config.ReportFormatJSON:
		return append(data, '\n'), nil
	case config.ReportFormatYAML:
		return jsonToYAML(data)
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// jsonToYAML re-emits a JSON document as block-style YAML, keeping key order.
func jsonToYAML(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("convert report to yaml: %w", err)
	}
	blockStyle(&doc)
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encode yaml report: %w", err)
	}
	return out, nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}

func fileSafe(s, fallback string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return fallback
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, s)
}
