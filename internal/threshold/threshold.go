package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lister-potter/Socket-Benchmarks/internal/runner"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g. "latency", "bids", "server_cpu"
	Aggregate string  // e.g. "p99", "acceptance", "max"
	Operator  string  // "<", "<=", ">", ">=", "=="
	Value     float64 // the threshold value to compare against
	Raw       string  // original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-"`
	Raw       string    `json:"threshold" yaml:"threshold"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

type extractor func(m runner.RunMetrics) (float64, error)

const bytesPerMB = 1024 * 1024

// catalog lists every metric, its aggregates and how each is read from a run.
var catalog = map[string]map[string]extractor{
	"latency": {
		"p50": func(m runner.RunMetrics) (float64, error) { return m.Metrics.Latency.P50Ms, nil },
		"p90": func(m runner.RunMetrics) (float64, error) { return m.Metrics.Latency.P90Ms, nil },
		"p99": func(m runner.RunMetrics) (float64, error) { return m.Metrics.Latency.P99Ms, nil },
		"min": func(m runner.RunMetrics) (float64, error) { return m.Metrics.Latency.MinMs, nil },
		"max": func(m runner.RunMetrics) (float64, error) { return m.Metrics.Latency.MaxMs, nil },
		"avg": func(m runner.RunMetrics) (float64, error) { return m.Metrics.Latency.MeanMs, nil },
	},
	"received": {
		"count": func(m runner.RunMetrics) (float64, error) { return float64(m.Metrics.TotalReceived), nil },
		"rate":  func(m runner.RunMetrics) (float64, error) { return m.Metrics.Throughput, nil },
	},
	"sent": {
		"count": func(m runner.RunMetrics) (float64, error) { return float64(m.Metrics.TotalSent), nil },
	},
	"errors": {
		"count": func(m runner.RunMetrics) (float64, error) { return float64(m.Metrics.ConnectionErrors), nil },
		// Connection errors per requested client.
		"rate": func(m runner.RunMetrics) (float64, error) {
			if m.RequestedClients == 0 {
				return 0, nil
			}
			return float64(m.Metrics.ConnectionErrors) / float64(m.RequestedClients), nil
		},
	},
	"mismatches": {
		"count": func(m runner.RunMetrics) (float64, error) { return float64(m.Metrics.Mismatches), nil },
	},
	"bids": {
		"acceptance": bidValue(func(_, _, acceptance float64) float64 { return acceptance }),
		"failure":    bidValue(func(_, failure, _ float64) float64 { return failure }),
		"placed":     bidValue(func(placed, _, _ float64) float64 { return placed }),
	},
	"server_cpu": {
		"avg": resourceValue(func(m runner.RunMetrics) float64 { return m.ResourceSummary.AvgCPUPercent }),
		"max": resourceValue(func(m runner.RunMetrics) float64 { return m.ResourceSummary.PeakCPUPercent }),
	},
	"server_memory": {
		"max": resourceValue(func(m runner.RunMetrics) float64 {
			return float64(m.ResourceSummary.PeakMemoryBytes) / bytesPerMB
		}),
	},
}

func bidValue(pick func(placed, failureRate, acceptanceRate float64) float64) extractor {
	return func(m runner.RunMetrics) (float64, error) {
		if m.Bids == nil {
			return 0, fmt.Errorf("no bid data (not an auction run)")
		}
		return pick(float64(m.Bids.Placed), m.Bids.FailureRate, m.Bids.AcceptanceRate), nil
	}
}

func resourceValue(pick func(runner.RunMetrics) float64) extractor {
	return func(m runner.RunMetrics) (float64, error) {
		if m.ResourceSummary.Samples == 0 {
			return 0, fmt.Errorf("no server resource samples")
		}
		return pick(m), nil
	}
}

// Evaluator evaluates thresholds against a finished run.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks all thresholds against the run.
func (e *Evaluator) Evaluate(run runner.RunMetrics) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, run))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, run runner.RunMetrics) Result {
	extract, ok := catalog[t.Metric][t.Aggregate]
	if !ok {
		return Result{Threshold: t, Raw: t.Raw, Message: fmt.Sprintf("✗ %s: unknown metric %s:%s", t.Raw, t.Metric, t.Aggregate)}
	}
	actual, err := extract(run)
	if err != nil {
		return Result{
			Threshold: t,
			Raw:       t.Raw,
			Message:   fmt.Sprintf("✗ %s: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Threshold: t,
		Raw:       t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string such as "latency:p99 < 50",
// "bids:acceptance >= 0.9" or "server_memory:max < 512" (MB).
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'latency:p99 < 50')", s)
	}
	metric, aggregate, operator := matches[1], matches[2], matches[3]

	value, err := strconv.ParseFloat(matches[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", matches[4], err)
	}

	aggregates, ok := catalog[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(Metrics(), ", "))
	}
	if _, ok := aggregates[aggregate]; !ok {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(sortedKeys(aggregates), ", "))
	}
	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings, reporting every bad one.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var problems []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return result, nil
}

// Metrics returns the supported metric names, sorted.
func Metrics() []string {
	return sortedKeys(catalog)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isValidOperator(operator string) bool {
	switch operator {
	case "<", "<=", ">", ">=", "==":
		return true
	}
	return false
}

func compareValues(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
