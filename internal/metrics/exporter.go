package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ResourceSource reports the latest sample of the monitored server process.
type ResourceSource interface {
	Latest() (cpuPercent float64, memoryBytes uint64, ok bool)
}

// Exporter publishes live run metrics as a Prometheus collector.
type Exporter struct {
	collector *Collector
	bids      *BidTracker
	resources ResourceSource

	sent       *prometheus.Desc
	received   *prometheus.Desc
	connErrors *prometheus.Desc
	mismatches *prometheus.Desc
	latency    *prometheus.Desc
	bidsTotal  *prometheus.Desc
	cpu        *prometheus.Desc
	memory     *prometheus.Desc
}

// NewExporter builds an exporter. bids and resources may be nil.
func NewExporter(collector *Collector, bids *BidTracker, resources ResourceSource) *Exporter {
	return &Exporter{
		collector:  collector,
		bids:       bids,
		resources:  resources,
		sent:       prometheus.NewDesc("wsbench_messages_sent_total", "Messages written to the server.", nil, nil),
		received:   prometheus.NewDesc("wsbench_messages_received_total", "Messages read from the server.", nil, nil),
		connErrors: prometheus.NewDesc("wsbench_connection_errors_total", "Failed connects and connections lost mid-run.", nil, nil),
		mismatches: prometheus.NewDesc("wsbench_mismatches_total", "Responses that matched no pending send.", nil, nil),
		latency:    prometheus.NewDesc("wsbench_latency_ms", "Round-trip latency quantiles in milliseconds.", []string{"quantile"}, nil),
		bidsTotal:  prometheus.NewDesc("wsbench_bids_total", "Bid attempts by outcome.", []string{"outcome"}, nil),
		cpu:        prometheus.NewDesc("wsbench_server_cpu_percent", "CPU usage of the server process.", nil, nil),
		memory:     prometheus.NewDesc("wsbench_server_memory_bytes", "Resident memory of the server process.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.sent
	ch <- e.received
	ch <- e.connErrors
	ch <- e.mismatches
	ch <- e.latency
	ch <- e.bidsTotal
	ch <- e.cpu
	ch <- e.memory
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	live := e.collector.Live()
	ch <- prometheus.MustNewConstMetric(e.sent, prometheus.CounterValue, float64(live.Sent))
	ch <- prometheus.MustNewConstMetric(e.received, prometheus.CounterValue, float64(live.Received))
	ch <- prometheus.MustNewConstMetric(e.connErrors, prometheus.CounterValue, float64(live.ConnectionErrors))
	ch <- prometheus.MustNewConstMetric(e.mismatches, prometheus.CounterValue, float64(live.Mismatches))
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, live.P50LatencyMs, "0.5")
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, live.P90LatencyMs, "0.9")
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, live.P99LatencyMs, "0.99")

	if e.bids != nil {
		c := e.bids.Counts()
		ch <- prometheus.MustNewConstMetric(e.bidsTotal, prometheus.CounterValue, float64(c.Placed), "placed")
		ch <- prometheus.MustNewConstMetric(e.bidsTotal, prometheus.CounterValue, float64(c.Accepted), "accepted")
		ch <- prometheus.MustNewConstMetric(e.bidsTotal, prometheus.CounterValue, float64(c.Rejected), "rejected")
	}

	if e.resources != nil {
		if cpu, mem, ok := e.resources.Latest(); ok {
			ch <- prometheus.MustNewConstMetric(e.cpu, prometheus.GaugeValue, cpu)
			ch <- prometheus.MustNewConstMetric(e.memory, prometheus.GaugeValue, float64(mem))
		}
	}
}
