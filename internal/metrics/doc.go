// Package metrics aggregates measurements taken during a benchmark run.
//
// # Collector
//
// The [Collector] counts sent and received messages, connection errors and
// correlation mismatches, and keeps every latency sample of a correlated
// round trip:
//
//	collector := metrics.NewCollector()
//	collector.Start()
//
//	collector.RecordSent(len(frame))
//	collector.RecordReceived(metrics.LatencySample{MessageID: id, ClientID: client, LatencyMs: 4.2})
//
//	snap := collector.Snapshot()
//
// [Collector.Snapshot] returns a deep copy with nearest-rank percentiles
// computed by [Summarize] and throughput measured from the first recorded
// activity to the last received message. [Collector.Live] is a cheaper,
// histogram-backed view for progress output.
//
// # Bids
//
// [BidTracker] keeps the auction ledger. Each placed bid is pending until a
// reply for the same lot and bidder settles it; the newest pending attempt
// for the pair is the one resolved.
//
// # Export
//
// [Exporter] adapts a Collector, an optional BidTracker and an optional
// [ResourceSource] to a Prometheus collector.
//
// All types are safe for concurrent use.
package metrics
