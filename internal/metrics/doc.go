// Package metrics collects request latency and connection pool activity for
// the leash client.
//
// # Collector
//
// The [Collector] aggregates latencies into an HDR histogram and counts
// failures by label:
//
//	collector := metrics.NewCollector()
//	collector.RecordRequest(latency, err)
//	stats := collector.Stats(collector.Elapsed())
//
// Errors implementing [Labeler] are counted under their own label
// ("abort_0", "timeout_408", "transport_503"); other errors are counted by Go type.
//
// # Pool counters
//
// [PoolCounters] is handed to the connection pool and counts acquisitions,
// releases, FIFO evictions and entries dropped by purges. Its zero value is
// ready to use and a nil pointer is a valid no-op recorder.
package metrics
