// Package output prints client statistics for humans and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/torosent/leash/internal/client"
)

// PrintReport outputs a human-readable summary of client activity.
func PrintReport(w io.Writer, stats client.Stats) {
	fmt.Fprintln(w, "\n--- Client Statistics ---")
	if stats.MaxConnections > 0 {
		fmt.Fprintf(w, "Open Connections:  %d / %d\n", stats.OpenConnections, stats.MaxConnections)
	} else {
		fmt.Fprintf(w, "Open Connections:  %d (no cap)\n", stats.OpenConnections)
	}
	fmt.Fprintln(w, "\nPool:")
	fmt.Fprintf(w, "  Acquired:        %d\n", stats.Pool.Acquired)
	fmt.Fprintf(w, "  Released:        %d\n", stats.Pool.Released)
	fmt.Fprintf(w, "  Evicted:         %d\n", stats.Pool.Evicted)
	fmt.Fprintf(w, "  Purged:          %d\n", stats.Pool.Purged)

	req := stats.Requests
	if req == nil {
		return
	}
	fmt.Fprintln(w, "\nRequests:")
	fmt.Fprintf(w, "  Total:           %d\n", req.Total)
	fmt.Fprintf(w, "  Successful:      %d\n", req.Successes)
	fmt.Fprintf(w, "  Failed:          %d\n", req.Failures)
	fmt.Fprintf(w, "  Duration:        %s\n", req.Duration)
	fmt.Fprintf(w, "  Requests/sec:    %.2f\n", req.RequestsPerSec)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", req.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", req.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", req.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", req.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", req.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", req.P99Latency)

	if len(req.Errors) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		labels := make([]string, 0, len(req.Errors))
		for label := range req.Errors {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(w, "  %s: %d\n", label, req.Errors[label])
		}
	}
}

// PrintJSON outputs v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
