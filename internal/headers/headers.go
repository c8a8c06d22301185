// Package headers converts between raw "Name: value" header lines and the
// string-keyed header sets the client merges and sends.
package headers

import (
	"mime"
	"net/http"
	"sort"
	"strings"
)

const (
	ContentType  = "Content-Type"
	CacheControl = "Cache-Control"
	Accept       = "Accept"

	// DefaultTokenHeader carries the ACL secret on every request unless
	// configured otherwise.
	DefaultTokenHeader = "X-Consul-Token"

	EventStream     = "text/event-stream"
	JSONContentType = "application/json; charset=utf-8"
)

// Parse builds a header set from raw lines. Each line is split on its first
// colon; lines without one are ignored. Names are canonicalised and later
// duplicates overwrite earlier ones.
func Parse(lines []string) map[string]string {
	result := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		result[http.CanonicalHeaderKey(name)] = strings.TrimSpace(value)
	}
	return result
}

// Lines renders h as "Name: value" lines sorted by name. Multi-valued headers
// are joined with ", ".
func Lines(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+strings.Join(h[k], ", "))
	}
	return lines
}

// Merge layers header sets so that later layers win.
func Merge(layers ...map[string]string) map[string]string {
	size := 0
	for _, layer := range layers {
		size += len(layer)
	}
	merged := make(map[string]string, size)
	for _, layer := range layers {
		for k, v := range layer {
			merged[http.CanonicalHeaderKey(k)] = v
		}
	}
	return merged
}

// Apply writes set onto dst, replacing existing values.
func Apply(dst http.Header, set map[string]string) {
	for k, v := range set {
		dst.Set(k, v)
	}
}

// MediaType returns the lower-cased media type of a Content-Type value
// without its parameters.
func MediaType(value string) string {
	if value == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(value)
	if err != nil {
		mt, _, _ = strings.Cut(value, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsEventStream reports whether a Content-Type value names a server-sent
// event stream.
func IsEventStream(value string) bool {
	return MediaType(value) == EventStream
}
