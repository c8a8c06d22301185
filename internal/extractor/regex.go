package extractor

import (
	"log/slog"
	"regexp"
)

// findRegex returns the first capture group, or the full match when the
// pattern has none. No match yields an empty string.
func findRegex(body []byte, pattern string, logger *slog.Logger) string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid regex pattern", "pattern", pattern, "error", err)
		}
		return ""
	}

	match := re.FindSubmatch(body)
	if match == nil {
		if logger != nil {
			logger.Warn("regex pattern not found", "pattern", pattern)
		}
		return ""
	}
	if len(match) > 1 {
		return string(match[1])
	}
	return string(match[0])
}
