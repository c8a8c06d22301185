package extractor

import (
	"log/slog"

	"github.com/tidwall/gjson"
)

// findJSONPath extracts a value with gjson, accepting $.field and field syntax.
func findJSONPath(body []byte, path string, logger *slog.Logger) string {
	path = normalizePath(path)
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		if logger != nil {
			logger.Warn("json path not found", "path", path)
		}
		return ""
	}
	return result.String()
}

func normalizePath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		}
		if len(path) == 1 {
			return "@this"
		}
	}
	return path
}
