// Package extractor pulls values out of response bodies with gjson paths or
// regular expressions. The CLI uses it for --select and --extract.
package extractor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// Extractor names one value to pull out of a response body.
type Extractor struct {
	// Name is the key the value is reported under.
	Name string

	// Path is a gjson path; a leading "$." is accepted and "$" selects the
	// whole document.
	Path string

	// Regex is used instead of Path when set. The first capture group wins,
	// or the full match when there is none.
	Regex string
}

// Parse reads an extractor from "name=path" or "name=~regex".
func Parse(spec string) (Extractor, error) {
	name, expr, ok := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || expr == "" {
		return Extractor{}, fmt.Errorf("extractor must be name=path or name=~regex: %q", spec)
	}
	if rx, isRegex := strings.CutPrefix(expr, "~"); isRegex {
		return Extractor{Name: name, Regex: rx}, nil
	}
	return Extractor{Name: name, Path: expr}, nil
}

// ExtractAll applies every extractor to body. Missing values are reported as
// empty strings and logged at warn level; logger may be nil.
func ExtractAll(body []byte, extractors []Extractor, logger *slog.Logger) map[string]string {
	result := make(map[string]string, len(extractors))
	for _, ex := range extractors {
		var value string
		switch {
		case ex.Regex != "":
			value = findRegex(body, ex.Regex, logger)
		case ex.Path != "":
			value = findJSONPath(body, ex.Path, logger)
		}
		result[ex.Name] = value
	}
	return result
}

// Bytes renders a decoded response body back to bytes: strings and byte
// slices as they are, everything else as JSON.
func Bytes(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return data, nil
	}
}

// Select returns the value at path in a decoded response body.
func Select(body any, path string) (string, bool) {
	data, err := Bytes(body)
	if err != nil {
		return "", false
	}
	result := gjson.GetBytes(data, normalizePath(path))
	return result.String(), result.Exists()
}
