package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/torosent/leash/internal/reqtemplate"
)

// placeholderRegex matches {{key}} or {{key|default}}.
var placeholderRegex = regexp.MustCompile(`\{\{([^}|]+)(?:\|([^}]*))?\}\}`)

// buildTemplate turns request text into a template. Each placeholder becomes
// a template value looked up in vars, falling back to its default. A
// placeholder with neither is an error.
func buildTemplate(text string, vars map[string]any) (reqtemplate.Template, error) {
	matches := placeholderRegex.FindAllStringSubmatchIndex(text, -1)
	fragments := make([]string, 0, len(matches)+1)
	values := make([]any, 0, len(matches))

	last := 0
	for _, m := range matches {
		key := strings.TrimSpace(text[m[2]:m[3]])
		value, ok := vars[key]
		if !ok {
			if m[4] < 0 {
				return reqtemplate.Template{}, fmt.Errorf("placeholder {{%s}} has no value", key)
			}
			value = text[m[4]:m[5]]
		}
		fragments = append(fragments, text[last:m[0]])
		values = append(values, value)
		last = m[1]
	}
	fragments = append(fragments, text[last:])
	return reqtemplate.New(fragments, values...), nil
}

// parseVars reads name=value pairs. Values that look like JSON objects or
// arrays are decoded so they can serve as request bodies; everything else
// stays a string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("variable must be name=value: %q", pair)
		}
		trimmed := strings.TrimSpace(value)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
				return nil, fmt.Errorf("variable %s: %w", name, err)
			}
			vars[name] = decoded
			continue
		}
		vars[name] = value
	}
	return vars, nil
}

func withVar(vars map[string]any, name string, value any) map[string]any {
	out := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out[name] = value
	return out
}
