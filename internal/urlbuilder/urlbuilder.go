// Package urlbuilder renders URL templates made of literal fragments and
// interpolated values, encoding each value as a URI component.
package urlbuilder

import (
	"fmt"
	"net/url"
	"strings"
)

type undefined struct{}

// Undefined marks a value that was never supplied. It renders as an empty
// string; nil renders as "null".
var Undefined any = undefined{}

// Encoder escapes a single interpolated value.
type Encoder func(string) string

// Render joins fragments with the values between them. values may be shorter
// than len(fragments)-1; missing values are treated as Undefined.
func Render(fragments []string, values []any, encode Encoder) string {
	if encode == nil {
		encode = EncodeURIComponent
	}

	var sb strings.Builder
	for i, fragment := range fragments {
		sb.WriteString(fragment)
		if i == len(fragments)-1 {
			break
		}
		var value any = Undefined
		if i < len(values) {
			value = values[i]
		}
		sb.WriteString(renderValue(value, encode))
	}
	return sb.String()
}

// Build renders with EncodeURIComponent.
func Build(fragments []string, values ...any) string {
	return Render(fragments, values, EncodeURIComponent)
}

func renderValue(value any, encode Encoder) string {
	switch v := value.(type) {
	case undefined:
		return ""
	case nil:
		return "null"
	case string:
		return encode(v)
	case []string:
		parts := make([]string, len(v))
		for i, part := range v {
			parts[i] = encode(part)
		}
		return strings.Join(parts, "/")
	case url.Values:
		return v.Encode()
	default:
		return encode(fmt.Sprint(v))
	}
}

// EncodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func EncodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	if !strings.ContainsAny(escaped, "+%") {
		return escaped
	}
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return componentUnescaper.Replace(escaped)
}

// QueryEscape escapes these, encodeURIComponent keeps them.
var componentUnescaper = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)
