// Package reqtemplate parses request templates: literal fragments interleaved
// with values, laid out as an HTTP request.
//
//	PUT /v1/kv/{key}?dc={dc}
//	Cache-Control: no-cache
//
//	{body}
//
// A blank line separates the head (method, URL, header lines) from the body.
// Values in the head are percent-encoded into the URL; values after the blank
// line are merged into a single body.
package reqtemplate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/torosent/leash/internal/urlbuilder"
)

var (
	// ErrMalformed is returned for templates that cannot describe a request.
	ErrMalformed = errors.New("reqtemplate: malformed template")
	// ErrMixedBody is returned when body values mix lists and objects.
	ErrMixedBody = errors.New("reqtemplate: body mixes list and object values")
)

// Template is an ordered sequence of literal fragments with one value between
// each pair of neighbouring fragments.
type Template struct {
	Fragments []string
	Values    []any
}

// New returns a template. Callers must supply exactly one more fragment than
// values.
func New(fragments []string, values ...any) Template {
	return Template{Fragments: fragments, Values: values}
}

// Request is a parsed template.
type Request struct {
	Method      string
	URL         string
	HeaderLines []string
	Body        any
}

func (t Template) validate() error {
	if len(t.Fragments) == 0 {
		return fmt.Errorf("%w: no fragments", ErrMalformed)
	}
	if len(t.Fragments) != len(t.Values)+1 {
		return fmt.Errorf("%w: %d fragments for %d values", ErrMalformed, len(t.Fragments), len(t.Values))
	}
	return nil
}

// Parse splits the template into method, URL, header lines and body.
func Parse(t Template) (Request, error) {
	if err := t.validate(); err != nil {
		return Request{}, err
	}

	body, headValues, err := SplitBody(t.Fragments, t.Values)
	if err != nil {
		return Request{}, err
	}

	head := urlbuilder.Render(t.Fragments, headValues, urlbuilder.EncodeURIComponent)
	head = strings.TrimLeft(head, " \t\r\n")

	line, tail, _ := strings.Cut(head, "\n")
	method, url := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		method, url = line[:i], strings.TrimSpace(line[i:])
	}
	if method == "" || url == "" {
		return Request{}, fmt.Errorf("%w: missing method or url in %q", ErrMalformed, firstLine(head))
	}

	var headerLines []string
	if tail != "" {
		headerLines = strings.Split(tail, "\n")
	}

	return Request{
		Method:      strings.ToUpper(method),
		URL:         url,
		HeaderLines: headerLines,
		Body:        body,
	}, nil
}

// SplitBody finds the blank line that starts the body and merges every value
// from that fragment onwards into one body. It returns the body and the values
// that remain for the head. Without a blank line the body is an empty object.
func SplitBody(fragments []string, values []any) (any, []any, error) {
	boundary := bodyBoundary(fragments)
	if boundary == -1 || boundary >= len(values) {
		return map[string]any{}, values, nil
	}

	body, err := mergeBody(values[boundary:])
	if err != nil {
		return nil, nil, err
	}
	head := make([]any, boundary)
	copy(head, values[:boundary])
	return body, head, nil
}

func bodyBoundary(fragments []string) int {
	for i, fragment := range fragments {
		if strings.Contains(normalize(fragment), "\n\n") {
			return i
		}
	}
	return -1
}

// normalize trims every line so indentation cannot hide a blank line.
func normalize(fragment string) string {
	lines := strings.Split(fragment, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

func mergeBody(values []any) (any, error) {
	var acc any = map[string]any{}
	for i, value := range values {
		switch {
		case isList(value):
			items := toList(value)
			if i == 0 {
				acc = items
				continue
			}
			list, ok := acc.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: list at position %d", ErrMixedBody, i)
			}
			acc = append(list, items...)
		case isObject(value):
			if _, ok := acc.([]any); ok {
				return nil, fmt.Errorf("%w: object at position %d", ErrMixedBody, i)
			}
			obj, ok := acc.(map[string]any)
			if !ok {
				obj = map[string]any{}
			}
			merged := make(map[string]any, len(obj))
			for k, v := range obj {
				merged[k] = v
			}
			for k, v := range toObject(value) {
				merged[k] = v
			}
			acc = merged
		default:
			acc = value
		}
	}
	return acc, nil
}

func isList(value any) bool {
	if value == nil {
		return false
	}
	switch value.(type) {
	case []byte, string:
		return false
	}
	kind := reflect.TypeOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

func isObject(value any) bool {
	if value == nil {
		return false
	}
	t := reflect.TypeOf(value)
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

func toList(value any) []any {
	if list, ok := value.([]any); ok {
		out := make([]any, len(list))
		copy(out, list)
		return out
	}
	rv := reflect.ValueOf(value)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func toObject(value any) map[string]any {
	if obj, ok := value.(map[string]any); ok {
		return obj
	}
	rv := reflect.ValueOf(value)
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
