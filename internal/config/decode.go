package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookup returns the first of keys present in settings. viper lowercases keys,
// so each key is also tried in lower case.
func lookup(settings map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

// decodeSetting stores raw into dst, converting it to dst's type. Strings are
// trimmed and an empty string decodes to the zero value. Durations given as
// bare numbers are seconds.
func decodeSetting(raw any, dst any) error {
	if s, ok := raw.(string); ok {
		raw = strings.TrimSpace(s)
		if raw == "" {
			raw = nil
		}
	}

	var err error
	switch d := dst.(type) {
	case *string:
		*d, err = cast.ToStringE(raw)
		*d = strings.TrimSpace(*d)
	case *int:
		*d, err = cast.ToIntE(raw)
	case *float64:
		*d, err = cast.ToFloat64E(raw)
	case *bool:
		*d, err = cast.ToBoolE(raw)
	case **bool:
		var b bool
		if b, err = cast.ToBoolE(raw); err == nil {
			*d = &b
		}
	case *time.Duration:
		*d, err = decodeDuration(raw)
	case *map[string]string:
		if raw == nil {
			*d = nil
			return nil
		}
		*d, err = cast.ToStringMapStringE(raw)
	default:
		return fmt.Errorf("unsupported setting type %T", dst)
	}
	return err
}

func decodeDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return time.ParseDuration(v)
	default:
		secs, err := cast.ToIntE(v)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs) * time.Second, nil
	}
}
