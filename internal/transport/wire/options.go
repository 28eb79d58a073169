// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package wire holds the pieces shared by transport adapters: option
// parsing, the JSON event envelope, channel bindings and reconnect helpers.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/chanrelay/internal/realtime"
)

// ErrInvalidOption classifies option values of the wrong type or format.
var ErrInvalidOption = errors.New("invalid transport option")

// String returns the string option key, or def when absent or empty.
func String(o realtime.Options, key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

// Int accepts ints, JSON/YAML numbers and numeric strings.
func Int(o realtime.Options, key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("%w: %s=%v is not an integer", ErrInvalidOption, key, v)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidOption, key, t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidOption, key, v)
	}
}

// Bool accepts bools and strconv.ParseBool strings.
func Bool(o realtime.Options, key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("%w: %s=%q: %v", ErrInvalidOption, key, t, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s has type %T", ErrInvalidOption, key, v)
	}
}

// Duration accepts time.Duration, duration strings ("30s") and numbers of seconds.
func Duration(o realtime.Options, key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	var d time.Duration
	switch t := v.(type) {
	case time.Duration:
		d = t
	case int:
		d = time.Duration(t) * time.Second
	case float64:
		d = time.Duration(t * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidOption, key, t, err)
		}
		d = parsed
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidOption, key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidOption, key)
	}
	return d, nil
}

// Strings accepts []string, []any and comma separated strings.
func Strings(o realtime.Options, key string) []string {
	var raw []string
	switch t := o[key].(type) {
	case []string:
		raw = t
	case []any:
		for _, v := range t {
			raw = append(raw, fmt.Sprint(v))
		}
	case string:
		raw = strings.Split(t, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
