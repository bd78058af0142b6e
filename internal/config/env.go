package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (r *envReader) raw(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	value, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func (r *envReader) fail(key string, err error) {
	r.err = fmt.Errorf("invalid %s: %w", key, err)
}

func (r *envReader) str(key string, dst *string) {
	if value, ok := r.raw(key); ok {
		*dst = value
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) boolean(key string, dst *bool) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) float(key string, dst *float64) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) logLevel(key string, dst *slog.Level) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	switch strings.ToLower(value) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		r.err = fmt.Errorf("invalid %s: %q", key, value)
	}
}
