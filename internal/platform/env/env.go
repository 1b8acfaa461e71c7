// Package env reads typed configuration from the process environment.
// A variable that is set but blank counts as unset.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func parse[T any](key string, def T, fn func(string) (T, error)) (T, error) {
	raw, ok := lookup(key)
	if !ok {
		return def, nil
	}
	v, err := fn(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s=%q: %w", key, raw, err)
	}
	return v, nil
}

func String(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return parse(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return parse(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return parse(key, def, strconv.Atoi)
}

func Float(key string, def float64) (float64, error) {
	return parse(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}
