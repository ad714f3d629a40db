package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every variable name read by Load.
const EnvPrefix = "HANA_"

// env reads prefixed variables and collects parse errors instead of silently
// falling back, so a typo in a duration is reported at startup.
type env struct {
	prefix string
	errs   []error
}

func (e *env) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(e.prefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(name, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", e.prefix, name, raw, err))
}

// StringOr returns the variable or def when unset or empty.
func (e *env) StringOr(name, def string) string {
	if v, ok := e.lookup(name); ok {
		return v
	}
	return def
}

// Required returns the variable or records an error when unset.
func (e *env) Required(name string) string {
	v, ok := e.lookup(name)
	if !ok {
		e.errs = append(e.errs, fmt.Errorf("required environment variable %s%s is not set", e.prefix, name))
	}
	return v
}

// BoolOr parses the variable with strconv.ParseBool.
func (e *env) BoolOr(name string, def bool) bool {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return b
}

// IntOr parses the variable as a decimal integer.
func (e *env) IntOr(name string, def int) int {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return n
}

// FloatOr parses the variable as a 64-bit float.
func (e *env) FloatOr(name string, def float64) float64 {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return f
}

// DurationOr parses the variable with time.ParseDuration ("30s", "6h").
func (e *env) DurationOr(name string, def time.Duration) time.Duration {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return d
}

// LocationOr loads an IANA time zone name.
func (e *env) LocationOr(name string, def *time.Location) *time.Location {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return loc
}
