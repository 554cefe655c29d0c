// Package raw reads environment variables during bootstrap.
// It must not import the logger, which itself is configured from here
package raw

import (
	"os"
	"strconv"
	"strings"
)

// Env is a prefixed view over the process environment (e.g. "LOG_")
type Env struct{ prefix string }

// New returns an Env without a prefix
func New() Env { return Env{} }

// Prefix returns a child Env with p appended to the current prefix
func (e Env) Prefix(p string) Env { return Env{prefix: e.prefix + p} }

func (e Env) lookup(k string) string { return strings.TrimSpace(os.Getenv(e.prefix + k)) }

// Get returns the value for key or def when unset
func (e Env) Get(key, def string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return def
}

// GetBool accepts 1, true, yes and on (any case); anything else is false
func (e Env) GetBool(key string, def bool) bool {
	v := strings.ToLower(e.lookup(key))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// GetInt returns a non-negative integer or def when unset or malformed
func (e Env) GetInt(key string, def int) int {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
