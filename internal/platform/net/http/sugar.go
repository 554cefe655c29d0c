package http

import (
	"net/http"
	"strconv"

	perr "mquery/internal/platform/errors"
)

// GetJSON mounts fn for GET
func GetJSON(r Router, path string, fn func(*http.Request) (any, error)) {
	r.Get(path, JSONHandlerNoBody(fn))
}

// DeleteJSON mounts fn for DELETE
func DeleteJSON(r Router, path string, fn func(*http.Request) (any, error)) {
	r.Delete(path, JSONHandlerNoBody(fn))
}

// PostJSON mounts fn for POST with a bound T body
func PostJSON[T any](r Router, path string, fn func(*http.Request, T) (any, error)) {
	r.Post(path, JSONHandler(fn))
}

// QueryInt reads a non-negative integer query parameter, returning def when
// absent and capping it at max when max > 0
func QueryInt(r *http.Request, key string, def, max int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, perr.WithField(perr.InvalidArgf("%s must be a non-negative integer", key), key)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}
