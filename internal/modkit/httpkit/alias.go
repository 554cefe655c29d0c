// Package httpkit re-exports the platform http helpers modules use, so
// module code does not import internal/platform/net/http directly
package httpkit

import (
	"net/http"

	phttp "mquery/internal/platform/net/http"
)

type (
	// Response is the HTTP response type
	Response = phttp.Response

	// Handler is the platform handler type
	Handler = phttp.Handler

	// Router is a re-export of the platform router seam
	Router = phttp.Router

	// Envelope is the JSON body every route writes
	Envelope = phttp.Envelope
)

// OK returns a 200 response
func OK(data any) Response { return phttp.OK(data) }

// Accepted returns a 202 response
func Accepted(data any) Response { return phttp.Accepted(data) }

// Created returns a 201 response
func Created(data any) Response { return phttp.Created(data) }

// NoContent returns a 204 response
func NoContent() Response { return phttp.NoContent() }

// Error maps err to its status and envelope
func Error(err error) Response { return phttp.Error(err) }

// Handle adapts a Response returning function
func Handle(fn func(*http.Request) Response) Handler { return phttp.Handle(fn) }

// Param reads a chi path parameter
func Param(r *http.Request, key string) string { return phttp.URLParam(r, key) }

// PathParam reads a chi path parameter and decodes percent escapes
func PathParam(r *http.Request, key string) (string, error) { return phttp.PathParam(r, key) }

// QueryInt reads a bounded non-negative integer query parameter
func QueryInt(r *http.Request, key string, def, max int) (int, error) {
	return phttp.QueryInt(r, key, def, max)
}
