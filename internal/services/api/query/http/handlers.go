// Package http exposes query jobs over the api
package http

import (
	"net/http"
	"strings"

	"mquery/internal/modkit/httpkit"
	perr "mquery/internal/platform/errors"
	pstrings "mquery/internal/platform/strings"
	dom "mquery/internal/services/jobs/domain"
)

// DefaultLimit and MaxLimit bound match pages
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Register mounts the query routes
func Register(r httpkit.Router, jobs dom.Service) {
	h := &handlers{jobs: jobs}
	httpkit.Post(r, "/api/query/{priority}", h.query)
	httpkit.Get(r, "/api/matches/{hash}", h.matches)
	httpkit.Get(r, "/api/job/{hash}", h.job)
	httpkit.Delete(r, "/api/job/{hash}", h.cancel)
	httpkit.Get(r, "/api/backend", h.backend)
}

type handlers struct{ jobs dom.Service }

// @Summary Submit a rule as a job, or dry-run it with method=parse
// @Tags Query
// @Accept json
// @Produce json
// @Param priority path string true "high, medium or low"
// @Param payload body QueryRequest true "Rule"
// @Success 200 {object} QueryResponse
// @Failure 400 {object} httpkit.Envelope "rule does not compile"
// @Router /api/query/{priority} [post]
func (h *handlers) query(r *http.Request, in QueryRequest) (any, error) {
	if strings.EqualFold(in.Method, "parse") {
		sum, err := h.jobs.Parse(in.RawYara)
		if err != nil {
			return nil, err
		}
		return ParseResponse{Plan: sum}, nil
	}
	prio, err := dom.ParsePriority(httpkit.Param(r, "priority"))
	if err != nil {
		return nil, perr.WithField(perr.Validationf("%v", err), "priority")
	}
	id, err := h.jobs.Submit(r.Context(), dom.SubmitInput{
		RuleText: in.RawYara,
		Taint:    pstrings.Ptr(pstrings.Deref(in.Taint)),
		Priority: prio,
	})
	if err != nil {
		return nil, err
	}
	return QueryResponse{QueryHash: id}, nil
}

// @Summary Job status and a page of matches
// @Tags Query
// @Produce json
// @Param hash path string true "Job id"
// @Param offset query int false "First match" default(0)
// @Param limit query int false "Page size, at most 1000" default(50)
// @Success 200 {object} MatchesResponse
// @Failure 404 {object} httpkit.Envelope
// @Router /api/matches/{hash} [get]
func (h *handlers) matches(r *http.Request) (any, error) {
	offset, err := httpkit.QueryInt(r, "offset", 0, 0)
	if err != nil {
		return nil, err
	}
	limit, err := httpkit.QueryInt(r, "limit", DefaultLimit, MaxLimit)
	if err != nil {
		return nil, err
	}
	v, err := h.jobs.Status(r.Context(), httpkit.Param(r, "hash"), offset, limit)
	if err != nil {
		return nil, err
	}
	return MatchesResponse{Job: viewOf(v.Job), Matches: v.Matches, Total: v.Total}, nil
}

// @Summary One job including its rule text
// @Tags Query
// @Produce json
// @Param hash path string true "Job id"
// @Success 200 {object} JobView
// @Router /api/job/{hash} [get]
func (h *handlers) job(r *http.Request) (any, error) {
	j, err := h.jobs.Get(r.Context(), httpkit.Param(r, "hash"))
	if err != nil {
		return nil, err
	}
	return viewOf(j), nil
}

// @Summary Cancel a queued or running job
// @Tags Query
// @Produce json
// @Param hash path string true "Job id"
// @Success 200 {object} JobView
// @Failure 409 {object} httpkit.Envelope "already finished"
// @Router /api/job/{hash} [delete]
func (h *handlers) cancel(r *http.Request) (any, error) {
	j, err := h.jobs.Cancel(r.Context(), httpkit.Param(r, "hash"))
	if err != nil {
		return nil, err
	}
	return viewOf(j), nil
}

// @Summary Job list and job store health
// @Tags Query
// @Produce json
// @Success 200 {object} BackendResponse
// @Router /api/backend [get]
func (h *handlers) backend(r *http.Request) (any, error) {
	js, err := h.jobs.List(r.Context())
	if err != nil {
		return nil, err
	}
	out := BackendResponse{DBAlive: h.jobs.Ping(r.Context()) == nil, Jobs: make([]JobView, 0, len(js))}
	for _, j := range js {
		out.Jobs = append(out.Jobs, viewOf(j))
	}
	return out, nil
}
