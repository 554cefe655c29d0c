package http

import (
	"mquery/internal/core/rule"
	dom "mquery/internal/services/jobs/domain"
)

// QueryRequest submits or dry-runs a rule
type QueryRequest struct {
	Method  string  `json:"method"   validate:"omitempty,oneof=query parse" example:"query"`
	RawYara string  `json:"raw_yara" validate:"required" example:"rule r { strings: $a = \"evil\" condition: $a }"`
	Taint   *string `json:"taint"    validate:"omitempty,label" example:"prod"`
}

// QueryResponse carries the id of a queued job
type QueryResponse struct {
	QueryHash string `json:"query_hash" example:"3b8f0c4e-2f5a-4a53-9d0b-5b1c3f1a9e21"`
}

// ParseResponse is the dry-run result
type ParseResponse struct {
	Plan rule.Summary `json:"plan"`
}

// JobView is a job with the progress names clients poll for
type JobView struct {
	dom.Job
	WorkDone      int `json:"work_done"`
	WorkEstimated int `json:"work_estimated"`
}

func viewOf(j dom.Job) JobView {
	return JobView{Job: j, WorkDone: j.FilesProcessed, WorkEstimated: j.FilesTotal}
}

// MatchesResponse is one page of a job's matches
type MatchesResponse struct {
	Job     JobView     `json:"job"`
	Matches []dom.Match `json:"matches"`
	Total   int         `json:"total"`
}

// BackendResponse summarizes the job store
type BackendResponse struct {
	DBAlive bool      `json:"db_alive"`
	Jobs    []JobView `json:"jobs"`
}
