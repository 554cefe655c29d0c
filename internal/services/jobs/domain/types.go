// Package domain holds query job types and ports
package domain

import (
	"fmt"
	"strings"
	"time"

	tdom "mquery/internal/services/taints/domain"
)

// Status of a job. done, error and cancelled are terminal
type Status string

// Job statuses
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s can no longer change
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// Priority selects the queue a job waits in
type Priority string

// Priorities, highest first
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists every priority in drain order
func Priorities() []Priority { return []Priority{PriorityHigh, PriorityMedium, PriorityLow} }

// ParsePriority resolves a priority name; empty means medium
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Job is one submitted query
type Job struct {
	ID       string   `json:"id"`
	RuleText string   `json:"raw_yara"`
	RuleName string   `json:"rule_name"`
	Taint    *string  `json:"taint"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`
	Error    string   `json:"error,omitempty"`

	// Datasets is the eligible set captured at submit
	Datasets []tdom.DatasetRef `json:"datasets"`

	FilesProcessed int `json:"files_processed"`
	FilesTotal     int `json:"files_total"`
	FilesMatched   int `json:"files_matched"`
	FilesErrored   int `json:"files_errored"`

	SubmittedAt time.Time  `json:"submitted"`
	StartedAt   *time.Time `json:"started,omitempty"`
	FinishedAt  *time.Time `json:"finished,omitempty"`
}

// Match is a confirmed file. A path appears once per job
type Match struct {
	File    string           `json:"file"`
	Dataset string           `json:"dataset"`
	Offsets map[string][]int `json:"offsets"`
}

// Progress carries the running counters of a job
type Progress struct {
	Processed int
	Total     int
	Errored   int
}

// SubmitInput is a query request
type SubmitInput struct {
	RuleText string
	Taint    *string
	Priority Priority
}

// StatusView is one consistent read of a job and a page of its matches
type StatusView struct {
	Job     Job     `json:"job"`
	Matches []Match `json:"matches"`
	Total   int     `json:"total"`
}
