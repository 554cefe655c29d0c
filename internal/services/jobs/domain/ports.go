package domain

import (
	"context"
	"time"

	"mquery/internal/core/rule"
)

// Store persists jobs and their matches. Every method is atomic on its own;
// a View never shows a terminal status without the full match set
type Store interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// List returns jobs newest first
	List(ctx context.Context) ([]Job, error)

	// Start moves a queued job to running. false means it was not queued
	Start(ctx context.Context, id string, at time.Time) (bool, error)
	Progress(ctx context.Context, id string, p Progress) error
	// Append adds matches whose file is not yet recorded and returns how many
	// were new. Terminal jobs take no matches
	Append(ctx context.Context, id string, ms []Match) (int, error)
	// Finish appends tail and moves a non-terminal job to status in one step.
	// false means the job was already terminal
	Finish(ctx context.Context, id string, status Status, msg string, at time.Time, tail []Match) (bool, error)

	View(ctx context.Context, id string, offset, limit int) (StatusView, error)
	// Prune drops terminal jobs that finished before cutoff
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Ping(ctx context.Context) error
}

// Service is the jobs port the api uses
type Service interface {
	Submit(ctx context.Context, in SubmitInput) (string, error)
	Status(ctx context.Context, id string, offset, limit int) (StatusView, error)
	Get(ctx context.Context, id string) (Job, error)
	Cancel(ctx context.Context, id string) (Job, error)
	List(ctx context.Context) ([]Job, error)
	Parse(ruleText string) (rule.Summary, error)
	Ping(ctx context.Context) error
}
