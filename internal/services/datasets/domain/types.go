// Package domain holds dataset types and ports
package domain

import (
	"time"

	"mquery/internal/core/index"
)

// Dataset is an immutable unit of indexed files. Only Taints changes after commit
type Dataset struct {
	ID        string         `json:"id"`
	Root      string         `json:"root"`
	Schemes   []index.Scheme `json:"schemes"`
	Taints    []string       `json:"taints"`
	FileCount int            `json:"file_count"`
	CreatedAt time.Time      `json:"created_at"`
}

// HasTaint reports whether d carries label
func (d Dataset) HasTaint(label string) bool {
	for _, t := range d.Taints {
		if t == label {
			return true
		}
	}
	return false
}

// IngestInput describes one ingestion
type IngestInput struct {
	Path      string
	Schemes   []string
	Recursive *bool
	Taints    []string
}

// Skipped is a file ingestion could not read
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestResult is the committed dataset plus per-file warnings
type IngestResult struct {
	Dataset Dataset   `json:"dataset"`
	Skipped []Skipped `json:"skipped,omitempty"`
}
