// Package domain holds taint registry types and ports
package domain

import (
	"context"
	"fmt"
	"strings"

	dsdom "mquery/internal/services/datasets/domain"
)

// Policy decides which datasets a query without a taint may use
type Policy string

const (
	// PolicyAll makes every dataset eligible
	PolicyAll Policy = "all"
	// PolicyUntainted makes only datasets without labels eligible
	PolicyUntainted Policy = "untainted"
)

// ParsePolicy resolves a policy name
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAll, PolicyUntainted:
		return p, nil
	}
	return "", fmt.Errorf("unknown taint policy %q", s)
}

// DatasetRef is a value copy of a dataset's identity and labels as seen at
// snapshot time
type DatasetRef struct {
	ID     string   `json:"id"`
	Taints []string `json:"taints"`
}

// Persister stores taint sets on dataset records
type Persister interface {
	List(ctx context.Context) ([]dsdom.Dataset, error)
	SetTaints(ctx context.Context, id string, taints []string) error
}

// Registry is the taint port the query engine and api use
type Registry interface {
	AddTaint(ctx context.Context, id, label string) ([]string, error)
	RemoveTaint(ctx context.Context, id, label string) ([]string, error)
	TaintsOf(id string) ([]string, error)
	// DatasetsWithTaint lists datasets carrying label, or untainted ones for nil
	DatasetsWithTaint(label *string) []string
	// Snapshot captures the datasets eligible for a query with taint
	Snapshot(taint *string) []DatasetRef
	Policy() Policy
}
