// Package service implements the taint registry
package service

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"mquery/internal/core/normalize"
	perr "mquery/internal/platform/errors"
	"mquery/internal/platform/logger"
	dsdom "mquery/internal/services/datasets/domain"
	dom "mquery/internal/services/taints/domain"
)

// Registry maps dataset ids to label sets. Reads take the RWMutex shared;
// writers are serialized by writeMu and persist before publishing
type Registry struct {
	store  dom.Persister
	policy dom.Policy
	log    *logger.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	sets    map[string]map[string]struct{}
}

// New returns an empty registry; call Load to fill it from store
func New(store dom.Persister, policy dom.Policy) *Registry {
	if policy == "" {
		policy = dom.PolicyAll
	}
	return &Registry{
		store:  store,
		policy: policy,
		log:    logger.Named("taints"),
		sets:   map[string]map[string]struct{}{},
	}
}

// Load replaces the in-memory view with the persisted catalog
func (r *Registry) Load(ctx context.Context) error {
	all, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	sets := make(map[string]map[string]struct{}, len(all))
	for _, ds := range all {
		sets[ds.ID] = toSet(ds.Taints)
	}
	r.mu.Lock()
	r.sets = sets
	r.mu.Unlock()
	r.log.Info().Int("datasets", len(sets)).Msg("taint registry loaded")
	return nil
}

// Policy returns the no-taint policy
func (r *Registry) Policy() dom.Policy { return r.policy }

// Track implements datasets domain.Tracker
func (r *Registry) Track(ds dsdom.Dataset) {
	r.mu.Lock()
	r.sets[ds.ID] = toSet(ds.Taints)
	r.mu.Unlock()
}

// Forget implements datasets domain.Tracker
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.sets, id)
	r.mu.Unlock()
}

// AddTaint attaches label to id and returns the new label set
func (r *Registry) AddTaint(ctx context.Context, id, label string) ([]string, error) {
	return r.update(ctx, id, label, func(set map[string]struct{}, l string) { set[l] = struct{}{} })
}

// RemoveTaint detaches label from id. Removing an absent label is a no-op
func (r *Registry) RemoveTaint(ctx context.Context, id, label string) ([]string, error) {
	return r.update(ctx, id, label, func(set map[string]struct{}, l string) { delete(set, l) })
}

func (r *Registry) update(ctx context.Context, id, label string, mut func(map[string]struct{}, string)) ([]string, error) {
	label = normalize.Label(label)
	if label == "" {
		return nil, perr.WithField(perr.Validationf("taint label must not be empty"), "taint")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	cur, ok := r.sets[id]
	r.mu.RUnlock()
	if !ok {
		return nil, perr.NotFoundf("dataset %s not found", id)
	}

	next := maps.Clone(cur)
	mut(next, label)
	labels := sorted(next)
	if err := r.store.SetTaints(ctx, id, labels); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, still := r.sets[id]; still {
		r.sets[id] = next
	}
	r.mu.Unlock()
	r.log.Info().Str("dataset", id).Strs("taints", labels).Msg("taints updated")
	return labels, nil
}

// TaintsOf returns the labels of id
func (r *Registry) TaintsOf(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[id]
	if !ok {
		return nil, perr.NotFoundf("dataset %s not found", id)
	}
	return sorted(set), nil
}

// DatasetsWithTaint lists ids carrying label, or untainted ids when label is nil
func (r *Registry) DatasetsWithTaint(label *string) []string {
	label = normalize.LabelPtr(label)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{}
	for id, set := range r.sets {
		if label == nil && len(set) == 0 {
			out = append(out, id)
			continue
		}
		if label != nil {
			if _, ok := set[*label]; ok {
				out = append(out, id)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Snapshot captures the eligible datasets for a query. A taint restricts to
// datasets carrying that exact label; without one the policy decides
func (r *Registry) Snapshot(taint *string) []dom.DatasetRef {
	taint = normalize.LabelPtr(taint)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []dom.DatasetRef
	for id, set := range r.sets {
		switch {
		case taint != nil:
			if _, ok := set[*taint]; !ok {
				continue
			}
		case r.policy == dom.PolicyUntainted && len(set) > 0:
			continue
		}
		out = append(out, dom.DatasetRef{ID: id, Taints: sorted(set)})
	}
	slices.SortFunc(out, func(a, b dom.DatasetRef) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func toSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

func sorted(set map[string]struct{}) []string {
	out := slices.Sorted(maps.Keys(set))
	if out == nil {
		out = []string{}
	}
	return out
}
