// Package http exposes dataset ingestion and taint management over the api
package http

import (
	"net/http"

	"mquery/internal/modkit/httpkit"
	dsdom "mquery/internal/services/datasets/domain"
	tdom "mquery/internal/services/taints/domain"
)

// NoTaint in a path stands for "datasets without any taint"
const NoTaint = "-"

// Deps are the handler dependencies
type Deps struct {
	Datasets dsdom.Service
	Taints   tdom.Registry
}

// Register mounts the dataset routes
func Register(r httpkit.Router, d Deps) {
	h := &handlers{d}
	httpkit.Post(r, "/api/index", h.index)
	httpkit.Get(r, "/api/backend/datasets", h.datasets)
	httpkit.Delete(r, "/api/datasets/{id}", h.drop)
	httpkit.Post(r, "/api/datasets/{id}/taints", h.addTaint)
	httpkit.Delete(r, "/api/datasets/{id}/taints/{taint}", h.removeTaint)
	httpkit.Get(r, "/api/taints/{taint}/datasets", h.byTaint)
}

type handlers struct{ Deps }

// @Summary Index a directory into a new dataset
// @Tags Datasets
// @Accept json
// @Produce json
// @Param payload body IndexRequest true "Directory"
// @Success 201 {object} dsdom.IngestResult
// @Failure 422 {object} httpkit.Envelope "nothing could be indexed"
// @Router /api/index [post]
func (h *handlers) index(r *http.Request, in IndexRequest) (any, error) {
	res, err := h.Datasets.Ingest(r.Context(), dsdom.IngestInput{
		Path:      in.Path,
		Schemes:   in.Schemes,
		Recursive: in.Recursive,
		Taints:    in.Taints,
	})
	if err != nil {
		return nil, err
	}
	return httpkit.Created(res), nil
}

// @Summary Every dataset with its taints and schemes
// @Tags Datasets
// @Produce json
// @Success 200 {object} DatasetsResponse
// @Router /api/backend/datasets [get]
func (h *handlers) datasets(r *http.Request) (any, error) {
	all, err := h.Datasets.List(r.Context())
	if err != nil {
		return nil, err
	}
	out := DatasetsResponse{Datasets: make(map[string]DatasetView, len(all))}
	for _, ds := range all {
		out.Datasets[ds.ID] = viewOf(ds)
	}
	return out, nil
}

// @Summary Delete a dataset and its index
// @Tags Datasets
// @Param id path string true "Dataset id"
// @Success 204
// @Failure 404 {object} httpkit.Envelope
// @Router /api/datasets/{id} [delete]
func (h *handlers) drop(r *http.Request) (any, error) {
	if err := h.Datasets.Delete(r.Context(), httpkit.Param(r, "id")); err != nil {
		return nil, err
	}
	return httpkit.NoContent(), nil
}

// @Summary Attach a taint to a dataset
// @Tags Taints
// @Accept json
// @Produce json
// @Param id path string true "Dataset id"
// @Param payload body TaintRequest true "Taint"
// @Success 200 {object} DatasetView
// @Router /api/datasets/{id}/taints [post]
func (h *handlers) addTaint(r *http.Request, in TaintRequest) (any, error) {
	id := httpkit.Param(r, "id")
	if _, err := h.Taints.AddTaint(r.Context(), id, in.Taint); err != nil {
		return nil, err
	}
	return h.dataset(r, id)
}

// @Summary Detach a taint from a dataset
// @Tags Taints
// @Produce json
// @Param id path string true "Dataset id"
// @Param taint path string true "Taint"
// @Success 200 {object} DatasetView
// @Router /api/datasets/{id}/taints/{taint} [delete]
func (h *handlers) removeTaint(r *http.Request) (any, error) {
	id := httpkit.Param(r, "id")
	label, err := httpkit.PathParam(r, "taint")
	if err != nil {
		return nil, err
	}
	if _, err := h.Taints.RemoveTaint(r.Context(), id, label); err != nil {
		return nil, err
	}
	return h.dataset(r, id)
}

func (h *handlers) dataset(r *http.Request, id string) (any, error) {
	ds, err := h.Datasets.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return viewOf(ds), nil
}

// @Summary Datasets carrying a taint; "-" lists untainted datasets
// @Tags Taints
// @Produce json
// @Param taint path string true "Taint or -"
// @Success 200 {object} TaintDatasetsResponse
// @Router /api/taints/{taint}/datasets [get]
func (h *handlers) byTaint(r *http.Request) (any, error) {
	label, err := httpkit.PathParam(r, "taint")
	if err != nil {
		return nil, err
	}
	var filter *string
	if label != NoTaint {
		filter = &label
	}
	ids := h.Taints.DatasetsWithTaint(filter)
	if ids == nil {
		ids = []string{}
	}
	return TaintDatasetsResponse{Taint: label, Datasets: ids}, nil
}
