package http

import (
	"time"

	"mquery/internal/core/index"
	dsdom "mquery/internal/services/datasets/domain"
)

// IndexRequest asks for a directory to become a dataset
type IndexRequest struct {
	Path      string   `json:"path"      validate:"required" example:"/mnt/samples/2024-05"`
	Schemes   []string `json:"schemes"   validate:"required,min=1,dive,oneof=gram3 text4 hash4 wide8" example:"gram3,text4"`
	Recursive *bool    `json:"recursive" example:"true"`
	Taints    []string `json:"taints"    validate:"omitempty,dive,label" example:"prod"`
}

// TaintRequest attaches one label
type TaintRequest struct {
	Taint string `json:"taint" validate:"required,label" example:"prod"`
}

// DatasetView is the backend listing entry for one dataset
type DatasetView struct {
	Root      string         `json:"root"`
	Schemes   []index.Scheme `json:"schemes"`
	Taints    []string       `json:"taints"`
	FileCount int            `json:"file_count"`
	CreatedAt time.Time      `json:"created_at"`
}

// DatasetsResponse maps dataset id to its view
type DatasetsResponse struct {
	Datasets map[string]DatasetView `json:"datasets"`
}

// TaintDatasetsResponse lists dataset ids for one taint
type TaintDatasetsResponse struct {
	Taint    string   `json:"taint"`
	Datasets []string `json:"datasets"`
}

func viewOf(ds dsdom.Dataset) DatasetView {
	return DatasetView{
		Root:      ds.Root,
		Schemes:   ds.Schemes,
		Taints:    ds.Taints,
		FileCount: ds.FileCount,
		CreatedAt: ds.CreatedAt,
	}
}
