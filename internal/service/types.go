// Package service contains the dataset and aggregation logic behind the API.
package service

import (
	"time"

	"github.com/joeblew999/plat-forest/internal/risk"
)

// DatasetFile represents a GeoJSON source file of risk polygons.
type DatasetFile struct {
	Name     string    `json:"name" doc:"File name" example:"haut-rhin.geojson"`
	Size     string    `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	Modified time.Time `json:"modified" doc:"Last modification time"`
}

// Report is the outcome of aggregating one dataset: the raw result plus the
// display views derived from it.
type Report struct {
	Dataset    string
	ComputedAt time.Time
	Result     risk.Result
	Summary    risk.Summary
}
