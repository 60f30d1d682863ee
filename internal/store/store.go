// Package store persists fused datasets and site percentile tables. Two
// backends implement the same interface: SQLite for single-user CLI use and
// PostgreSQL for the shared service deployment.
package store

import (
	"context"
	"time"

	"github.com/hydrosight/groundwater-cli/internal/percentile"
	"github.com/hydrosight/groundwater-cli/internal/potential"
)

// StoredDataset couples persistence metadata with a fused dataset.
type StoredDataset struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	Dataset   potential.Dataset `json:"dataset"`
}

// SiteBoundary is one site's percentile table with its location and the
// depth of its most recent measurement.
type SiteBoundary struct {
	SiteCode    string              `json:"site_code"`
	Lat         *float64            `json:"lat"`
	Lon         *float64            `json:"lon"`
	LastDepthFt *float64            `json:"last_depth_ft"`
	Boundary    percentile.Boundary `json:"boundary"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// DatasetFilter specifies criteria for listing datasets.
type DatasetFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func (f DatasetFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// Store defines the persistence interface.
type Store interface {
	// Datasets
	SaveDataset(ctx context.Context, name string, ds *potential.Dataset) (*StoredDataset, error)
	GetDataset(ctx context.Context, id string) (*StoredDataset, error)
	// ListDatasets returns metadata only; Records is left empty.
	ListDatasets(ctx context.Context, filter DatasetFilter) ([]StoredDataset, error)

	// Site percentile tables
	UpsertBoundaries(ctx context.Context, boundaries []SiteBoundary) (int64, error)
	// GetBoundary returns (nil, nil) when the site is unknown.
	GetBoundary(ctx context.Context, siteCode string) (*SiteBoundary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
