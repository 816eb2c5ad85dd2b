// Package store persists businesses, their enrichment records, and
// analysis runs behind a backend-agnostic interface.
package store

import (
	"context"

	"github.com/project-million/scanner-cli/internal/model"
)

// BusinessFilter specifies criteria for listing businesses. The zero
// value lists active businesses, newest first.
type BusinessFilter struct {
	Sector            string  `json:"sector,omitempty"`
	MaxAskingPrice    int64   `json:"max_asking_price,omitempty"`
	MinCompositeScore float64 `json:"min_composite_score,omitempty"`
	IncludeInactive   bool    `json:"include_inactive,omitempty"`
	Limit             int     `json:"limit,omitempty"`
}

// UpsertResult reports the outcome of a business upsert.
type UpsertResult struct {
	ID    string
	IsNew bool
}

// Store defines the persistence interface for the scan pipeline.
//
// UpsertBusiness deduplicates by natural key (business_name, source):
// a hit updates the existing row in place (same id, derived fields
// overwritten, last_analyzed_at refreshed); a miss inserts an active
// row. The lookup and write are deliberately not wrapped in a
// transaction; concurrent scans of the same candidate may race.
type Store interface {
	// Businesses
	UpsertBusiness(ctx context.Context, b *model.Business) (*UpsertResult, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListBusinesses(ctx context.Context, filter BusinessFilter) ([]model.Business, error)
	DeactivateBusiness(ctx context.Context, id string) error

	// Enrichment: wholesale replace keyed by business id.
	UpsertEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error
	GetEnrichment(ctx context.Context, businessID string) (*model.EnrichmentRecord, error)

	// Runs
	CreateRun(ctx context.Context, cfg *model.RunConfig) (*model.AnalysisRun, error)
	MarkRunProcessing(ctx context.Context, runID string) error
	UpdateRunProgress(ctx context.Context, runID string, processed, added, updated int) error
	CompleteRun(ctx context.Context, runID string, processed, added, updated, executionSeconds int) error
	FailRun(ctx context.Context, runID string, message string) error
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	GetCurrentRun(ctx context.Context) (*model.AnalysisRun, error)
	GetLastRun(ctx context.Context) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.AnalysisRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
