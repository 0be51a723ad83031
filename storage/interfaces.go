package storage

import (
	"context"
	"errors"
	"time"

	"listing-ingest/models"
)

var (
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("storage: duplicate")
)

// StagingStore holds scraped candidates keyed by source URL.
type StagingStore interface {
	// UpsertCandidate inserts c as pending, refreshes a pending row with the new
	// data, or only moves last_seen_at on approved/rejected rows.
	UpsertCandidate(ctx context.Context, c *models.CandidateListing, seenAt time.Time) (models.UpsertOutcome, error)
	ListPending(ctx context.Context) ([]*models.CandidateListing, error)
	GetCandidate(ctx context.Context, sourceURL string) (*models.CandidateListing, error)
	MarkApproved(ctx context.Context, sourceURL, listingID string, seenAt time.Time) error
	// ListStaleApproved returns approved rows last seen before the cutoff that
	// point at a published listing.
	ListStaleApproved(ctx context.Context, before time.Time) ([]*models.CandidateListing, error)
	ClearStaging(ctx context.Context) (int64, error)
}

// CatalogStore holds published listings.
type CatalogStore interface {
	// InsertListing returns ErrDuplicate when a non-inactive listing with the
	// same source URL already exists.
	InsertListing(ctx context.Context, l *models.Listing) error
	FindLiveBySourceURL(ctx context.Context, sourceURL string) (*models.Listing, error)
	// DeactivateListings flips active listings in ids to inactive and returns
	// how many rows changed.
	DeactivateListings(ctx context.Context, ids []string, at time.Time) (int64, error)
	ListListings(ctx context.Context, filter models.ListingFilter) ([]*models.Listing, error)
	DeleteNonInactive(ctx context.Context) (int64, error)
}

// ScraperConfigStore holds per-source configuration and run bookkeeping.
type ScraperConfigStore interface {
	ListActiveScrapers(ctx context.Context) ([]*models.ScraperConfig, error)
	GetScraper(ctx context.Context, id string) (*models.ScraperConfig, error)
	// EnsureScrapers creates or updates definitions without touching counters.
	EnsureScrapers(ctx context.Context, defs []*models.ScraperConfig) error
	RecordRun(ctx context.Context, id string, status models.RunStatus, message string, found int, at time.Time) error
	ResetScraperCounters(ctx context.Context) (int64, error)
}

// RunLogStore is the append-only adapter run log.
type RunLogStore interface {
	AppendRunLog(ctx context.Context, entry *models.ScraperRunLog) error
	ClearRunLogs(ctx context.Context) (int64, error)
}

// Store bundles every table the pipeline touches.
type Store interface {
	StagingStore
	CatalogStore
	ScraperConfigStore
	RunLogStore
	Close() error
}

// ImageStore is the application's own object storage.
type ImageStore interface {
	// Upload stores data at path, overwriting any previous object, and returns
	// its public URL.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// CandidateSnapshotWriter persists raw adapter output for diagnostics.
type CandidateSnapshotWriter interface {
	WriteCandidates(scraperID string, candidates []*models.CandidateListing) error
	Close() error
}
