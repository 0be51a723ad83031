package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"listing-ingest/models"
)

// MemoryStore is an in-process Store. It enforces the same uniqueness rules as
// the Postgres schema and is used for dry runs and tests.
type MemoryStore struct {
	mu sync.Mutex

	nextCandidateID int64
	staging         map[string]*models.CandidateListing

	listings     map[string]*models.Listing
	listingOrder []string

	scrapers map[string]*models.ScraperConfig

	nextLogID int64
	runLogs   []*models.ScraperRunLog
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		staging:  make(map[string]*models.CandidateListing),
		listings: make(map[string]*models.Listing),
		scrapers: make(map[string]*models.ScraperConfig),
	}
}

func (m *MemoryStore) Close() error { return nil }

// ── staging ──────────────────────────────────────────────────────────────

func (m *MemoryStore) UpsertCandidate(_ context.Context, c *models.CandidateListing, seenAt time.Time) (models.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.staging[c.SourceURL]
	if !ok {
		m.nextCandidateID++
		row := cloneCandidate(c)
		row.ID = m.nextCandidateID
		row.Status = models.CandidatePending
		row.LastSeenAt = seenAt
		row.PublishedListingID = nil
		row.CreatedAt = seenAt
		m.staging[c.SourceURL] = row
		return models.UpsertInserted, nil
	}

	if existing.Status != models.CandidatePending {
		existing.LastSeenAt = seenAt
		return models.UpsertRefreshed, nil
	}

	row := cloneCandidate(c)
	row.ID = existing.ID
	row.Status = models.CandidatePending
	row.CreatedAt = existing.CreatedAt
	row.PublishedListingID = existing.PublishedListingID
	row.LastSeenAt = seenAt
	m.staging[c.SourceURL] = row
	return models.UpsertUpdated, nil
}

func (m *MemoryStore) ListPending(_ context.Context) ([]*models.CandidateListing, error) {
	return m.selectCandidates(func(c *models.CandidateListing) bool {
		return c.Status == models.CandidatePending
	}), nil
}

func (m *MemoryStore) GetCandidate(_ context.Context, sourceURL string) (*models.CandidateListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.staging[sourceURL]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCandidate(c), nil
}

func (m *MemoryStore) MarkApproved(_ context.Context, sourceURL, listingID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.staging[sourceURL]
	if !ok {
		return ErrNotFound
	}
	id := listingID
	c.Status = models.CandidateApproved
	c.LastSeenAt = seenAt
	c.PublishedListingID = &id
	return nil
}

func (m *MemoryStore) ListStaleApproved(_ context.Context, before time.Time) ([]*models.CandidateListing, error) {
	return m.selectCandidates(func(c *models.CandidateListing) bool {
		return c.Status == models.CandidateApproved &&
			c.PublishedListingID != nil &&
			c.LastSeenAt.Before(before)
	}), nil
}

func (m *MemoryStore) ClearStaging(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.staging))
	m.staging = make(map[string]*models.CandidateListing)
	return n, nil
}

// SetLastSeen moves a staging row's watermark. Test helper for staleness.
func (m *MemoryStore) SetLastSeen(sourceURL string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.staging[sourceURL]
	if ok {
		c.LastSeenAt = at
	}
	return ok
}

func (m *MemoryStore) selectCandidates(keep func(*models.CandidateListing) bool) []*models.CandidateListing {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.CandidateListing
	for _, c := range m.staging {
		if keep(c) {
			out = append(out, cloneCandidate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ── catalog ──────────────────────────────────────────────────────────────

func (m *MemoryStore) InsertListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listings[l.ID]; exists {
		return ErrDuplicate
	}
	if l.SourceURL != "" && l.Status != models.ListingInactive {
		if m.findLiveLocked(l.SourceURL) != nil {
			return ErrDuplicate
		}
	}

	m.listings[l.ID] = cloneListing(l)
	m.listingOrder = append(m.listingOrder, l.ID)
	return nil
}

func (m *MemoryStore) FindLiveBySourceURL(_ context.Context, sourceURL string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.findLiveLocked(sourceURL); l != nil {
		return cloneListing(l), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) findLiveLocked(sourceURL string) *models.Listing {
	for _, id := range m.listingOrder {
		l := m.listings[id]
		if l != nil && l.SourceURL == sourceURL && l.Status != models.ListingInactive {
			return l
		}
	}
	return nil
}

func (m *MemoryStore) DeactivateListings(_ context.Context, ids []string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, id := range ids {
		l, ok := m.listings[id]
		if !ok || l.Status != models.ListingActive {
			continue
		}
		l.Status = models.ListingInactive
		l.UpdatedAt = at
		n++
	}
	return n, nil
}

func (m *MemoryStore) ListListings(_ context.Context, filter models.ListingFilter) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Listing
	for _, id := range m.listingOrder {
		l := m.listings[id]
		if l != nil && filter.Matches(l) {
			out = append(out, cloneListing(l))
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteNonInactive(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	kept := m.listingOrder[:0]
	for _, id := range m.listingOrder {
		l := m.listings[id]
		if l.Status == models.ListingInactive {
			kept = append(kept, id)
			continue
		}
		delete(m.listings, id)
		n++
	}
	m.listingOrder = kept
	return n, nil
}

// ── scraper configs & run logs ───────────────────────────────────────────

func (m *MemoryStore) ListActiveScrapers(_ context.Context) ([]*models.ScraperConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ScraperConfig
	for _, c := range m.scrapers {
		if c.IsActive {
			out = append(out, cloneScraper(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetScraper(_ context.Context, id string) (*models.ScraperConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.scrapers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneScraper(c), nil
}

func (m *MemoryStore) EnsureScrapers(_ context.Context, defs []*models.ScraperConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range defs {
		next := cloneScraper(d)
		next.Position = i
		if existing, ok := m.scrapers[d.ID]; ok {
			next.LastRunAt = existing.LastRunAt
			next.LastRunStatus = existing.LastRunStatus
			next.LastRunMessage = existing.LastRunMessage
			next.PropertiesFound = existing.PropertiesFound
		}
		m.scrapers[d.ID] = next
	}
	return nil
}

func (m *MemoryStore) RecordRun(_ context.Context, id string, status models.RunStatus, message string, found int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.scrapers[id]
	if !ok {
		return ErrNotFound
	}
	ts := at
	c.LastRunAt = &ts
	c.LastRunStatus = status
	c.LastRunMessage = message
	c.PropertiesFound += found
	return nil
}

func (m *MemoryStore) ResetScraperCounters(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.scrapers {
		c.LastRunAt = nil
		c.LastRunStatus = ""
		c.LastRunMessage = ""
		c.PropertiesFound = 0
	}
	return int64(len(m.scrapers)), nil
}

func (m *MemoryStore) AppendRunLog(_ context.Context, entry *models.ScraperRunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLogID++
	e := *entry
	e.ID = m.nextLogID
	m.runLogs = append(m.runLogs, &e)
	return nil
}

func (m *MemoryStore) ClearRunLogs(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.runLogs))
	m.runLogs = nil
	return n, nil
}

// RunLogs returns a copy of the run log, oldest first.
func (m *MemoryStore) RunLogs() []models.ScraperRunLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ScraperRunLog, len(m.runLogs))
	for i, e := range m.runLogs {
		out[i] = *e
	}
	return out
}

// ── copies ───────────────────────────────────────────────────────────────

func cloneCandidate(c *models.CandidateListing) *models.CandidateListing {
	cp := *c
	cp.Images = append([]string(nil), c.Images...)
	cp.RawData = append([]byte(nil), c.RawData...)
	if c.PublishedListingID != nil {
		id := *c.PublishedListingID
		cp.PublishedListingID = &id
	}
	return &cp
}

func cloneListing(l *models.Listing) *models.Listing {
	cp := *l
	cp.Images = append([]string(nil), l.Images...)
	return &cp
}

func cloneScraper(c *models.ScraperConfig) *models.ScraperConfig {
	cp := *c
	if c.Settings != nil {
		cp.Settings = make(map[string]string, len(c.Settings))
		for k, v := range c.Settings {
			cp.Settings[k] = v
		}
	}
	if c.LastRunAt != nil {
		ts := *c.LastRunAt
		cp.LastRunAt = &ts
	}
	return &cp
}
