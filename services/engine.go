package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"listing-ingest/cache"
	"listing-ingest/events"
	"listing-ingest/models"
	"listing-ingest/scraper"
	"listing-ingest/storage"
	"listing-ingest/utils"
)

// DefaultStaleAfter is how long an approved listing may go unseen before the
// sweep retires it.
const DefaultStaleAfter = 21 * 24 * time.Hour

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	// SystemUserID owns every listing the pipeline publishes.
	SystemUserID       string
	StaleAfter         time.Duration
	MaxImages          int
	AdapterParallelism int
	LockTTL            time.Duration
	Now                func() time.Time
}

// EngineDeps are the collaborators the engine drives. Geocoder, Archiver,
// Snapshots and Publisher are optional.
type EngineDeps struct {
	Store     storage.Store
	Registry  *scraper.Registry
	Geocoder  Geocoder
	Archiver  *ImageArchiver
	Locker    cache.Locker
	Publisher events.Publisher
	Snapshots storage.CandidateSnapshotWriter
	Logger    *utils.Logger
}

// Engine runs ingestion cycles: adapters into staging, staging into the
// catalog, then the staleness sweep.
type Engine struct {
	cfg        EngineConfig
	store      storage.Store
	registry   *scraper.Registry
	normalizer *Normalizer
	geocoder   Geocoder
	archiver   *ImageArchiver
	locker     cache.Locker
	publisher  events.Publisher
	snapshots  storage.CandidateSnapshotWriter
	logger     *utils.Logger

	// runMu keeps an HTTP trigger and the ticker from overlapping.
	runMu sync.Mutex
}

func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 15
	}
	if cfg.AdapterParallelism < 1 {
		cfg.AdapterParallelism = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = utils.NewNopLogger()
	}
	if deps.Locker == nil {
		deps.Locker = cache.NewLocalLocker()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}

	return &Engine{
		cfg:        cfg,
		store:      deps.Store,
		registry:   deps.Registry,
		normalizer: NewNormalizer(deps.Logger),
		geocoder:   deps.Geocoder,
		archiver:   deps.Archiver,
		locker:     deps.Locker,
		publisher:  deps.Publisher,
		snapshots:  deps.Snapshots,
		logger:     deps.Logger,
	}
}

// RunCycle runs every active adapter, promotes pending candidates and retires
// stale listings. It always returns a summary, however much of it failed.
func (e *Engine) RunCycle(ctx context.Context) *models.CycleSummary {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	summary := &models.CycleSummary{StartedAt: e.cfg.Now()}
	e.logger.Info("[engine] Cycle started")

	configs, err := e.store.ListActiveScrapers(ctx)
	if err != nil {
		e.logger.Error("[engine] Could not load scraper configs: %v", err)
	}
	summary.Adapters = e.runAdapters(ctx, configs)

	summary.Promotion = e.PromotePending(ctx)

	deactivated, err := e.SweepStale(ctx)
	summary.Deactivated = deactivated
	if err != nil {
		summary.SweepError = err.Error()
		e.logger.Error("[engine] Staleness sweep failed: %v", err)
	}

	summary.FinishedAt = e.cfg.Now()
	e.publish(ctx, events.CycleCompleted, "", summary)
	e.logger.Info("[engine] Cycle finished in %v: %d published, %d deduplicated, %d skipped, %d failed, %d deactivated",
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
		summary.Promotion.Published, summary.Promotion.Deduplicated,
		summary.Promotion.Skipped, summary.Promotion.Failed, summary.Deactivated)
	return summary
}

// RunScraper runs one adapter on demand, whether or not it is active, and
// promotes what it staged. The staleness sweep does not run.
func (e *Engine) RunScraper(ctx context.Context, scraperID string) (*models.CycleSummary, error) {
	cfg, err := e.store.GetScraper(ctx, scraperID)
	if err != nil {
		return nil, fmt.Errorf("engine: scraper %q: %w", scraperID, err)
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	summary := &models.CycleSummary{StartedAt: e.cfg.Now()}
	summary.Adapters = []models.AdapterOutcome{e.IngestAdapter(ctx, cfg)}
	summary.Promotion = e.PromotePending(ctx)
	summary.FinishedAt = e.cfg.Now()
	return summary, nil
}

// runAdapters keeps outcomes in configuration order. Adapters write disjoint
// source_site partitions, so running them in parallel is safe.
func (e *Engine) runAdapters(ctx context.Context, configs []*models.ScraperConfig) []models.AdapterOutcome {
	outcomes := make([]models.AdapterOutcome, len(configs))
	if e.cfg.AdapterParallelism <= 1 {
		for i, cfg := range configs {
			outcomes[i] = e.IngestAdapter(ctx, cfg)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.AdapterParallelism)
	for i, cfg := range configs {
		i, cfg := i, cfg
		g.Go(func() error {
			outcomes[i] = e.IngestAdapter(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// IngestAdapter runs one adapter and stages its candidates. Failures of any
// kind end up in the outcome and the run log, never in the caller.
func (e *Engine) IngestAdapter(ctx context.Context, cfg *models.ScraperConfig) models.AdapterOutcome {
	start := time.Now()
	out := models.AdapterOutcome{ScraperID: cfg.ID}

	res, err := e.scrape(ctx, cfg)
	if err != nil {
		out.Status = models.RunError
		out.Message = err.Error()
		e.logger.Error("[engine] Adapter %s failed: %v", cfg.ID, err)
	} else {
		out.Status = res.Status
		out.Message = res.Message
		out.Found = len(res.Candidates)
		out.Skipped = res.Skipped
		if out.Status == "" {
			out.Status = models.RunSuccess
		}
		e.stage(ctx, cfg, res.Candidates, &out)
	}
	out.Duration = time.Since(start)

	now := e.cfg.Now()
	if err := e.store.RecordRun(ctx, cfg.ID, out.Status, out.Message, out.Found, now); err != nil {
		e.logger.Error("[engine] Could not record run for %s: %v", cfg.ID, err)
	}
	if err := e.store.AppendRunLog(ctx, &models.ScraperRunLog{
		ScraperID: cfg.ID,
		Status:    out.Status,
		Message:   out.Message,
		Count:     out.Found,
		Duration:  out.Duration,
		CreatedAt: now,
	}); err != nil {
		e.logger.Error("[engine] Could not append run log for %s: %v", cfg.ID, err)
	}

	e.logger.Info("[engine] Adapter %s: %s (%d found, %d new, %d refreshed, %d skipped)",
		cfg.ID, out.Status, out.Found, out.Inserted, out.Refreshed, out.Skipped)
	return out
}

// scrape builds and runs the adapter, turning a panic into an error.
func (e *Engine) scrape(ctx context.Context, cfg *models.ScraperConfig) (res *scraper.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("[engine] Adapter %s panic stack:\n%s", cfg.ID, debug.Stack())
			res, err = nil, fmt.Errorf("adapter panic: %v", r)
		}
	}()

	s, err := e.registry.Build(cfg)
	if err != nil {
		return nil, err
	}
	res, err = s.Scrape(ctx)
	if err == nil && res == nil {
		err = errors.New("adapter returned no result")
	}
	return res, err
}

func (e *Engine) stage(ctx context.Context, cfg *models.ScraperConfig, candidates []*models.CandidateListing, out *models.AdapterOutcome) {
	if e.snapshots != nil && len(candidates) > 0 {
		if err := e.snapshots.WriteCandidates(cfg.ID, candidates); err != nil {
			e.logger.Warn("[engine] Snapshot write failed for %s: %v", cfg.ID, err)
		}
	}

	seenAt := e.cfg.Now()
	failed := 0
	for _, c := range candidates {
		if c.SourceSite == "" {
			c.SourceSite = cfg.ID
		}
		outcome, err := e.store.UpsertCandidate(ctx, c, seenAt)
		if err != nil {
			failed++
			e.logger.Warn("[engine] Staging upsert failed for %s: %v", c.SourceURL, err)
			continue
		}
		if outcome == models.UpsertInserted {
			out.Inserted++
		} else {
			out.Refreshed++
		}
	}

	if failed > 0 {
		msg := fmt.Sprintf("%d staging writes failed", failed)
		if out.Message != "" {
			msg = out.Message + "; " + msg
		}
		out.Status = models.RunWarning
		out.Message = msg
	}
}

type promotionResult int

const (
	promoted promotionResult = iota
	deduplicated
	skipped
	failed
)

// PromotePending walks pending candidates in insertion order and publishes
// each one that validates. Errors stay with the candidate, which remains
// pending for the next cycle.
func (e *Engine) PromotePending(ctx context.Context) models.PromotionStats {
	var stats models.PromotionStats

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		e.logger.Error("[engine] Could not list pending candidates: %v", err)
		return stats
	}
	e.logger.Info("[engine] Promoting %d pending candidates", len(pending))

	for _, c := range pending {
		if ctx.Err() != nil {
			e.logger.Warn("[engine] Promotion interrupted: %v", ctx.Err())
			break
		}

		if missing := e.normalizer.MissingFields(c); len(missing) > 0 {
			stats.Skipped++
			e.logger.Debug("[engine] Skipping %s, missing %v", c.SourceURL, missing)
			continue
		}

		result, err := e.promoteSafely(ctx, c)
		switch result {
		case promoted:
			stats.Published++
		case deduplicated:
			stats.Deduplicated++
		case skipped:
			stats.Skipped++
		case failed:
			stats.Failed++
			e.logger.Error("[engine] Promotion failed for %s: %v", c.SourceURL, err)
		}
	}
	return stats
}

// promoteSafely turns a panic in promoteOne into a failed result. The
// candidate lock is released by promoteOne's own defer while the panic unwinds.
func (e *Engine) promoteSafely(ctx context.Context, c *models.CandidateListing) (result promotionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("[engine] Promotion panic stack for %s:\n%s", c.SourceURL, debug.Stack())
			result, err = failed, fmt.Errorf("panic: %v", r)
		}
	}()
	return e.promoteOne(ctx, c)
}

func (e *Engine) promoteOne(ctx context.Context, c *models.CandidateListing) (promotionResult, error) {
	release, err := e.locker.Acquire(ctx, c.SourceURL, e.cfg.LockTTL)
	if errors.Is(err, cache.ErrLocked) {
		e.logger.Debug("[engine] %s is being promoted elsewhere", c.SourceURL)
		return skipped, nil
	}
	if err != nil {
		return failed, err
	}
	defer release()

	fresh, err := e.store.GetCandidate(ctx, c.SourceURL)
	if err != nil {
		return failed, fmt.Errorf("re-read candidate: %w", err)
	}
	switch fresh.Status {
	case models.CandidateApproved:
		return deduplicated, nil
	case models.CandidateRejected:
		return skipped, nil
	}

	// A live listing may already exist, e.g. when a previous approval write failed.
	if live, err := e.store.FindLiveBySourceURL(ctx, fresh.SourceURL); err == nil {
		return e.adopt(ctx, fresh, live.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return failed, fmt.Errorf("look up live listing: %w", err)
	}

	coords := e.geocode(ctx, fresh)
	images := e.archiveImages(ctx, fresh)

	now := e.cfg.Now()
	listing := e.normalizer.BuildListing(fresh, ListingInput{
		ID:      uuid.NewString(),
		OwnerID: e.cfg.SystemUserID,
		Coords:  coords,
		Images:  images,
		Now:     now,
	})

	if err := e.store.InsertListing(ctx, listing); err != nil {
		if !errors.Is(err, storage.ErrDuplicate) {
			return failed, err
		}
		live, ferr := e.store.FindLiveBySourceURL(ctx, fresh.SourceURL)
		if ferr != nil {
			return failed, fmt.Errorf("duplicate listing but no live row: %w", ferr)
		}
		return e.adopt(ctx, fresh, live.ID)
	}

	if err := e.store.MarkApproved(ctx, fresh.SourceURL, listing.ID, now); err != nil {
		return failed, fmt.Errorf("mark approved: %w", err)
	}

	e.publish(ctx, events.ListingPublished, listing.ID, listing)
	e.logger.Debug("[engine] Published %s as %s", fresh.SourceURL, listing.ID)
	return promoted, nil
}

// adopt points the candidate at an existing live listing instead of publishing
// a second one.
func (e *Engine) adopt(ctx context.Context, c *models.CandidateListing, listingID string) (promotionResult, error) {
	if err := e.store.MarkApproved(ctx, c.SourceURL, listingID, e.cfg.Now()); err != nil {
		return failed, fmt.Errorf("mark approved: %w", err)
	}
	e.logger.Debug("[engine] %s already published as %s", c.SourceURL, listingID)
	return deduplicated, nil
}

func (e *Engine) geocode(ctx context.Context, c *models.CandidateListing) *models.Coordinates {
	if e.geocoder == nil {
		return nil
	}
	coords, err := e.geocoder.Geocode(ctx, c.Address())
	if err != nil {
		e.logger.Warn("[engine] Geocoding failed for %q: %v", c.Address(), err)
		return nil
	}
	if coords == nil {
		e.logger.Debug("[engine] No geocoding match for %q", c.Address())
	}
	return coords
}

func (e *Engine) archiveImages(ctx context.Context, c *models.CandidateListing) []string {
	urls := c.Images
	if len(urls) > e.cfg.MaxImages {
		urls = urls[:e.cfg.MaxImages]
	}
	if e.archiver == nil {
		return append([]string(nil), urls...)
	}
	return e.archiver.Archive(ctx, ArchiveKey{City: c.City, Title: c.Title, SourceURL: c.SourceURL}, urls)
}

// SweepStale retires listings whose staging row has not been seen within
// StaleAfter. It only flips active listings to inactive, never deletes.
func (e *Engine) SweepStale(ctx context.Context) (int, error) {
	now := e.cfg.Now()
	cutoff := now.Add(-e.cfg.StaleAfter)

	stale, err := e.store.ListStaleApproved(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale candidates: %w", err)
	}

	seen := make(map[string]bool, len(stale))
	ids := make([]string, 0, len(stale))
	for _, c := range stale {
		if c.PublishedListingID == nil || seen[*c.PublishedListingID] {
			continue
		}
		seen[*c.PublishedListingID] = true
		ids = append(ids, *c.PublishedListingID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := e.store.DeactivateListings(ctx, ids, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate listings: %w", err)
	}
	if n > 0 {
		e.publish(ctx, events.ListingsDeactivated, "", map[string]any{
			"listing_ids": ids,
			"count":      n,
			"cutoff":     cutoff,
		})
	}
	e.logger.Info("[engine] Sweep: %d stale candidates, %d listings deactivated", len(ids), n)
	return int(n), nil
}

// Reset clears staging, the run log and scraper counters, and deletes every
// listing that is not inactive. Each step runs even if an earlier one failed.
func (e *Engine) Reset(ctx context.Context) *models.ResetSummary {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	sum := &models.ResetSummary{}
	steps := []struct {
		name string
		run  func(context.Context) (int64, error)
		dst  *int64
	}{
		{"clear staging", e.store.ClearStaging, &sum.StagingCleared},
		{"clear run logs", e.store.ClearRunLogs, &sum.RunLogsCleared},
		{"reset scraper counters", e.store.ResetScraperCounters, &sum.ConfigsReset},
		{"delete live listings", e.store.DeleteNonInactive, &sum.ListingsDeleted},
	}
	for _, step := range steps {
		n, err := step.run(ctx)
		if err != nil {
			e.logger.Error("[engine] Reset: %s failed: %v", step.name, err)
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", step.name, err))
			continue
		}
		*step.dst = n
	}

	e.logger.Warn("[engine] Reset: %d staged, %d run logs, %d configs, %d listings removed",
		sum.StagingCleared, sum.RunLogsCleared, sum.ConfigsReset, sum.ListingsDeleted)
	return sum
}

func (e *Engine) publish(ctx context.Context, eventType, key string, payload any) {
	err := e.publisher.Publish(ctx, events.Event{
		Type:    eventType,
		Key:     key,
		At:      e.cfg.Now(),
		Payload: payload,
	})
	if err != nil {
		e.logger.Warn("[engine] Publishing %s failed: %v", eventType, err)
	}
}
