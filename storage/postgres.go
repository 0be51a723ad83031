package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"listing-ingest/models"
)

// pqUniqueViolation is the Postgres SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

// PostgresStore persists staging, catalog, scraper configs and run logs.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, waits for it to accept
// connections, runs schema migrations and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(5)

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scraper_configs (
			id               TEXT        PRIMARY KEY,
			name             TEXT        NOT NULL DEFAULT '',
			kind             TEXT        NOT NULL,
			base_url         TEXT        NOT NULL DEFAULT '',
			schedule         TEXT        NOT NULL DEFAULT '',
			is_active        BOOLEAN     NOT NULL DEFAULT TRUE,
			settings         JSONB       NOT NULL DEFAULT '{}',
			position         INT         NOT NULL DEFAULT 0,
			last_run_at      TIMESTAMPTZ,
			last_run_status  TEXT        NOT NULL DEFAULT '',
			last_run_message TEXT        NOT NULL DEFAULT '',
			properties_found INT         NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS scraper_run_logs (
			id          BIGSERIAL   PRIMARY KEY,
			scraper_id  TEXT        NOT NULL,
			status      TEXT        NOT NULL,
			message     TEXT        NOT NULL DEFAULT '',
			count       INT         NOT NULL DEFAULT 0,
			duration_ms BIGINT      NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS staging_listings (
			id                   BIGSERIAL     PRIMARY KEY,
			source_url           TEXT          UNIQUE NOT NULL,
			source_site          TEXT          NOT NULL,
			title                TEXT          NOT NULL,
			price                NUMERIC(12,2),
			city                 TEXT          NOT NULL DEFAULT '',
			street               TEXT          NOT NULL DEFAULT '',
			house_number         TEXT          NOT NULL DEFAULT '',
			postal_code          TEXT          NOT NULL DEFAULT '',
			property_type        TEXT          NOT NULL DEFAULT '',
			listing_type         TEXT          NOT NULL DEFAULT '',
			surface_area         NUMERIC(10,2),
			bedrooms             INT,
			bathrooms            INT,
			description          TEXT          NOT NULL DEFAULT '',
			images               TEXT[]        NOT NULL DEFAULT '{}',
			energy_label         TEXT          NOT NULL DEFAULT '',
			build_year           INT,
			raw_data             JSONB,
			status               TEXT          NOT NULL DEFAULT 'pending'
			                     CHECK (status IN ('pending','approved','rejected')),
			last_seen_at         TIMESTAMPTZ   NOT NULL,
			published_listing_id TEXT,
			created_at           TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_staging_status_seen ON staging_listings(status, last_seen_at);
		CREATE INDEX IF NOT EXISTS idx_staging_source_site ON staging_listings(source_site);

		CREATE TABLE IF NOT EXISTS listings (
			id            UUID          PRIMARY KEY,
			owner_id      TEXT          NOT NULL,
			title         TEXT          NOT NULL,
			street        TEXT          NOT NULL,
			house_number  TEXT          NOT NULL,
			postal_code   TEXT          NOT NULL,
			city          TEXT          NOT NULL,
			price         NUMERIC(12,2) NOT NULL,
			property_type TEXT          NOT NULL,
			listing_type  TEXT          NOT NULL,
			surface_area  NUMERIC(10,2),
			bedrooms      INT,
			bathrooms     INT,
			description   TEXT          NOT NULL DEFAULT '',
			energy_label  TEXT,
			build_year    INT,
			images        TEXT[]        NOT NULL DEFAULT '{}',
			latitude      DOUBLE PRECISION,
			longitude     DOUBLE PRECISION,
			status        TEXT          NOT NULL DEFAULT 'active'
			              CHECK (status IN ('active','rented','sold','inactive')),
			source_site   TEXT          NOT NULL DEFAULT '',
			source_url    TEXT          NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS uq_listings_live_source_url
			ON listings(source_url) WHERE source_url <> '' AND status <> 'inactive';
		CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
		CREATE INDEX IF NOT EXISTS idx_listings_city   ON listings(city);
	`)
	return err
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// ── staging ──────────────────────────────────────────────────────────────

func (ps *PostgresStore) UpsertCandidate(ctx context.Context, c *models.CandidateListing, seenAt time.Time) (models.UpsertOutcome, error) {
	var inserted bool
	err := ps.db.QueryRowContext(ctx, `
		INSERT INTO staging_listings (
			source_url, source_site, title, price, city, street, house_number, postal_code,
			property_type, listing_type, surface_area, bedrooms, bathrooms, description,
			images, energy_label, build_year, raw_data, status, last_seen_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,'pending',$19,$19)
		ON CONFLICT (source_url) DO UPDATE SET
			source_site   = EXCLUDED.source_site,
			title         = EXCLUDED.title,
			price         = EXCLUDED.price,
			city          = EXCLUDED.city,
			street        = EXCLUDED.street,
			house_number  = EXCLUDED.house_number,
			postal_code   = EXCLUDED.postal_code,
			property_type = EXCLUDED.property_type,
			listing_type  = EXCLUDED.listing_type,
			surface_area  = EXCLUDED.surface_area,
			bedrooms      = EXCLUDED.bedrooms,
			bathrooms     = EXCLUDED.bathrooms,
			description   = EXCLUDED.description,
			images        = EXCLUDED.images,
			energy_label  = EXCLUDED.energy_label,
			build_year    = EXCLUDED.build_year,
			raw_data      = EXCLUDED.raw_data,
			last_seen_at  = EXCLUDED.last_seen_at
		WHERE staging_listings.status = 'pending'
		RETURNING (xmax = 0)
	`,
		c.SourceURL, c.SourceSite, c.Title, nullFloat(c.Price), c.City, c.Street, c.HouseNumber, c.PostalCode,
		c.PropertyType, c.ListingType, nullFloat(c.SurfaceArea), nullInt(c.Bedrooms), nullInt(c.Bathrooms),
		c.Description, pq.Array(c.Images), c.Extras.EnergyLabel, nullInt(c.Extras.BuildYear),
		nullJSON(c.RawData), seenAt,
	).Scan(&inserted)

	switch {
	case err == nil && inserted:
		return models.UpsertInserted, nil
	case err == nil:
		return models.UpsertUpdated, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("postgres: upsert candidate %q: %w", c.SourceURL, err)
	}

	// The conflict row is approved or rejected: only move the watermark.
	if _, err := ps.db.ExecContext(ctx,
		`UPDATE staging_listings SET last_seen_at = $1 WHERE source_url = $2`,
		seenAt, c.SourceURL); err != nil {
		return "", fmt.Errorf("postgres: refresh candidate %q: %w", c.SourceURL, err)
	}
	return models.UpsertRefreshed, nil
}

const candidateColumns = `
	id, source_url, source_site, title, price, city, street, house_number, postal_code,
	property_type, listing_type, surface_area, bedrooms, bathrooms, description,
	images, energy_label, build_year, raw_data, status, last_seen_at, published_listing_id, created_at`

func (ps *PostgresStore) ListPending(ctx context.Context) ([]*models.CandidateListing, error) {
	return ps.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM staging_listings
		WHERE status = 'pending'
		ORDER BY id`)
}

func (ps *PostgresStore) GetCandidate(ctx context.Context, sourceURL string) (*models.CandidateListing, error) {
	rows, err := ps.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM staging_listings
		WHERE source_url = $1`, sourceURL)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (ps *PostgresStore) MarkApproved(ctx context.Context, sourceURL, listingID string, seenAt time.Time) error {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE staging_listings
		SET status = 'approved', last_seen_at = $1, published_listing_id = $2
		WHERE source_url = $3`, seenAt, listingID, sourceURL)
	if err != nil {
		return fmt.Errorf("postgres: approve candidate %q: %w", sourceURL, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStore) ListStaleApproved(ctx context.Context, before time.Time) ([]*models.CandidateListing, error) {
	return ps.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM staging_listings
		WHERE status = 'approved'
		  AND published_listing_id IS NOT NULL
		  AND last_seen_at < $1
		ORDER BY id`, before)
}

func (ps *PostgresStore) ClearStaging(ctx context.Context) (int64, error) {
	return ps.execCount(ctx, "clear staging", `DELETE FROM staging_listings`)
}

func (ps *PostgresStore) queryCandidates(ctx context.Context, query string, args ...any) ([]*models.CandidateListing, error) {
	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.CandidateListing
	for rows.Next() {
		var (
			c                         models.CandidateListing
			price, area               sql.NullFloat64
			beds, baths, buildYear    sql.NullInt64
			rawData                   []byte
			status                    string
			publishedID               sql.NullString
			images                    []string
		)
		if err := rows.Scan(
			&c.ID, &c.SourceURL, &c.SourceSite, &c.Title, &price, &c.City, &c.Street, &c.HouseNumber,
			&c.PostalCode, &c.PropertyType, &c.ListingType, &area, &beds, &baths, &c.Description,
			pq.Array(&images), &c.Extras.EnergyLabel, &buildYear, &rawData, &status, &c.LastSeenAt,
			&publishedID, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan candidate: %w", err)
		}
		c.Price = floatPtr(price)
		c.SurfaceArea = floatPtr(area)
		c.Bedrooms = intPtr(beds)
		c.Bathrooms = intPtr(baths)
		c.Extras.BuildYear = intPtr(buildYear)
		c.Images = images
		c.RawData = rawData
		c.Status = models.CandidateStatus(status)
		if publishedID.Valid {
			id := publishedID.String
			c.PublishedListingID = &id
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ── catalog ──────────────────────────────────────────────────────────────

func (ps *PostgresStore) InsertListing(ctx context.Context, l *models.Listing) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, owner_id, title, street, house_number, postal_code, city, price,
			property_type, listing_type, surface_area, bedrooms, bathrooms, description,
			energy_label, build_year, images, latitude, longitude, status,
			source_site, source_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		l.ID, l.OwnerID, l.Title, l.Street, l.HouseNumber, l.PostalCode, l.City, l.Price,
		string(l.PropertyType), string(l.ListingType), nullFloat(l.SurfaceArea), nullInt(l.Bedrooms),
		nullInt(l.Bathrooms), l.Description, nullString(l.EnergyLabel), nullInt(l.BuildYear),
		pq.Array(l.Images), nullFloat(l.Latitude), nullFloat(l.Longitude), string(l.Status),
		l.SourceSite, l.SourceURL, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("postgres: insert listing: %w", err)
	}
	return nil
}

const listingColumns = `
	id, owner_id, title, street, house_number, postal_code, city, price,
	property_type, listing_type, surface_area, bedrooms, bathrooms, description,
	energy_label, build_year, images, latitude, longitude, status,
	source_site, source_url, created_at, updated_at`

func (ps *PostgresStore) FindLiveBySourceURL(ctx context.Context, sourceURL string) (*models.Listing, error) {
	rows, err := ps.queryListings(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE source_url = $1 AND status <> 'inactive'
		LIMIT 1`, sourceURL)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (ps *PostgresStore) DeactivateListings(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := ps.db.ExecContext(ctx, `
		UPDATE listings
		SET status = 'inactive', updated_at = $1
		WHERE id::text = ANY($2) AND status = 'active'`, at, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("postgres: deactivate listings: %w", err)
	}
	return res.RowsAffected()
}

func (ps *PostgresStore) ListListings(ctx context.Context, filter models.ListingFilter) ([]*models.Listing, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.SourceSite != "" {
		args = append(args, filter.SourceSite)
		where = append(where, fmt.Sprintf("source_site = $%d", len(args)))
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	return ps.queryListings(ctx, query, args...)
}

func (ps *PostgresStore) DeleteNonInactive(ctx context.Context) (int64, error) {
	return ps.execCount(ctx, "delete live listings", `DELETE FROM listings WHERE status <> 'inactive'`)
}

func (ps *PostgresStore) queryListings(ctx context.Context, query string, args ...any) ([]*models.Listing, error) {
	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var out []*models.Listing
	for rows.Next() {
		var (
			l                        models.Listing
			propertyType, listingTyp string
			status                   string
			area, lat, lon           sql.NullFloat64
			beds, baths, buildYear   sql.NullInt64
			energy                   sql.NullString
			images                   []string
		)
		if err := rows.Scan(
			&l.ID, &l.OwnerID, &l.Title, &l.Street, &l.HouseNumber, &l.PostalCode, &l.City, &l.Price,
			&propertyType, &listingTyp, &area, &beds, &baths, &l.Description,
			&energy, &buildYear, pq.Array(&images), &lat, &lon, &status,
			&l.SourceSite, &l.SourceURL, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		l.PropertyType = models.PropertyType(propertyType)
		l.ListingType = models.ListingType(listingTyp)
		l.Status = models.ListingStatus(status)
		l.SurfaceArea = floatPtr(area)
		l.Latitude = floatPtr(lat)
		l.Longitude = floatPtr(lon)
		l.Bedrooms = intPtr(beds)
		l.Bathrooms = intPtr(baths)
		l.BuildYear = intPtr(buildYear)
		if energy.Valid {
			e := energy.String
			l.EnergyLabel = &e
		}
		l.Images = images
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ── scraper configs & run logs ───────────────────────────────────────────

const scraperColumns = `
	id, name, kind, base_url, schedule, is_active, settings, position,
	last_run_at, last_run_status, last_run_message, properties_found`

func (ps *PostgresStore) ListActiveScrapers(ctx context.Context) ([]*models.ScraperConfig, error) {
	return ps.queryScrapers(ctx, `
		SELECT `+scraperColumns+`
		FROM scraper_configs
		WHERE is_active = true
		ORDER BY position, id`)
}

func (ps *PostgresStore) GetScraper(ctx context.Context, id string) (*models.ScraperConfig, error) {
	rows, err := ps.queryScrapers(ctx, `
		SELECT `+scraperColumns+`
		FROM scraper_configs
		WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (ps *PostgresStore) EnsureScrapers(ctx context.Context, defs []*models.ScraperConfig) error {
	for i, d := range defs {
		settings, err := json.Marshal(d.Settings)
		if err != nil {
			return fmt.Errorf("postgres: encode settings for %q: %w", d.ID, err)
		}
		if d.Settings == nil {
			settings = []byte("{}")
		}
		if _, err := ps.db.ExecContext(ctx, `
			INSERT INTO scraper_configs (id, name, kind, base_url, schedule, is_active, settings, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO UPDATE SET
				name      = EXCLUDED.name,
				kind      = EXCLUDED.kind,
				base_url  = EXCLUDED.base_url,
				schedule  = EXCLUDED.schedule,
				is_active = EXCLUDED.is_active,
				settings  = EXCLUDED.settings,
				position  = EXCLUDED.position`,
			d.ID, d.Name, d.Kind, d.BaseURL, d.Schedule, d.IsActive, settings, i,
		); err != nil {
			return fmt.Errorf("postgres: ensure scraper %q: %w", d.ID, err)
		}
	}
	return nil
}

func (ps *PostgresStore) RecordRun(ctx context.Context, id string, status models.RunStatus, message string, found int, at time.Time) error {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE scraper_configs
		SET last_run_at = $1, last_run_status = $2, last_run_message = $3,
		    properties_found = properties_found + $4
		WHERE id = $5`, at, string(status), message, found, id)
	if err != nil {
		return fmt.Errorf("postgres: record run for %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStore) ResetScraperCounters(ctx context.Context) (int64, error) {
	return ps.execCount(ctx, "reset scraper counters", `
		UPDATE scraper_configs
		SET last_run_at = NULL, last_run_status = '', last_run_message = '', properties_found = 0`)
}

func (ps *PostgresStore) queryScrapers(ctx context.Context, query string, args ...any) ([]*models.ScraperConfig, error) {
	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query scrapers: %w", err)
	}
	defer rows.Close()

	var out []*models.ScraperConfig
	for rows.Next() {
		var (
			c        models.ScraperConfig
			settings []byte
			lastRun  sql.NullTime
			status   string
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Kind, &c.BaseURL, &c.Schedule, &c.IsActive, &settings, &c.Position,
			&lastRun, &status, &c.LastRunMessage, &c.PropertiesFound,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan scraper: %w", err)
		}
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &c.Settings); err != nil {
				return nil, fmt.Errorf("postgres: decode settings for %q: %w", c.ID, err)
			}
		}
		if lastRun.Valid {
			t := lastRun.Time
			c.LastRunAt = &t
		}
		c.LastRunStatus = models.RunStatus(status)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) AppendRunLog(ctx context.Context, entry *models.ScraperRunLog) error {
	err := ps.db.QueryRowContext(ctx, `
		INSERT INTO scraper_run_logs (scraper_id, status, message, count, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		entry.ScraperID, string(entry.Status), entry.Message, entry.Count,
		entry.Duration.Milliseconds(), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("postgres: append run log: %w", err)
	}
	return nil
}

func (ps *PostgresStore) ClearRunLogs(ctx context.Context) (int64, error) {
	return ps.execCount(ctx, "clear run logs", `DELETE FROM scraper_run_logs`)
}

// ── helpers ──────────────────────────────────────────────────────────────

func (ps *PostgresStore) execCount(ctx context.Context, op, query string) (int64, error) {
	res, err := ps.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return res.RowsAffected()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
