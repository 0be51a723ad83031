package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"listing-ingest/models"
)

// CSVSnapshotWriter writes raw adapter output to a CSV file, one row per
// candidate. It is safe for concurrent use.
type CSVSnapshotWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	now    func() time.Time
}

// NewCSVSnapshotWriter creates (or truncates) the CSV file at the given path
// and writes the header row. Intermediate directories are created automatically.
func NewCSVSnapshotWriter(path string) (*CSVSnapshotWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"scraper_id", "source_site", "source_url", "title", "price", "city", "street",
		"house_number", "postal_code", "property_type", "listing_type", "images", "raw_data", "scraped_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVSnapshotWriter{file: f, writer: w, now: time.Now}, nil
}

// WriteCandidates appends one row per candidate.
func (c *CSVSnapshotWriter) WriteCandidates(scraperID string, candidates []*models.CandidateListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scrapedAt := c.now().UTC().Format(time.RFC3339)
	for _, l := range candidates {
		price := ""
		if l.Price != nil {
			price = strconv.FormatFloat(*l.Price, 'f', 2, 64)
		}
		row := []string{
			scraperID,
			l.SourceSite,
			l.SourceURL,
			l.Title,
			price,
			l.City,
			l.Street,
			l.HouseNumber,
			l.PostalCode,
			l.PropertyType,
			l.ListingType,
			strconv.Itoa(len(l.Images)),
			string(l.RawData),
			scrapedAt,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVSnapshotWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
