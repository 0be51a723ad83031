// Package htmlsite scrapes server-rendered listing sites: it walks the paged
// index, optionally visits detail pages, and extracts fields with CSS rules.
package htmlsite

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"listing-ingest/models"
	"listing-ingest/scraper"
	"listing-ingest/scraper/selector"
	"listing-ingest/utils"
)

// Kind is the registry key for this adapter.
const Kind = "htmlsite"

// Scraper drives one HTML listing site.
type Scraper struct {
	cfg       *models.ScraperConfig
	extractor *selector.Extractor
	client    *http.Client
	logger    *utils.Logger
	retry     *utils.RetryConfig
	userAgent string

	maxPages    int
	fetchDetail bool
	concurrency int
	rateLimitMs int
}

// New is the scraper.Builder for Kind. Settings on top of the selector rules:
//
//	max_pages     index pages to walk, default 3
//	fetch_detail  "true" to visit each listing's page
//	concurrency   parallel detail fetches, default 2
func New(cfg *models.ScraperConfig, deps scraper.Deps) (scraper.Scraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("htmlsite: %s: base_url is required", cfg.ID)
	}
	ex, err := selector.New(cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("htmlsite: %s: %w", cfg.ID, err)
	}
	return &Scraper{
		cfg:         cfg,
		extractor:   ex,
		client:      deps.Client(),
		logger:      deps.Log(),
		retry:       deps.Retry(),
		userAgent:   deps.Agent(),
		maxPages:    atoiOr(cfg.Setting("max_pages", ""), 3),
		fetchDetail: cfg.Setting("fetch_detail", "false") == "true",
		concurrency: atoiOr(cfg.Setting("concurrency", ""), 2),
		rateLimitMs: deps.RateLimitMs,
	}, nil
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

// Scrape walks the index pages and returns every well-formed listing.
func (s *Scraper) Scrape(ctx context.Context) (*scraper.Result, error) {
	s.logger.Info("[htmlsite] %s: starting scrape at %s (max %d pages)", s.cfg.ID, s.cfg.BaseURL, s.maxPages)

	var cards []selector.Card
	pageURL := s.cfg.BaseURL
	for page := 1; page <= s.maxPages && pageURL != ""; page++ {
		doc, base, err := s.fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("htmlsite: %s: index: %w", s.cfg.ID, err)
			}
			s.logger.Warn("[htmlsite] %s: page %d failed, keeping %d cards: %v", s.cfg.ID, page, len(cards), err)
			break
		}

		found := s.extractor.Cards(doc, base)
		s.logger.Debug("[htmlsite] %s: page %d has %d cards", s.cfg.ID, page, len(found))
		if len(found) == 0 {
			break
		}
		cards = append(cards, found...)
		pageURL = s.extractor.NextPage(doc, base)
	}

	if s.fetchDetail {
		s.enrich(ctx, cards)
	}

	col := scraper.NewCollector(s.cfg.ID)
	for _, c := range cards {
		if !col.Add(c.Candidate(s.cfg.ID)) {
			s.logger.Debug("[htmlsite] %s: dropped card %q", s.cfg.ID, c.URL)
		}
	}

	res := col.Result()
	s.logger.Info("[htmlsite] %s: %s", s.cfg.ID, res.Message)
	return res, nil
}

// enrich fetches detail pages on a small pool. A failed detail page leaves the
// card with what the index had.
func (s *Scraper) enrich(ctx context.Context, cards []selector.Card) {
	pool := utils.NewWorkerPool(s.concurrency, s.rateLimitMs)
	var mu sync.Mutex
	for i := range cards {
		i := i
		if cards[i].URL == "" {
			continue
		}
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			doc, base, err := s.fetch(ctx, cards[i].URL)
			if err != nil {
				s.logger.Warn("[htmlsite] %s: detail page failed for %s: %v", s.cfg.ID, cards[i].URL, err)
				return
			}
			detail := s.extractor.Detail(doc, base)
			mu.Lock()
			cards[i].Merge(detail)
			mu.Unlock()
		})
	}
	pool.Wait()
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse url %q: %w", pageURL, err)
	}

	var doc *goquery.Document
	err = s.retry.Do(ctx, "fetch "+pageURL, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", s.userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9,en;q=0.8")

		res, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, res.Body)
			return fmt.Errorf("status code error: %d", res.StatusCode)
		}

		doc, err = goquery.NewDocumentFromReader(res.Body)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, base, nil
}
