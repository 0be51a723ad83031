// Package browser scrapes JavaScript-rendered listing sites through headless
// Chrome and extracts fields from the rendered DOM with the selector rules.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"listing-ingest/models"
	"listing-ingest/scraper"
	"listing-ingest/scraper/selector"
	"listing-ingest/utils"
)

// Kind is the registry key for this adapter.
const Kind = "browser"

// renderFunc loads a page and returns its rendered HTML.
type renderFunc func(ctx context.Context, pageURL string) (string, error)

// Scraper drives one JavaScript-heavy listing site.
type Scraper struct {
	cfg       *models.ScraperConfig
	extractor *selector.Extractor
	logger    *utils.Logger
	retry     *utils.RetryConfig
	userAgent string
	chromeBin string

	maxPages    int
	fetchDetail bool
	waitFor     string
	settle      time.Duration
	pageTimeout time.Duration
	rateLimit   time.Duration

	render renderFunc
}

// New is the scraper.Builder for Kind. Settings on top of the selector rules:
//
//	max_pages     index pages to walk, default 2
//	fetch_detail  "true" to render each listing's page
//	wait_for      selector that must be visible before extraction, default item
//	settle_ms     extra wait after load for lazy content, default 2000
//	timeout_s     per-page timeout, default 60
func New(cfg *models.ScraperConfig, deps scraper.Deps) (scraper.Scraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("browser: %s: base_url is required", cfg.ID)
	}
	ex, err := selector.New(cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("browser: %s: %w", cfg.ID, err)
	}

	s := &Scraper{
		cfg:         cfg,
		extractor:   ex,
		logger:      deps.Log(),
		retry:       deps.Retry(),
		userAgent:   deps.Agent(),
		chromeBin:   deps.ChromeBin,
		maxPages:    atoiOr(cfg.Setting("max_pages", ""), 2),
		fetchDetail: cfg.Setting("fetch_detail", "false") == "true",
		waitFor:     cfg.Setting("wait_for", cfg.Setting("item", "body")),
		settle:      time.Duration(atoiOr(cfg.Setting("settle_ms", ""), 2000)) * time.Millisecond,
		pageTimeout: time.Duration(atoiOr(cfg.Setting("timeout_s", ""), 60)) * time.Second,
		rateLimit:   time.Duration(deps.RateLimitMs) * time.Millisecond,
	}
	return s, nil
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

// Scrape starts one browser for the whole run and walks the index pages.
func (s *Scraper) Scrape(ctx context.Context) (*scraper.Result, error) {
	s.logger.Info("[browser] %s: starting scrape at %s (max %d pages)", s.cfg.ID, s.cfg.BaseURL, s.maxPages)

	render := s.render
	if render == nil {
		browserCtx, cancel := s.startBrowser(ctx)
		defer cancel()
		render = func(_ context.Context, pageURL string) (string, error) {
			return s.renderChrome(browserCtx, pageURL)
		}
	}

	var cards []selector.Card
	pageURL := s.cfg.BaseURL
	for page := 1; page <= s.maxPages && pageURL != ""; page++ {
		doc, base, err := s.load(ctx, render, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("browser: %s: index: %w", s.cfg.ID, err)
			}
			s.logger.Warn("[browser] %s: page %d failed, keeping %d cards: %v", s.cfg.ID, page, len(cards), err)
			break
		}

		found := s.extractor.Cards(doc, base)
		s.logger.Debug("[browser] %s: page %d has %d cards", s.cfg.ID, page, len(found))
		if len(found) == 0 {
			break
		}
		cards = append(cards, found...)
		pageURL = s.extractor.NextPage(doc, base)
		s.pause(ctx)
	}

	// Chrome tabs share one browser process, so detail pages are rendered
	// one after another.
	if s.fetchDetail {
		for i := range cards {
			if cards[i].URL == "" || ctx.Err() != nil {
				continue
			}
			doc, base, err := s.load(ctx, render, cards[i].URL)
			if err != nil {
				s.logger.Warn("[browser] %s: detail page failed for %s: %v", s.cfg.ID, cards[i].URL, err)
				continue
			}
			cards[i].Merge(s.extractor.Detail(doc, base))
			s.pause(ctx)
		}
	}

	col := scraper.NewCollector(s.cfg.ID)
	for _, c := range cards {
		col.Add(c.Candidate(s.cfg.ID))
	}
	res := col.Result()
	s.logger.Info("[browser] %s: %s", s.cfg.ID, res.Message)
	return res, nil
}

func (s *Scraper) pause(ctx context.Context) {
	if s.rateLimit <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.rateLimit):
	}
}

func (s *Scraper) load(ctx context.Context, render renderFunc, pageURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse url %q: %w", pageURL, err)
	}

	var html string
	err = s.retry.Do(ctx, "render "+pageURL, func() error {
		var rerr error
		html, rerr = render(ctx, pageURL)
		return rerr
	})
	if err != nil {
		return nil, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, base, nil
}

func (s *Scraper) startBrowser(ctx context.Context) (context.Context, context.CancelFunc) {
	chromeBin := s.chromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	s.logger.Info("[browser] %s: using browser binary: %q", s.cfg.ID, chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(s.userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

// renderChrome opens pageURL in a new tab, scrolls to trigger lazy loading and
// returns the document's outer HTML.
func (s *Scraper) renderChrome(browserCtx context.Context, pageURL string) (string, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.pageTimeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(s.waitFor, chromedp.ByQuery),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(s.settle/2),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(s.settle/2),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp render: %w", err)
	}
	return html, nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
