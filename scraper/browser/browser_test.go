package browser

import (
	"context"
	"errors"
	"testing"

	"listing-ingest/models"
	"listing-ingest/scraper"
)

var pages = map[string]string{
	"https://app.example.nl/zoeken": `<html><body>
		<div class="tile"><a href="/object/9"><span class="t">Penthouse Zuidas</span></a>
			<span class="p">€ 3.500 /mnd</span></div>
		<div class="tile"><a href="/object/10"><span class="t">Loft Noord</span></a></div>
	</body></html>`,
	"https://app.example.nl/object/9": `<html><body>
		<span class="t">Penthouse Zuidas</span>
		<span class="addr">Gustav Mahlerlaan 300, 1082 ME Amsterdam</span>
		<img src="https://img.example.nl/9-1.jpg">
	</body></html>`,
}

func fakeRender(calls *[]string) renderFunc {
	return func(_ context.Context, pageURL string) (string, error) {
		*calls = append(*calls, pageURL)
		html, ok := pages[pageURL]
		if !ok {
			return "", errors.New("navigation failed")
		}
		return html, nil
	}
}

func newTestScraper(t *testing.T) *Scraper {
	t.Helper()
	cfg := &models.ScraperConfig{
		ID:      "app",
		Kind:    Kind,
		BaseURL: "https://app.example.nl/zoeken",
		Settings: map[string]string{
			"item":          "div.tile",
			"field.title":   ".t",
			"field.price":   ".p",
			"field.address": ".addr",
			"fetch_detail":  "true",
		},
	}
	s, err := New(cfg, scraper.Deps{MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	return s.(*Scraper)
}

func TestScrapeRenderedPages(t *testing.T) {
	s := newTestScraper(t)
	var calls []string
	s.render = fakeRender(&calls)

	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(res.Candidates))
	}
	if len(calls) != 3 {
		t.Errorf("render calls: got %v", calls)
	}

	pent := res.Candidates[0]
	if pent.City != "Amsterdam" || pent.PostalCode != "1082 ME" {
		t.Errorf("detail address not merged: %q %q", pent.City, pent.PostalCode)
	}
	if pent.Price == nil || *pent.Price != 3500 {
		t.Errorf("price: got %v", pent.Price)
	}
	if len(pent.Images) != 1 {
		t.Errorf("images: got %v", pent.Images)
	}
	if res.Candidates[1].SourceURL != "https://app.example.nl/object/10" {
		t.Errorf("second url: got %q", res.Candidates[1].SourceURL)
	}
}

func TestScrapeIndexRenderFailure(t *testing.T) {
	s := newTestScraper(t)
	s.render = func(context.Context, string) (string, error) { return "", errors.New("chrome crashed") }

	if _, err := s.Scrape(context.Background()); err == nil {
		t.Error("expected error when the index page cannot be rendered")
	}
}

func TestFindChromeBinaryPrefersEnv(t *testing.T) {
	t.Setenv("CHROME_BIN", "/opt/custom/chrome")
	if got := findChromeBinary(); got != "/opt/custom/chrome" {
		t.Errorf("findChromeBinary: got %q", got)
	}
}
