package htmlsite

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"listing-ingest/models"
	"listing-ingest/scraper"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/huur", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, `<html><body>
				<article class="card"><a href="/huur/1"><h2>Appartement Centrum</h2></a>
					<span class="price">€ 1.250 per maand</span>
					<p class="addr">Neude 1, 3512 AD Utrecht</p></article>
				<article class="card"><a href="/huur/2"></a><span class="price">€ 900</span></article>
				<a class="next" href="/huur?page=2">next</a>
			</body></html>`)
		case "2":
			fmt.Fprint(w, `<html><body>
				<article class="card"><a href="/huur/3"><h2>Studio Oost</h2></a>
					<span class="price">€ 800</span></article>
				<article class="card"><a href="/huur/1"><h2>Appartement Centrum</h2></a></article>
			</body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/huur/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h2>Appartement Centrum</h2>
			<img src="/img/a.jpg"><img src="/img/b.jpg"></body></html>`)
	})
	mux.HandleFunc("/huur/3", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return httptest.NewServer(mux)
}

func testDeps(srv *httptest.Server) scraper.Deps {
	return scraper.Deps{HTTPClient: srv.Client(), MaxRetries: 1}
}

func config(baseURL string) *models.ScraperConfig {
	return &models.ScraperConfig{
		ID:      "example",
		Kind:    Kind,
		BaseURL: baseURL,
		Settings: map[string]string{
			"item":          "article.card",
			"next":          "a.next",
			"field.title":   "h2",
			"field.price":   ".price",
			"field.address": ".addr",
			"fetch_detail":  "true",
		},
	}
}

func TestScrapeWalksPagesAndSkipsMalformed(t *testing.T) {
	srv := newSite(t)
	defer srv.Close()

	reg := scraper.NewRegistry(testDeps(srv))
	reg.Register(Kind, New)
	s, err := reg.Build(config(srv.URL + "/huur"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(res.Candidates))
	}
	if res.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", res.Skipped)
	}
	if res.Status != models.RunWarning {
		t.Errorf("status: got %v, want warning", res.Status)
	}

	first := res.Candidates[0]
	if first.SourceURL != srv.URL+"/huur/1" || first.SourceSite != "example" {
		t.Errorf("first: got %q from %q", first.SourceURL, first.SourceSite)
	}
	if first.PostalCode != "3512 AD" || first.City != "Utrecht" || first.Street != "Neude" {
		t.Errorf("address: got %q %q %q", first.Street, first.PostalCode, first.City)
	}
	if len(first.Images) != 2 {
		t.Errorf("detail images: got %v", first.Images)
	}
	if res.Candidates[1].Title != "Studio Oost" {
		t.Errorf("second page listing missing: got %q", res.Candidates[1].Title)
	}
}

func TestScrapeIndexFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := New(config(srv.URL), testDeps(srv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Scrape(context.Background()); err == nil {
		t.Error("expected error for blocked index page")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := config("")
	if _, err := New(cfg, scraper.Deps{}); err == nil {
		t.Error("expected error without base_url")
	}
	cfg = config("http://x")
	delete(cfg.Settings, "item")
	if _, err := New(cfg, scraper.Deps{}); err == nil {
		t.Error("expected error without item selector")
	}
}
