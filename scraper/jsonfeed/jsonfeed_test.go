package jsonfeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"listing-ingest/models"
	"listing-ingest/scraper"
)

func feedServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, `{
				"data": {"results": [
					{"link": "/woning/1", "name": "Benedenwoning", "rent": 1395,
					 "location": {"street": "Vondelstraat", "number": "5", "zip": "1054 GB", "city": "Amsterdam"},
					 "photos": [{"src": "/p/1.jpg"}, {"src": "https://cdn.example.com/2.jpg"}],
					 "features": {"Energielabel": "B", "Bouwjaar": "1905"},
					 "area": "92 m²", "rooms": 2},
					{"link": "/woning/2", "rent": "€ 1.100"},
					"not an object"
				]},
				"next": "/feed?page=2"
			}`)
		case "2":
			fmt.Fprint(w, `{"data": {"results": [
				{"link": "/woning/3", "name": "Kamer", "rent": "€ 650 p/m",
				 "address": "Biltstraat 20, 3572 AH Utrecht"}
			]}}`)
		}
	}))
}

func feedConfig(base string) *models.ScraperConfig {
	return &models.ScraperConfig{
		ID:      "feed",
		Kind:    Kind,
		BaseURL: base,
		Settings: map[string]string{
			"items":             "data.results",
			"next":              "next",
			"path.url":          "link",
			"path.title":        "name",
			"path.price":        "rent",
			"path.street":       "location.street",
			"path.house_number": "location.number",
			"path.postal_code":  "location.zip",
			"path.city":         "location.city",
			"path.address":      "address",
			"path.images":       "photos.#.src",
			"path.attributes":   "features",
			"path.area":         "area",
			"path.bedrooms":     "rooms",
		},
	}
}

func TestScrapeFeed(t *testing.T) {
	srv := feedServer()
	defer srv.Close()

	s, err := New(feedConfig(srv.URL+"/feed"), scraper.Deps{HTTPClient: srv.Client(), MaxRetries: 1})
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
	if res.Skipped != 2 {
		t.Errorf("skipped: got %d, want 2", res.Skipped)
	}

	first := res.Candidates[0]
	if first.SourceURL != srv.URL+"/woning/1" {
		t.Errorf("url: got %q", first.SourceURL)
	}
	if first.Price == nil || *first.Price != 1395 {
		t.Errorf("price: got %v", first.Price)
	}
	if first.City != "Amsterdam" || first.PostalCode != "1054 GB" {
		t.Errorf("location: got %q %q", first.City, first.PostalCode)
	}
	if len(first.Images) != 2 || first.Images[0] != srv.URL+"/p/1.jpg" {
		t.Errorf("images: got %v", first.Images)
	}
	if first.Extras.EnergyLabel != "B" || first.Extras.BuildYear == nil || *first.Extras.BuildYear != 1905 {
		t.Errorf("extras: got %+v", first.Extras)
	}
	if first.SurfaceArea == nil || *first.SurfaceArea != 92 || first.Bedrooms == nil || *first.Bedrooms != 2 {
		t.Errorf("numbers: area=%v rooms=%v", first.SurfaceArea, first.Bedrooms)
	}

	second := res.Candidates[1]
	if second.Street != "Biltstraat" || second.HouseNumber != "20" || second.City != "Utrecht" {
		t.Errorf("split address: got %q %q %q", second.Street, second.HouseNumber, second.City)
	}
	if second.Price == nil || *second.Price != 650 {
		t.Errorf("string price: got %v", second.Price)
	}
}

func TestScrapeKeepsEarlierPagesWhenLaterPageBreaks(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"error object", `{"error": "rate limited"}`},
		{"items not an array", `{"data": {"results": {"link": "/woning/9"}}}`},
		{"not json", `<html>blocked</html>`},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") == "2" {
				fmt.Fprint(w, tt.body)
				return
			}
			fmt.Fprint(w, `{"data": {"results": [
				{"link": "/woning/1", "name": "Benedenwoning", "rent": 1395},
				{"link": "/woning/2", "name": "Bovenwoning", "rent": 1250}
			]}, "next": "/feed?page=2"}`)
		}))

		s, err := New(feedConfig(srv.URL+"/feed"), scraper.Deps{HTTPClient: srv.Client(), MaxRetries: 1})
		if err != nil {
			t.Fatal(err)
		}
		res, err := s.Scrape(context.Background())
		srv.Close()
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if len(res.Candidates) != 2 {
			t.Errorf("%s: candidates: got %d, want 2", tt.name, len(res.Candidates))
		}
		if res.Status != models.RunWarning {
			t.Errorf("%s: status: got %s, want warning", tt.name, res.Status)
		}
	}
}

func TestScrapeFirstPageWithoutItemsFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "unknown city"}`)
	}))
	defer srv.Close()

	s, err := New(feedConfig(srv.URL), scraper.Deps{HTTPClient: srv.Client(), MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Scrape(context.Background()); err == nil {
		t.Error("expected error when the first page has no items array")
	}
}

func TestScrapeInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>blocked</html>")
	}))
	defer srv.Close()

	s, err := New(feedConfig(srv.URL), scraper.Deps{HTTPClient: srv.Client(), MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Scrape(context.Background()); err == nil {
		t.Error("expected error for non-JSON feed")
	}
}

func TestNewRequiresPaths(t *testing.T) {
	cfg := feedConfig("http://x")
	delete(cfg.Settings, "path.url")
	if _, err := New(cfg, scraper.Deps{}); err == nil {
		t.Error("expected error without path.url")
	}
}
