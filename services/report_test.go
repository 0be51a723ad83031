package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"listing-ingest/models"
)

func sampleListings() []*models.Listing {
	return []*models.Listing{
		{Title: "Grachtenpand", Price: 2400, City: "Amsterdam", SourceSite: "pararius", Status: models.ListingActive},
		{Title: "Studio centrum", Price: 950, City: "Amsterdam", SourceSite: "pararius", Status: models.ListingActive},
		{Title: "Bovenwoning", Price: 1250, City: "Utrecht", SourceSite: "funda", Status: models.ListingActive},
		{Title: "Oude woning", Price: 9000, City: "Utrecht", SourceSite: "funda", Status: models.ListingInactive},
		{Title: "Prijs op aanvraag", Price: 0, City: "Utrecht", SourceSite: "funda", Status: models.ListingActive},
	}
}

func TestCatalogCounts(t *testing.T) {
	r := NewReportService(newTestLogger()).Catalog(sampleListings())
	if r.TotalListings != 5 {
		t.Errorf("TotalListings: got %d, want 5", r.TotalListings)
	}
	if r.ActiveListings != 4 {
		t.Errorf("ActiveListings: got %d, want 4", r.ActiveListings)
	}
	if r.ByCity["Amsterdam"] != 2 || r.ByCity["Utrecht"] != 2 {
		t.Errorf("ByCity: got %v", r.ByCity)
	}
	if r.BySourceSite["funda"] != 2 {
		t.Errorf("BySourceSite[funda]: got %d, want 2", r.BySourceSite["funda"])
	}
}

func TestCatalogPrices(t *testing.T) {
	r := NewReportService(newTestLogger()).Catalog(sampleListings())
	if r.AveragePrice != 1533.33 {
		t.Errorf("AveragePrice: got %.2f, want 1533.33", r.AveragePrice)
	}
	if r.MinPrice != 950 {
		t.Errorf("MinPrice: got %.2f, want 950", r.MinPrice)
	}
	if r.MaxPrice != 2400 {
		t.Errorf("MaxPrice: got %.2f, want 2400", r.MaxPrice)
	}
	if r.MostExpensive == nil || r.MostExpensive.Title != "Grachtenpand" {
		t.Errorf("MostExpensive: got %+v", r.MostExpensive)
	}
}

func TestCatalogEmptyInput(t *testing.T) {
	r := NewReportService(newTestLogger()).Catalog(nil)
	if r.TotalListings != 0 || r.MostExpensive != nil {
		t.Errorf("expected empty report, got %+v", r)
	}
}

func TestPrintCycleSummary(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sum := &models.CycleSummary{
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Adapters: []models.AdapterOutcome{
			{ScraperID: "pararius", Status: models.RunSuccess, Found: 12, Inserted: 3, Refreshed: 9},
			{ScraperID: "funda", Status: models.RunError, Message: "status code 503"},
		},
		Promotion:   models.PromotionStats{Published: 3, Skipped: 1},
		Deactivated: 2,
	}

	var buf bytes.Buffer
	PrintCycleSummary(&buf, sum)
	out := buf.String()

	for _, want := range []string{"pararius", "found  12", "status code 503", "Published", "Deactivated  : \033[1m2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	sum.SweepError = "connection refused"
	buf.Reset()
	PrintCycleSummary(&buf, sum)
	if !strings.Contains(buf.String(), "Failed: connection refused") {
		t.Error("sweep error not reported")
	}
}

func TestPrintCatalogReportSortsCities(t *testing.T) {
	r := &models.CatalogReport{ByCity: map[string]int{"Delft": 1, "Utrecht": 3, "Leiden": 3}}

	var buf bytes.Buffer
	PrintCatalogReport(&buf, r)
	out := buf.String()

	leiden, utrecht, delft := strings.Index(out, "Leiden"), strings.Index(out, "Utrecht"), strings.Index(out, "Delft")
	if !(leiden < utrecht && utrecht < delft) {
		t.Errorf("city order: Leiden=%d Utrecht=%d Delft=%d", leiden, utrecht, delft)
	}
	if !strings.Contains(out, "No price data available") {
		t.Error("expected no-price message")
	}
}
