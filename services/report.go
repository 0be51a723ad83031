package services

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"listing-ingest/models"
	"listing-ingest/utils"
)

type ReportService struct {
	logger *utils.Logger
}

func NewReportService(logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger}
}

// Catalog summarizes active listings. Inactive ones only count toward the total.
func (s *ReportService) Catalog(listings []*models.Listing) *models.CatalogReport {
	report := &models.CatalogReport{
		ByCity:       make(map[string]int),
		BySourceSite: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priced []*models.Listing
	for _, l := range listings {
		if l.Status != models.ListingActive {
			continue
		}
		report.ActiveListings++
		if l.Price > 0 {
			priced = append(priced, l)
		}
		if l.City != "" {
			report.ByCity[l.City]++
		}
		if l.SourceSite != "" {
			report.BySourceSite[l.SourceSite]++
		}
	}

	if len(priced) > 0 {
		report.MinPrice = priced[0].Price
		report.MaxPrice = priced[0].Price
		report.MostExpensive = priced[0]
		var total float64
		for _, l := range priced {
			total += l.Price
			if l.Price < report.MinPrice {
				report.MinPrice = l.Price
			}
			if l.Price > report.MaxPrice {
				report.MaxPrice = l.Price
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	return report
}

// PrintCycleSummary writes the end-of-cycle box to w.
func PrintCycleSummary(w io.Writer, sum *models.CycleSummary) {
	sep := strings.Repeat("═", 62)
	thin := strings.Repeat("─", 62)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  INGESTION CYCLE\033[0m  %s  (%v)\n",
		sum.StartedAt.Format("2006-01-02 15:04:05"),
		sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Adapters\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(sum.Adapters) == 0 {
		fmt.Fprintf(w, "  No active scrapers\n")
	}
	for _, a := range sum.Adapters {
		fmt.Fprintf(w, "  %-22s %s  found %3d  new %3d  seen %3d  skipped %3d\n",
			truncate(a.ScraperID, 22), statusLabel(a.Status), a.Found, a.Inserted, a.Refreshed, a.Skipped)
		if a.Message != "" && a.Status != models.RunSuccess {
			fmt.Fprintf(w, "  %22s ↳ %s\n", "", truncate(a.Message, 60))
		}
	}
	fmt.Fprintln(w)

	p := sum.Promotion
	fmt.Fprintf(w, "\033[1;33m  Promotion\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Published    : \033[1;32m%d\033[0m\n", p.Published)
	fmt.Fprintf(w, "  Deduplicated : \033[1m%d\033[0m\n", p.Deduplicated)
	fmt.Fprintf(w, "  Skipped      : \033[1m%d\033[0m\n", p.Skipped)
	fmt.Fprintf(w, "  Failed       : \033[1;31m%d\033[0m\n", p.Failed)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Staleness sweep\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if sum.SweepError != "" {
		fmt.Fprintf(w, "  \033[1;31mFailed: %s\033[0m\n", sum.SweepError)
	} else {
		fmt.Fprintf(w, "  Deactivated  : \033[1m%d\033[0m\n", sum.Deactivated)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// PrintCatalogReport writes the catalog snapshot, cities sorted by count.
func PrintCatalogReport(w io.Writer, r *models.CatalogReport) {
	thin := strings.Repeat("─", 62)

	fmt.Fprintf(w, "\033[1;33m  Catalog\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Listings (all statuses) : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Active listings         : \033[1m%d\033[0m\n", r.ActiveListings)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m€%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m€%.2f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m€%.2f\033[0m\n", r.MaxPrice)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "  Most expensive: %s (%s)\n", truncate(r.MostExpensive.Title, 40), r.MostExpensive.City)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Active listings by city\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	counts := sortedCounts(r.ByCity)
	if len(counts) == 0 {
		fmt.Fprintf(w, "  No location data\n")
	}
	for _, c := range counts {
		bar := strings.Repeat("█", min(c.count, 40))
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(c.key, 28), bar, c.count)
	}
	fmt.Fprintln(w)
}

type keyCount struct {
	key   string
	count int
}

func sortedCounts(m map[string]int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, n := range m {
		out = append(out, keyCount{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

func statusLabel(s models.RunStatus) string {
	switch s {
	case models.RunSuccess:
		return "\033[1;32msuccess\033[0m"
	case models.RunWarning:
		return "\033[1;33mwarning\033[0m"
	default:
		return "\033[1;31m  error\033[0m"
	}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
