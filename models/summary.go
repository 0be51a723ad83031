package models

import "time"

// AdapterOutcome is the per-adapter part of a cycle summary.
type AdapterOutcome struct {
	ScraperID string        `json:"scraper_id"`
	Status    RunStatus     `json:"status"`
	Message   string        `json:"message"`
	Found     int           `json:"found"`
	Skipped   int           `json:"skipped"`
	Inserted  int           `json:"inserted"`
	Refreshed int           `json:"refreshed"`
	Duration  time.Duration `json:"duration"`
}

// PromotionStats counts what happened to pending candidates.
type PromotionStats struct {
	Published    int `json:"published"`
	Skipped      int `json:"skipped"`
	Deduplicated int `json:"deduplicated"`
	Failed       int `json:"failed"`
}

// CycleSummary is emitted at the end of every ingestion cycle.
type CycleSummary struct {
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Adapters    []AdapterOutcome `json:"adapters"`
	Promotion   PromotionStats   `json:"promotion"`
	Deactivated int              `json:"deactivated"`
	SweepError  string           `json:"sweep_error,omitempty"`
}

// ResetSummary reports what an administrative reset cleared.
type ResetSummary struct {
	StagingCleared  int64    `json:"staging_cleared"`
	RunLogsCleared  int64    `json:"run_logs_cleared"`
	ConfigsReset    int64    `json:"configs_reset"`
	ListingsDeleted int64    `json:"listings_deleted"`
	Errors          []string `json:"errors,omitempty"`
}

// CatalogReport is a snapshot of the published catalog, printed after a cycle.
type CatalogReport struct {
	TotalListings  int
	ActiveListings int
	AveragePrice   float64
	MinPrice       float64
	MaxPrice       float64
	MostExpensive  *Listing
	ByCity         map[string]int
	BySourceSite   map[string]int
}
