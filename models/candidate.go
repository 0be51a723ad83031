package models

import (
	"encoding/json"
	"strings"
	"time"
)

// CandidateStatus is the review state of a staged candidate.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
)

// Extras holds the source-specific values we know how to use, resolved from the
// raw attribute bag at ingestion time.
type Extras struct {
	EnergyLabel string `json:"energy_label,omitempty"`
	BuildYear   *int   `json:"build_year,omitempty"`
}

// CandidateListing is a normalized record harvested by a scraper adapter and
// kept in the staging table until it is promoted into the catalog.
type CandidateListing struct {
	ID          int64
	SourceURL   string
	SourceSite  string
	Title       string
	Price       *float64
	City        string
	Street      string
	HouseNumber string
	PostalCode  string

	PropertyType string
	ListingType  string
	SurfaceArea  *float64
	Bedrooms     *int
	Bathrooms    *int
	Description  string
	Images       []string

	Extras  Extras
	RawData json.RawMessage // diagnostics only

	Status             CandidateStatus
	LastSeenAt         time.Time
	PublishedListingID *string
	CreatedAt          time.Time
}

// Address renders the candidate's address the way a geocoder expects it.
func (c *CandidateListing) Address() string {
	line := c.Street
	if c.HouseNumber != "" {
		line += " " + c.HouseNumber
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{line, c.PostalCode + " " + c.City, "Netherlands"} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// UpsertOutcome reports what a staging upsert did with a candidate.
type UpsertOutcome string

const (
	UpsertInserted  UpsertOutcome = "inserted"  // new pending row
	UpsertUpdated   UpsertOutcome = "updated"   // pending row refreshed with new data
	UpsertRefreshed UpsertOutcome = "refreshed" // approved/rejected row, only last_seen_at moved
)
