package models

import "time"

// ListingStatus is the lifecycle state of a catalog listing.
type ListingStatus string

const (
	ListingActive   ListingStatus = "active"
	ListingRented   ListingStatus = "rented"
	ListingSold     ListingStatus = "sold"
	ListingInactive ListingStatus = "inactive"
)

// Listing is a published catalog record.
type Listing struct {
	ID          string
	OwnerID     string
	Title       string
	Street      string
	HouseNumber string
	PostalCode  string
	City        string
	Price       float64

	PropertyType PropertyType
	ListingType  ListingType
	SurfaceArea  *float64
	Bedrooms     *int
	Bathrooms    *int
	Description  string
	EnergyLabel  *string
	BuildYear    *int

	Images    []string
	Latitude  *float64
	Longitude *float64

	Status     ListingStatus
	SourceSite string
	SourceURL  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Coordinates is a geocoding result.
type Coordinates struct {
	Lat float64
	Lon float64
}

// ListingFilter narrows ListListings. Zero values match everything.
type ListingFilter struct {
	Statuses   []ListingStatus
	SourceSite string
}

// Matches reports whether l satisfies the filter.
func (f ListingFilter) Matches(l *Listing) bool {
	if f.SourceSite != "" && l.SourceSite != f.SourceSite {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if l.Status == s {
			return true
		}
	}
	return false
}
