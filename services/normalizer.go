package services

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"listing-ingest/models"
	"listing-ingest/utils"
)

// propertyTypeAliases maps source wording onto catalog property types.
var propertyTypeAliases = map[string]models.PropertyType{
	"appartement":        models.PropertyAppartement,
	"apartment":          models.PropertyAppartement,
	"flat":               models.PropertyAppartement,
	"bovenwoning":        models.PropertyAppartement,
	"benedenwoning":      models.PropertyAppartement,
	"maisonnette":        models.PropertyAppartement,
	"huis":               models.PropertyHuis,
	"house":              models.PropertyHuis,
	"woonhuis":           models.PropertyHuis,
	"eengezinswoning":    models.PropertyHuis,
	"tussenwoning":       models.PropertyHuis,
	"hoekwoning":         models.PropertyHuis,
	"twee-onder-een-kap": models.PropertyHuis,
	"studio":             models.PropertyStudio,
	"kamer":              models.PropertyKamer,
	"room":               models.PropertyKamer,
	"penthouse":          models.PropertyPenthouse,
	"villa":              models.PropertyVilla,
}

var listingTypeAliases = map[string]models.ListingType{
	"huur":     models.ListingHuur,
	"te huur":  models.ListingHuur,
	"rent":     models.ListingHuur,
	"for rent": models.ListingHuur,
	"rental":   models.ListingHuur,
	"koop":     models.ListingKoop,
	"te koop":  models.ListingKoop,
	"sale":     models.ListingKoop,
	"for sale": models.ListingKoop,
	"buy":      models.ListingKoop,
}

// Normalizer validates staged candidates and turns them into catalog listings.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// MissingFields lists the required fields c lacks, in a fixed order.
func (n *Normalizer) MissingFields(c *models.CandidateListing) []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"title", c.Title},
		{"city", c.City},
		{"street", c.Street},
		{"house_number", c.HouseNumber},
		{"postal_code", c.PostalCode},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if c.Price == nil || *c.Price <= 0 {
		missing = append(missing, "price")
	}
	return missing
}

// Validate returns an error naming the missing fields, or nil.
func (n *Normalizer) Validate(c *models.CandidateListing) error {
	if missing := n.MissingFields(c); len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PropertyType maps free text onto the catalog set; unknown values become the default.
func (n *Normalizer) PropertyType(raw string) models.PropertyType {
	key := strings.ToLower(normaliseText(raw))
	if pt, ok := propertyTypeAliases[key]; ok {
		return pt
	}
	if key != "" {
		n.logger.Debug("[normalizer] Unknown property type %q, using %s", raw, models.DefaultPropertyType)
	}
	return models.DefaultPropertyType
}

// ListingType maps free text onto huur/koop; unknown values become the default.
func (n *Normalizer) ListingType(raw string) models.ListingType {
	key := strings.ToLower(normaliseText(raw))
	if lt, ok := listingTypeAliases[key]; ok {
		return lt
	}
	return models.DefaultListingType
}

// EnergyLabel returns the canonical label, or nil when raw is not one of A++..G.
func (n *Normalizer) EnergyLabel(raw string) *string {
	if label := models.CanonicalEnergyLabel(raw); label != "" {
		return &label
	}
	return nil
}

// ListingInput carries what promotion resolved for one candidate.
type ListingInput struct {
	ID      string
	OwnerID string
	Coords  *models.Coordinates
	Images  []string
	Now     time.Time
}

// BuildListing produces the active catalog record for a validated candidate.
func (n *Normalizer) BuildListing(c *models.CandidateListing, in ListingInput) *models.Listing {
	l := &models.Listing{
		ID:           in.ID,
		OwnerID:      in.OwnerID,
		Title:        normaliseText(c.Title),
		Street:       normaliseText(c.Street),
		HouseNumber:  normaliseText(c.HouseNumber),
		PostalCode:   strings.ToUpper(normaliseText(c.PostalCode)),
		City:         normaliseText(c.City),
		PropertyType: n.PropertyType(c.PropertyType),
		ListingType:  n.ListingType(c.ListingType),
		SurfaceArea:  c.SurfaceArea,
		Bedrooms:     c.Bedrooms,
		Bathrooms:    c.Bathrooms,
		Description:  strings.TrimSpace(c.Description),
		EnergyLabel:  n.EnergyLabel(c.Extras.EnergyLabel),
		BuildYear:    c.Extras.BuildYear,
		Images:       in.Images,
		Status:       models.ListingActive,
		SourceSite:   c.SourceSite,
		SourceURL:    c.SourceURL,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	if c.Price != nil {
		l.Price = *c.Price
	}
	if l.Images == nil {
		l.Images = []string{}
	}
	if in.Coords != nil {
		lat, lon := in.Coords.Lat, in.Coords.Lon
		l.Latitude = &lat
		l.Longitude = &lon
	}
	return l
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
