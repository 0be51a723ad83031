package models

// PropertyType values accepted by the catalog.
type PropertyType string

const (
	PropertyAppartement PropertyType = "appartement"
	PropertyHuis        PropertyType = "huis"
	PropertyStudio      PropertyType = "studio"
	PropertyKamer       PropertyType = "kamer"
	PropertyPenthouse   PropertyType = "penthouse"
	PropertyVilla       PropertyType = "villa"

	DefaultPropertyType = PropertyAppartement
)

// PropertyTypes is the fixed set of catalog property types.
var PropertyTypes = []PropertyType{
	PropertyAppartement, PropertyHuis, PropertyStudio, PropertyKamer, PropertyPenthouse, PropertyVilla,
}

// ListingType says whether a listing is for rent or for sale.
type ListingType string

const (
	ListingHuur ListingType = "huur"
	ListingKoop ListingType = "koop"

	DefaultListingType = ListingHuur
)

// ListingTypes is the fixed set of catalog listing types.
var ListingTypes = []ListingType{ListingHuur, ListingKoop}

// EnergyLabels is the fixed set of accepted energy labels, best first.
var EnergyLabels = []string{"A++", "A+", "A", "B", "C", "D", "E", "F", "G"}
