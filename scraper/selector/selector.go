// Package selector turns scraper settings into goquery extraction rules and
// applies them to listing index and detail pages.
package selector

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listing-ingest/models"
)

// Field names understood in "field.<name>" settings.
const (
	FieldTitle        = "title"
	FieldPrice        = "price"
	FieldAddress      = "address"
	FieldStreet       = "street"
	FieldHouseNumber  = "house_number"
	FieldPostalCode   = "postal_code"
	FieldCity         = "city"
	FieldPropertyType = "property_type"
	FieldListingType  = "listing_type"
	FieldArea         = "area"
	FieldBedrooms     = "bedrooms"
	FieldBathrooms    = "bathrooms"
	FieldDescription  = "description"
	FieldEnergyLabel  = "energy_label"
	FieldBuildYear    = "build_year"
)

// Rule selects text, or an attribute when Attr is set ("h2.title", "a@href").
type Rule struct {
	Selector string
	Attr     string
}

func parseRule(raw string) Rule {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "@"); i > 0 {
		return Rule{Selector: strings.TrimSpace(raw[:i]), Attr: strings.TrimSpace(raw[i+1:])}
	}
	return Rule{Selector: raw}
}

func (r Rule) apply(s *goquery.Selection) string {
	sel := s
	if r.Selector != "" {
		sel = s.Find(r.Selector).First()
	}
	if sel.Length() == 0 {
		return ""
	}
	if r.Attr != "" {
		v, _ := sel.Attr(r.Attr)
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// Extractor holds the CSS rules for one source.
type Extractor struct {
	item   string
	link   Rule
	next   Rule
	images Rule
	fields map[string]Rule

	attrRow   string
	attrKey   string
	attrValue string
}

// New builds an Extractor from scraper settings:
//
//	item             listing card selector on index pages (required)
//	link             card link rule, default "a@href"
//	next             next-page link rule
//	images           image rule, default "img@src" (data-src is tried too)
//	field.<name>     one rule per field, e.g. field.price = ".price"
//	attributes       key/value row selector, e.g. "dl.features div"
//	attribute_key    key selector within a row, default "dt"
//	attribute_value  value selector within a row, default "dd"
func New(settings map[string]string) (*Extractor, error) {
	item := strings.TrimSpace(settings["item"])
	if item == "" {
		return nil, fmt.Errorf("selector: setting %q is required", "item")
	}

	e := &Extractor{
		item:      item,
		link:      parseRule(valueOr(settings, "link", "a@href")),
		images:    parseRule(valueOr(settings, "images", "img@src")),
		fields:    make(map[string]Rule),
		attrRow:   strings.TrimSpace(settings["attributes"]),
		attrKey:   valueOr(settings, "attribute_key", "dt"),
		attrValue: valueOr(settings, "attribute_value", "dd"),
	}
	if n := strings.TrimSpace(settings["next"]); n != "" {
		e.next = parseRule(n)
		if e.next.Attr == "" {
			e.next.Attr = "href"
		}
	}
	if e.link.Attr == "" {
		e.link.Attr = "href"
	}
	for k, v := range settings {
		if name, ok := strings.CutPrefix(k, "field."); ok && strings.TrimSpace(v) != "" {
			e.fields[name] = parseRule(v)
		}
	}
	if _, ok := e.fields[FieldTitle]; !ok {
		return nil, fmt.Errorf("selector: setting %q is required", "field.title")
	}
	return e, nil
}

func valueOr(settings map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(settings[key]); v != "" {
		return v
	}
	return fallback
}

// Card is what the rules found for one listing.
type Card struct {
	URL        string
	Values     map[string]string
	Images     []string
	Attributes map[string]string
}

// Cards extracts one Card per item on an index page.
func (e *Extractor) Cards(doc *goquery.Document, base *url.URL) []Card {
	var cards []Card
	doc.Find(e.item).Each(func(_ int, s *goquery.Selection) {
		card := e.extract(s, base)
		card.URL = resolve(base, e.link.apply(s))
		if card.URL == "" {
			// The card itself may be the anchor.
			if href, ok := s.Attr("href"); ok {
				card.URL = resolve(base, href)
			}
		}
		cards = append(cards, card)
	})
	return cards
}

// Detail applies the field rules to a whole detail page.
func (e *Extractor) Detail(doc *goquery.Document, base *url.URL) Card {
	return e.extract(doc.Selection, base)
}

// NextPage returns the absolute next-page URL, or "" when there is none.
func (e *Extractor) NextPage(doc *goquery.Document, base *url.URL) string {
	if e.next.Selector == "" {
		return ""
	}
	return resolve(base, e.next.apply(doc.Selection))
}

func (e *Extractor) extract(s *goquery.Selection, base *url.URL) Card {
	card := Card{Values: make(map[string]string), Attributes: make(map[string]string)}
	for name, rule := range e.fields {
		if v := rule.apply(s); v != "" {
			card.Values[name] = v
		}
	}

	seen := make(map[string]bool)
	s.Find(e.images.Selector).Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr(e.images.Attr)
		if src == "" {
			src, _ = img.Attr("data-src")
		}
		if u := resolve(base, strings.TrimSpace(src)); u != "" && !seen[u] {
			seen[u] = true
			card.Images = append(card.Images, u)
		}
	})

	if e.attrRow != "" {
		s.Find(e.attrRow).Each(func(_ int, row *goquery.Selection) {
			k := strings.Join(strings.Fields(row.Find(e.attrKey).First().Text()), " ")
			v := strings.Join(strings.Fields(row.Find(e.attrValue).First().Text()), " ")
			if k != "" && v != "" {
				card.Attributes[k] = v
			}
		})
	}
	return card
}

// Merge fills c with what a detail page found. Detail values win.
func (c *Card) Merge(detail Card) {
	if c.Values == nil {
		c.Values = make(map[string]string)
	}
	if c.Attributes == nil {
		c.Attributes = make(map[string]string)
	}
	for k, v := range detail.Values {
		c.Values[k] = v
	}
	for k, v := range detail.Attributes {
		c.Attributes[k] = v
	}
	if len(detail.Images) > 0 {
		c.Images = detail.Images
	}
}

// Candidate converts the card into a staging candidate for site.
func (c Card) Candidate(site string) *models.CandidateListing {
	v := c.Values
	cand := &models.CandidateListing{
		SourceURL:    c.URL,
		SourceSite:   site,
		Title:        v[FieldTitle],
		Price:        models.ParsePrice(v[FieldPrice]),
		City:         v[FieldCity],
		Street:       v[FieldStreet],
		HouseNumber:  v[FieldHouseNumber],
		PostalCode:   v[FieldPostalCode],
		PropertyType: v[FieldPropertyType],
		ListingType:  v[FieldListingType],
		SurfaceArea:  models.ParseArea(v[FieldArea]),
		Bedrooms:     models.ParseCount(v[FieldBedrooms]),
		Bathrooms:    models.ParseCount(v[FieldBathrooms]),
		Description:  v[FieldDescription],
		Images:       c.Images,
	}

	if addr := v[FieldAddress]; addr != "" {
		street, number, postal, city := models.SplitAddress(addr)
		if cand.Street == "" {
			cand.Street = street
		}
		if cand.HouseNumber == "" {
			cand.HouseNumber = number
		}
		if cand.PostalCode == "" {
			cand.PostalCode = postal
		}
		if cand.City == "" {
			cand.City = city
		}
	}

	raw := make(map[string]string, len(c.Attributes)+2)
	for k, val := range c.Attributes {
		raw[k] = val
	}
	if e := v[FieldEnergyLabel]; e != "" {
		raw[FieldEnergyLabel] = e
	}
	if y := v[FieldBuildYear]; y != "" {
		raw[FieldBuildYear] = y
	}
	cand.Extras, cand.RawData = models.ResolveRawData(raw)
	return cand
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	return u.String()
}
