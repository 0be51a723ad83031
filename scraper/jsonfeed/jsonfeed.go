// Package jsonfeed scrapes sources that publish listings as JSON, mapping
// fields through configured gjson paths.
package jsonfeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"listing-ingest/models"
	"listing-ingest/scraper"
	"listing-ingest/utils"
)

// Kind is the registry key for this adapter.
const Kind = "jsonfeed"

// maxFeedBytes bounds one feed response.
const maxFeedBytes = 32 << 20

// Scraper reads one JSON listing feed.
type Scraper struct {
	cfg       *models.ScraperConfig
	client    *http.Client
	logger    *utils.Logger
	retry     *utils.RetryConfig
	userAgent string

	items    string
	next     string
	maxPages int
	paths    map[string]string
}

// New is the scraper.Builder for Kind. Settings:
//
//	items         path to the listing array, empty when the feed is an array
//	next          path to the next page URL
//	max_pages     pages to follow, default 5
//	path.<field>  one gjson path per field; path.url and path.title are required
//	              (path.images may select an array, path.attributes an object)
func New(cfg *models.ScraperConfig, deps scraper.Deps) (scraper.Scraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jsonfeed: %s: base_url is required", cfg.ID)
	}
	paths := make(map[string]string)
	for k, v := range cfg.Settings {
		if name, ok := strings.CutPrefix(k, "path."); ok && strings.TrimSpace(v) != "" {
			paths[name] = strings.TrimSpace(v)
		}
	}
	for _, required := range []string{"url", "title"} {
		if paths[required] == "" {
			return nil, fmt.Errorf("jsonfeed: %s: setting %q is required", cfg.ID, "path."+required)
		}
	}

	maxPages, err := strconv.Atoi(cfg.Setting("max_pages", "5"))
	if err != nil || maxPages < 1 {
		maxPages = 5
	}

	return &Scraper{
		cfg:       cfg,
		client:    deps.Client(),
		logger:    deps.Log(),
		retry:     deps.Retry(),
		userAgent: deps.Agent(),
		items:     cfg.Setting("items", ""),
		next:      cfg.Setting("next", ""),
		maxPages:  maxPages,
		paths:     paths,
	}, nil
}

func (s *Scraper) Scrape(ctx context.Context) (*scraper.Result, error) {
	s.logger.Info("[jsonfeed] %s: reading %s", s.cfg.ID, s.cfg.BaseURL)

	col := scraper.NewCollector(s.cfg.ID)
	feedURL := s.cfg.BaseURL
	stoppedAt := 0
	for page := 1; page <= s.maxPages && feedURL != ""; page++ {
		body, err := s.fetch(ctx, feedURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("jsonfeed: %s: %w", s.cfg.ID, err)
			}
			s.logger.Warn("[jsonfeed] %s: page %d failed, keeping %d listings: %v", s.cfg.ID, page, col.Len(), err)
			stoppedAt = page
			break
		}
		if !gjson.ValidBytes(body) {
			if page == 1 {
				return nil, fmt.Errorf("jsonfeed: %s: response is not valid JSON", s.cfg.ID)
			}
			s.logger.Warn("[jsonfeed] %s: page %d is not valid JSON, keeping %d listings", s.cfg.ID, page, col.Len())
			stoppedAt = page
			break
		}

		doc := gjson.ParseBytes(body)
		list := doc
		if s.items != "" {
			list = doc.Get(s.items)
		}
		if !list.IsArray() {
			if page == 1 {
				return nil, fmt.Errorf("jsonfeed: %s: %q is not an array", s.cfg.ID, s.items)
			}
			s.logger.Warn("[jsonfeed] %s: page %d has no %q array, keeping %d listings", s.cfg.ID, page, s.items, col.Len())
			stoppedAt = page
			break
		}

		base, _ := url.Parse(feedURL)
		list.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				col.Skip()
				return true
			}
			col.Add(s.candidate(item, base))
			return true
		})

		feedURL = ""
		if s.next != "" {
			if n := doc.Get(s.next).String(); n != "" {
				feedURL = resolve(base, n)
			}
		}
	}

	res := col.Result()
	if stoppedAt > 0 {
		res.Status = models.RunWarning
		res.Message += fmt.Sprintf(", stopped at broken page %d", stoppedAt)
	}
	s.logger.Info("[jsonfeed] %s: %s", s.cfg.ID, res.Message)
	return res, nil
}

func (s *Scraper) get(item gjson.Result, field string) gjson.Result {
	path, ok := s.paths[field]
	if !ok {
		return gjson.Result{}
	}
	return item.Get(path)
}

func (s *Scraper) text(item gjson.Result, field string) string {
	return strings.TrimSpace(s.get(item, field).String())
}

func (s *Scraper) number(item gjson.Result, field string) *float64 {
	v := s.get(item, field)
	switch {
	case !v.Exists():
		return nil
	case v.Type == gjson.Number:
		f := v.Float()
		if f <= 0 {
			return nil
		}
		return &f
	default:
		return models.ParsePrice(v.String())
	}
}

func (s *Scraper) count(item gjson.Result, field string) *int {
	v := s.get(item, field)
	switch {
	case !v.Exists():
		return nil
	case v.Type == gjson.Number:
		n := int(v.Int())
		return &n
	default:
		return models.ParseCount(v.String())
	}
}

func (s *Scraper) candidate(item gjson.Result, base *url.URL) *models.CandidateListing {
	c := &models.CandidateListing{
		SourceURL:    resolve(base, s.text(item, "url")),
		SourceSite:   s.cfg.ID,
		Title:        s.text(item, "title"),
		Price:        s.number(item, "price"),
		City:         s.text(item, "city"),
		Street:       s.text(item, "street"),
		HouseNumber:  s.text(item, "house_number"),
		PostalCode:   s.text(item, "postal_code"),
		PropertyType: s.text(item, "property_type"),
		ListingType:  s.text(item, "listing_type"),
		SurfaceArea:  s.number(item, "area"),
		Bedrooms:     s.count(item, "bedrooms"),
		Bathrooms:    s.count(item, "bathrooms"),
		Description:  s.text(item, "description"),
	}

	if addr := s.text(item, "address"); addr != "" {
		street, number, postal, city := models.SplitAddress(addr)
		if c.Street == "" {
			c.Street = street
		}
		if c.HouseNumber == "" {
			c.HouseNumber = number
		}
		if c.PostalCode == "" {
			c.PostalCode = postal
		}
		if c.City == "" {
			c.City = city
		}
	}

	if imgs := s.get(item, "images"); imgs.IsArray() {
		for _, img := range imgs.Array() {
			if u := resolve(base, img.String()); u != "" {
				c.Images = append(c.Images, u)
			}
		}
	} else if u := resolve(base, imgs.String()); u != "" {
		c.Images = []string{u}
	}

	raw := make(map[string]string)
	s.get(item, "attributes").ForEach(func(k, v gjson.Result) bool {
		raw[k.String()] = v.String()
		return true
	})
	if e := s.text(item, "energy_label"); e != "" {
		raw["energy_label"] = e
	}
	if y := s.text(item, "build_year"); y != "" {
		raw["build_year"] = y
	}
	c.Extras, c.RawData = models.ResolveRawData(raw)
	return c
}

func (s *Scraper) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	var body []byte
	err := s.retry.Do(ctx, "fetch "+feedURL, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", s.userAgent)
		req.Header.Set("Accept", "application/json")

		res, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, res.Body)
			return fmt.Errorf("status code error: %d", res.StatusCode)
		}
		body, err = io.ReadAll(io.LimitReader(res.Body, maxFeedBytes))
		return err
	})
	return body, err
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}
