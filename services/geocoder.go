package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"listing-ingest/cache"
	"listing-ingest/models"
	"listing-ingest/utils"
)

// Geocoder resolves a free-text address to coordinates. A nil result with a
// nil error means the service found no match.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
}

// DefaultGeocoderURL is the public Nominatim instance.
const DefaultGeocoderURL = "https://nominatim.openstreetmap.org"

// NominatimGeocoder queries a Nominatim-compatible search API.
type NominatimGeocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
	timeout   time.Duration
	cache     cache.GeoCache
	logger    *utils.Logger
}

// NewNominatimGeocoder creates a geocoder. cache may be nil.
func NewNominatimGeocoder(baseURL, userAgent string, timeout time.Duration, geoCache cache.GeoCache, logger *utils.Logger) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = DefaultGeocoderURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimGeocoder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		cache:     geoCache,
		logger:    logger,
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode runs one search and returns the first match.
func (g *NominatimGeocoder) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	if g.cache != nil {
		if c, ok := g.cache.Get(ctx, address); ok {
			g.logger.Debug("[geocoder] Cache hit for %q", address)
			return c, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocoder: build request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoder: request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("geocoder: status code %d", res.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(res.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("geocoder: decode: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoder: bad lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoder: bad lon %q: %w", results[0].Lon, err)
	}

	c := &models.Coordinates{Lat: lat, Lon: lon}
	if g.cache != nil {
		g.cache.Set(ctx, address, c)
	}
	return c, nil
}
