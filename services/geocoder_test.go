package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"listing-ingest/cache"
)

func TestNominatimGeocoder(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" || r.URL.Query().Get("limit") != "1" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		if r.Header.Get("User-Agent") != "listing-ingest-test" {
			t.Errorf("User-Agent: got %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Query().Get("q") {
		case "Neude 1, 3512 AD Utrecht, Netherlands":
			fmt.Fprint(w, `[{"lat":"52.0927","lon":"5.1190"},{"lat":"0","lon":"0"}]`)
		case "nowhere":
			fmt.Fprint(w, `[]`)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "listing-ingest-test", time.Second, cache.NewMemoryGeoCache(), newTestLogger())
	ctx := context.Background()

	c, err := g.Geocode(ctx, "Neude 1, 3512 AD Utrecht, Netherlands")
	if err != nil || c == nil {
		t.Fatalf("Geocode: got %v, %v", c, err)
	}
	if c.Lat != 52.0927 || c.Lon != 5.1190 {
		t.Errorf("coords: got %+v", c)
	}

	// Second lookup comes from the cache.
	if _, err := g.Geocode(ctx, "Neude 1, 3512 AD Utrecht, Netherlands"); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hits: got %d, want 1", n)
	}

	c, err = g.Geocode(ctx, "nowhere")
	if err != nil || c != nil {
		t.Errorf("no match: got %v, %v; want nil, nil", c, err)
	}

	if _, err := g.Geocode(ctx, "rate limited"); err == nil {
		t.Error("expected error on non-200 response")
	}
}

func TestNominatimGeocoderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "", 50*time.Millisecond, nil, newTestLogger())
	if _, err := g.Geocode(context.Background(), "slow"); err == nil {
		t.Error("expected timeout error")
	}
}
