package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"listing-ingest/models"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, err := l.Acquire(ctx, "https://a/1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "https://a/1", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("second acquire: got %v, want ErrLocked", err)
	}
	if _, err := l.Acquire(ctx, "https://a/2", time.Minute); err != nil {
		t.Errorf("other key: %v", err)
	}

	release()
	if _, err := l.Acquire(ctx, "https://a/1", time.Minute); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestLocalLockerExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	staleRelease, _ := l.Acquire(ctx, "k", time.Second)
	now = now.Add(2 * time.Second)
	if _, err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	// The expired holder must not release the new lease.
	staleRelease()
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("new lease dropped by stale release: got %v", err)
	}
}

func TestAddressKeyNormalizes(t *testing.T) {
	a := addressKey("Oudegracht 12,  3511 AB Utrecht")
	b := addressKey(" oudegracht 12, 3511 ab UTRECHT ")
	if a != b {
		t.Errorf("addressKey: %q != %q", a, b)
	}
}

func TestMemoryGeoCache(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGeoCache()
	if _, ok := g.Get(ctx, "x"); ok {
		t.Error("empty cache hit")
	}
	g.Set(ctx, "Neude 1 Utrecht", &models.Coordinates{Lat: 52.09, Lon: 5.12})
	g.Set(ctx, "nowhere", nil)

	c, ok := g.Get(ctx, "neude 1 utrecht")
	if !ok || c.Lat != 52.09 {
		t.Errorf("Get: got %v, %v", c, ok)
	}
	if _, ok := g.Get(ctx, "nowhere"); ok {
		t.Error("nil coordinates should not be cached")
	}
}
