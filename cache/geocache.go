package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"listing-ingest/models"
)

// GeoCache stores geocoding hits by normalized address.
type GeoCache interface {
	Get(ctx context.Context, address string) (*models.Coordinates, bool)
	Set(ctx context.Context, address string, c *models.Coordinates)
}

// addressKey normalizes case and whitespace so trivially different spellings
// share an entry.
func addressKey(address string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(address), " "))
	sum := sha1.Sum([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// RedisGeoCache keeps geocoding results in Redis for ttl.
type RedisGeoCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGeoCache(client *redis.Client, ttl time.Duration) *RedisGeoCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisGeoCache{client: client, ttl: ttl}
}

func (g *RedisGeoCache) Get(ctx context.Context, address string) (*models.Coordinates, bool) {
	raw, err := g.client.Get(ctx, "geocode:"+addressKey(address)).Result()
	if err != nil {
		return nil, false
	}
	var c models.Coordinates
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, false
	}
	return &c, true
}

func (g *RedisGeoCache) Set(ctx context.Context, address string, c *models.Coordinates) {
	if c == nil {
		return
	}
	if data, err := json.Marshal(c); err == nil {
		g.client.Set(ctx, "geocode:"+addressKey(address), data, g.ttl)
	}
}

// MemoryGeoCache is an in-process GeoCache.
type MemoryGeoCache struct {
	mu      sync.RWMutex
	entries map[string]models.Coordinates
}

func NewMemoryGeoCache() *MemoryGeoCache {
	return &MemoryGeoCache{entries: make(map[string]models.Coordinates)}
}

func (m *MemoryGeoCache) Get(_ context.Context, address string) (*models.Coordinates, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.entries[addressKey(address)]
	if !ok {
		return nil, false
	}
	return &c, true
}

func (m *MemoryGeoCache) Set(_ context.Context, address string, c *models.Coordinates) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[addressKey(address)] = *c
}
