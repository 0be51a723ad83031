package utils

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// WorkerPool runs jobs on at most maxWorkers goroutines. With a rate limit,
// job starts are spaced at least rateLimitMs apart across the whole pool.
type WorkerPool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
	interval  time.Duration

	mu       sync.Mutex
	nextSlot time.Time
}

// NewWorkerPool creates a WorkerPool. A maxWorkers below 1 is treated as 1.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		semaphore: make(chan struct{}, maxWorkers),
		interval:  time.Duration(rateLimitMs) * time.Millisecond,
	}
}

// Submit blocks while all workers are busy, then runs job in the background.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if wait := wp.reserve(); wait > 0 {
			time.Sleep(wait)
		}
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// reserve claims the next start slot and returns how long to wait for it.
// The lock is not held while sleeping.
func (wp *WorkerPool) reserve() time.Duration {
	if wp.interval <= 0 {
		return 0
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()

	now := time.Now()
	slot := wp.nextSlot
	if slot.Before(now) {
		slot = now
	}
	wp.nextSlot = slot.Add(wp.interval)
	return slot.Sub(now)
}

// URLSet remembers which listing URLs a run already emitted. URLs that differ
// only in fragment, host case or a trailing slash count as the same listing.
type URLSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add reports whether rawURL was new.
func (s *URLSet) Add(rawURL string) bool {
	key := CanonicalURL(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *URLSet) Contains(rawURL string) bool {
	key := CanonicalURL(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.seen[key]
	return exists
}

func (s *URLSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// CanonicalURL drops the fragment and a trailing slash and lowercases the host.
// Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}
