// Package scraper defines the adapter contract shared by every listing source
// and the registry that builds adapters from stored scraper configuration.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"listing-ingest/models"
	"listing-ingest/utils"
)

// DefaultUserAgent is sent by every adapter unless configured otherwise.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Result is what one adapter run produced.
type Result struct {
	Candidates []*models.CandidateListing
	Skipped    int
	Status     models.RunStatus
	Message    string
}

// Scraper harvests candidate listings from one external source.
// A returned error means the whole run failed; malformed items are skipped
// and counted in Result.Skipped instead.
type Scraper interface {
	Scrape(ctx context.Context) (*Result, error)
}

// Func adapts a plain function to the Scraper interface.
type Func func(ctx context.Context) (*Result, error)

func (f Func) Scrape(ctx context.Context) (*Result, error) { return f(ctx) }

// Deps are the shared resources handed to every adapter builder.
type Deps struct {
	Logger      *utils.Logger
	HTTPClient  *http.Client
	UserAgent   string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimitMs int
	ChromeBin   string
}

// Retry returns the retry policy adapters use for page fetches.
func (d Deps) Retry() *utils.RetryConfig {
	delay := d.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &utils.RetryConfig{MaxAttempts: d.MaxRetries, BaseDelay: delay, Logger: d.Log()}
}

// Log returns the configured logger or a silent one.
func (d Deps) Log() *utils.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return utils.NewNopLogger()
}

// Client returns the configured HTTP client or one with a 10s timeout.
func (d Deps) Client() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Agent returns the configured user agent or DefaultUserAgent.
func (d Deps) Agent() string {
	if d.UserAgent != "" {
		return d.UserAgent
	}
	return DefaultUserAgent
}

// Builder creates an adapter for one scraper configuration.
type Builder func(cfg *models.ScraperConfig, deps Deps) (Scraper, error)

// Registry maps ScraperConfig.Kind to a Builder.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry whose builders receive deps.
func NewRegistry(deps Deps) *Registry {
	deps.Logger = deps.Log()
	deps.HTTPClient = deps.Client()
	return &Registry{deps: deps, builders: make(map[string]Builder)}
}

// Register adds or replaces the builder for kind.
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[strings.ToLower(kind)] = b
}

// Build creates the adapter for cfg.
func (r *Registry) Build(cfg *models.ScraperConfig) (Scraper, error) {
	r.mu.RLock()
	b, ok := r.builders[strings.ToLower(cfg.Kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scraper: unknown kind %q for %q", cfg.Kind, cfg.ID)
	}
	s, err := b(cfg, r.deps)
	if err != nil {
		return nil, fmt.Errorf("scraper: build %q: %w", cfg.ID, err)
	}
	return s, nil
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for k := range r.builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Collector accumulates candidates for one run, dropping repeats of a source URL
// and counting items that cannot become candidates.
type Collector struct {
	site       string
	seen       *utils.URLSet
	candidates []*models.CandidateListing
	skipped    int
}

func NewCollector(site string) *Collector {
	return &Collector{site: site, seen: utils.NewURLSet()}
}

// Add keeps c if it carries the minimum an adapter must produce.
// It reports whether c was kept.
func (c *Collector) Add(cand *models.CandidateListing) bool {
	if cand == nil || strings.TrimSpace(cand.SourceURL) == "" || strings.TrimSpace(cand.Title) == "" {
		c.skipped++
		return false
	}
	if !c.seen.Add(cand.SourceURL) {
		return false
	}
	if cand.SourceSite == "" {
		cand.SourceSite = c.site
	}
	c.candidates = append(c.candidates, cand)
	return true
}

// Skip counts one malformed item.
func (c *Collector) Skip() { c.skipped++ }

// Len returns the number of kept candidates.
func (c *Collector) Len() int { return len(c.candidates) }

// Result finishes the run. Skipped items turn the status into a warning.
func (c *Collector) Result() *Result {
	res := &Result{
		Candidates: c.candidates,
		Skipped:    c.skipped,
		Status:     models.RunSuccess,
		Message:    fmt.Sprintf("%d listings found", len(c.candidates)),
	}
	if c.skipped > 0 {
		res.Status = models.RunWarning
		res.Message = fmt.Sprintf("%d listings found, %d malformed items skipped", len(c.candidates), c.skipped)
	}
	return res
}
