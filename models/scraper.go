package models

import "time"

// RunStatus is the outcome of one adapter invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunWarning RunStatus = "warning"
	RunError   RunStatus = "error"
)

// ScraperConfig describes one external source and its bookkeeping.
type ScraperConfig struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind"`
	BaseURL  string            `yaml:"base_url"`
	Schedule string            `yaml:"schedule"`
	IsActive bool              `yaml:"active"`
	Settings map[string]string `yaml:"settings"`
	Position int               `yaml:"-"`

	LastRunAt       *time.Time `yaml:"-"`
	LastRunStatus   RunStatus  `yaml:"-"`
	LastRunMessage  string     `yaml:"-"`
	PropertiesFound int        `yaml:"-"`
}

// Setting returns a named adapter setting or fallback.
func (c *ScraperConfig) Setting(key, fallback string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// ScraperRunLog is an append-only record of one adapter run.
type ScraperRunLog struct {
	ID        int64
	ScraperID string
	Status    RunStatus
	Message   string
	Count     int
	Duration  time.Duration
	CreatedAt time.Time
}
