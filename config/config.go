package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"listing-ingest/models"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store string // postgres | memory

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	SystemUserID       string
	StaleAfter         time.Duration
	MaxImages          int
	HTTPTimeout        time.Duration
	AdapterParallelism int
	ImageWorkers       int

	MaxRetries  int
	RateLimitMs int
	UserAgent   string
	ChromeBin   string

	ScrapersFile    string
	SnapshotCSVPath string

	GeocoderURL       string
	GeocoderUserAgent string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PublicBaseURL string

	HTTPAddr      string
	AdminToken    string
	CycleInterval time.Duration
	Debug         bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		Store: strings.ToLower(getEnv("STORE", "postgres")),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "ingest"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "ingest123"),
		PostgresDB:       getEnv("POSTGRES_DB", "listings_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		SystemUserID:       getEnv("SYSTEM_USER_ID", "00000000-0000-0000-0000-000000000001"),
		StaleAfter:         getEnvDuration("STALE_AFTER", 21*24*time.Hour),
		MaxImages:          getEnvInt("MAX_IMAGES", 15),
		HTTPTimeout:        getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		AdapterParallelism: getEnvInt("ADAPTER_PARALLELISM", 1),
		ImageWorkers:       getEnvInt("IMAGE_WORKERS", 4),

		MaxRetries:  getEnvInt("MAX_RETRIES", 3),
		RateLimitMs: getEnvInt("RATE_LIMIT_MS", 1000),
		UserAgent:   getEnv("USER_AGENT", ""),
		ChromeBin:   getEnv("CHROME_BIN", ""),

		ScrapersFile:    getEnv("SCRAPERS_FILE", "./scrapers.yaml"),
		SnapshotCSVPath: getEnv("SNAPSHOT_CSV_PATH", ""),

		GeocoderURL:       getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "listing-ingest/1.0"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "listing-events"),

		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("S3_REGION", "eu-west-1"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),
		CycleInterval: getEnvDuration("CYCLE_INTERVAL", 0),
		Debug:         getEnvBool("DEBUG", false),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

type scrapersFile struct {
	Scrapers []*models.ScraperConfig `yaml:"scrapers"`
}

// LoadScrapers reads scraper definitions from a YAML file. Order in the file
// is the run order.
func LoadScrapers(path string) ([]*models.ScraperConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f scrapersFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Scrapers))
	for i, s := range f.Scrapers {
		if s.ID == "" || s.Kind == "" {
			return nil, fmt.Errorf("config: scraper #%d needs both id and kind", i+1)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("config: duplicate scraper id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Settings == nil {
			s.Settings = map[string]string{}
		}
		s.Position = i
	}
	return f.Scrapers, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "504h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
