package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listing-ingest/api"
	"listing-ingest/cache"
	"listing-ingest/config"
	"listing-ingest/events"
	"listing-ingest/models"
	"listing-ingest/scraper"
	"listing-ingest/scraper/browser"
	"listing-ingest/scraper/htmlsite"
	"listing-ingest/scraper/jsonfeed"
	"listing-ingest/services"
	"listing-ingest/storage"
	"listing-ingest/utils"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run does the work of main and returns the exit code, so deferred closes
// happen before the process exits.
func run(args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("listing-ingest", flag.ContinueOnError)
	scraperID := flags.String("scraper", "", "run a single scraper by id instead of a full cycle")
	reset := flags.Bool("reset", false, "clear staging, run logs and counters, delete non-inactive listings")
	serve := flags.Bool("serve", false, "serve the HTTP API (and run cycles every CYCLE_INTERVAL)")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Listing ingestion starting ===")
	logger.Info("Config: store=%s | stale after %v | max images %d | adapter parallelism %d",
		cfg.Store, cfg.StaleAfter, cfg.MaxImages, cfg.AdapterParallelism)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		logger.Error("Make sure PostgreSQL is running, or set STORE=memory for a dry run")
		return 1
	}
	defer store.Close()

	if defs, err := config.LoadScrapers(cfg.ScrapersFile); err != nil {
		logger.Warn("Scraper definitions not loaded: %v", err)
	} else if err := store.EnsureScrapers(ctx, defs); err != nil {
		logger.Error("Failed to seed scraper definitions: %v", err)
	} else {
		logger.Info("Loaded %d scraper definitions from %s", len(defs), cfg.ScrapersFile)
	}

	engine, cleanup := buildEngine(ctx, cfg, store, logger)
	defer cleanup()

	switch {
	case *reset:
		sum := engine.Reset(ctx)
		fmt.Fprintf(stdout, "\n  Reset: %d staged, %d run logs, %d configs, %d listings removed\n\n",
			sum.StagingCleared, sum.RunLogsCleared, sum.ConfigsReset, sum.ListingsDeleted)
		if len(sum.Errors) > 0 {
			return 1
		}

	case *serve:
		if err := runServer(ctx, cfg, engine, logger, stdout); err != nil {
			logger.Error("HTTP server failed: %v", err)
			return 1
		}

	case *scraperID != "":
		sum, err := engine.RunScraper(ctx, *scraperID)
		if err != nil {
			logger.Error("Run %s failed: %v", *scraperID, err)
			return 1
		}
		services.PrintCycleSummary(stdout, sum)

	default:
		sum := engine.RunCycle(ctx)
		services.PrintCycleSummary(stdout, sum)
		printCatalog(ctx, stdout, store, logger)
	}
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Store, error) {
	if cfg.Store == "memory" {
		logger.Warn("Using in-memory store, nothing will be persisted")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewPostgresStore(ctx, cfg.DSN())
}

func buildEngine(ctx context.Context, cfg *config.Config, store storage.Store, logger *utils.Logger) (*services.Engine, func()) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	registry := scraper.NewRegistry(scraper.Deps{
		Logger:      logger,
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		UserAgent:   cfg.UserAgent,
		MaxRetries:  cfg.MaxRetries,
		RateLimitMs: cfg.RateLimitMs,
		ChromeBin:   cfg.ChromeBin,
	})
	registry.Register(htmlsite.Kind, htmlsite.New)
	registry.Register(jsonfeed.Kind, jsonfeed.New)
	registry.Register(browser.Kind, browser.New)

	var locker cache.Locker = cache.NewLocalLocker()
	var geoCache cache.GeoCache = cache.NewMemoryGeoCache()
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn("Redis unavailable, using in-process locks and cache: %v", err)
		} else {
			closers = append(closers, func() { client.Close() })
			locker = cache.NewRedisLocker(client, "listing-ingest:promote:")
			geoCache = cache.NewRedisGeoCache(client, 0)
			logger.Info("Redis connected at %s", cfg.RedisAddr)
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Warn("Kafka unavailable, events disabled: %v", err)
		} else {
			p := events.NewKafkaPublisher(producer, cfg.KafkaTopic)
			closers = append(closers, func() { p.Close() })
			publisher = p
			logger.Info("Publishing events to Kafka topic %s", cfg.KafkaTopic)
		}
	}

	var images storage.ImageStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3ImageStore(storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			logger.Warn("S3 unavailable, images will keep their source URLs: %v", err)
		} else {
			images = s3Store
		}
	} else if cfg.Store == "memory" {
		images = storage.NewMemoryImageStore("memory://images")
	}

	var archiver *services.ImageArchiver
	if images != nil {
		archiver = services.NewImageArchiver(images, services.ArchiverConfig{
			MaxImages: cfg.MaxImages,
			Timeout:   cfg.HTTPTimeout,
			Workers:   cfg.ImageWorkers,
			UserAgent: cfg.UserAgent,
		}, logger)
	}

	var snapshots storage.CandidateSnapshotWriter
	if cfg.SnapshotCSVPath != "" {
		w, err := storage.NewCSVSnapshotWriter(cfg.SnapshotCSVPath)
		if err != nil {
			logger.Warn("Snapshot CSV disabled: %v", err)
		} else {
			closers = append(closers, func() { w.Close() })
			snapshots = w
		}
	}

	engine := services.NewEngine(services.EngineConfig{
		SystemUserID:       cfg.SystemUserID,
		StaleAfter:         cfg.StaleAfter,
		MaxImages:          cfg.MaxImages,
		AdapterParallelism: cfg.AdapterParallelism,
	}, services.EngineDeps{
		Store:     store,
		Registry:  registry,
		Geocoder:  services.NewNominatimGeocoder(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.HTTPTimeout, geoCache, logger),
		Archiver:  archiver,
		Locker:    locker,
		Publisher: publisher,
		Snapshots: snapshots,
		Logger:    logger,
	})
	return engine, cleanup
}

func runServer(ctx context.Context, cfg *config.Config, engine *services.Engine, logger *utils.Logger, stdout io.Writer) error {
	if cfg.CycleInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.CycleInterval)
			defer ticker.Stop()
			logger.Info("Running a cycle every %v", cfg.CycleInterval)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					services.PrintCycleSummary(stdout, engine.RunCycle(ctx))
				}
			}
		}()
	}

	srv := api.NewServer(ctx, engine, cfg.AdminToken, logger)
	if err := srv.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Shut down")
	return nil
}

func printCatalog(ctx context.Context, w io.Writer, store storage.Store, logger *utils.Logger) {
	listings, err := store.ListListings(ctx, models.ListingFilter{})
	if err != nil {
		logger.Error("Failed to fetch listings for the report: %v", err)
		return
	}
	report := services.NewReportService(logger).Catalog(listings)
	services.PrintCatalogReport(w, report)
}
