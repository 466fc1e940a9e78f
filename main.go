package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricebasket/config"
	"pricebasket/logging"
	"pricebasket/scheduler"
	"pricebasket/scraper"
	"pricebasket/services"
	"pricebasket/storage"
	"pricebasket/workers"
)

var (
	scrapeNow   = flag.Bool("scrape", false, "Run scrape once and exit")
	sourceID    = flag.Int64("source", 0, "Scrape a single source by id (with -scrape)")
	concurrency = flag.Int("concurrency", 0, "Worker pool size, overrides SCRAPE_CONCURRENCY")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting pricebasket...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *concurrency > 0 {
		cfg.Scraper.Concurrency = *concurrency
	}

	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (%d, %s)", src.Name, id, src.Adapter)
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))

	opsStore, err := storage.NewSQLiteStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatalf("Failed to open ops database: %v", err)
	}
	defer opsStore.Close()
	log.Printf("Ops database: %s", cfg.OpsDBPath)

	reconciler := services.NewReconcileService(pgStore)
	orchestrator := scraper.NewOrchestrator(cfg, pgStore, opsStore, reconciler)

	if *scrapeNow {
		if *sourceID != 0 {
			log.Printf("Running scrape for source %d...", *sourceID)
			result, err := orchestrator.RunSource(ctx, *sourceID)
			if err != nil {
				log.Fatalf("Scrape failed: %v", err)
			}
			log.Printf("Scrape complete: %s, %d scraped, %d failed",
				result.Status, result.ProductsScraped, result.ProductsFailed)
			return
		}

		log.Println("Running scrape for all active sources...")
		results, err := orchestrator.RunAll(ctx, cfg.Scraper.Concurrency)
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		for _, r := range results {
			log.Printf("  %s: %s, %d scraped, %d failed",
				r.SourceName, r.Status, r.ProductsScraped, r.ProductsFailed)
		}
		log.Println("Scrape complete!")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, opsStore)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	var uploader workers.Uploader
	if cfg.S3.Bucket != "" {
		s3up, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to configure S3: %v", err)
		}
		uploader = s3up
		log.Printf("Image mirroring to bucket %s", cfg.S3.Bucket)
	} else {
		uploader = workers.NewNoOpUploader()
		log.Println("No S3 bucket configured, image mirroring disabled")
	}

	imageWorker := workers.NewImageWorker(pgStore, uploader)
	go imageWorker.Run(ctx, 20, 2*time.Minute)
	log.Println("Image worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
