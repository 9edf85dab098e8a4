package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flat_scrooper/api"
	"flat_scrooper/config"
	"flat_scrooper/extract"
	"flat_scrooper/httputil"
	"flat_scrooper/logging"
	"flat_scrooper/models"
	"flat_scrooper/scheduler"
	"flat_scrooper/scraper"
	"flat_scrooper/services"
	"flat_scrooper/storage"
	"flat_scrooper/tui"
	"flat_scrooper/workers"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run scrape once and exit")
	siteID     = flag.String("site", "", "With -scrape, run only this site")
	filePath   = flag.String("file", "", "Extract a saved listing page and print the result")
	pageURL    = flag.String("url", "", "Fetch and extract one listing page and print the result; with -file, the page's source URL")
	ingest     = flag.Bool("ingest", false, "With -file or -url, also store the extracted listing")
	exportPath = flag.String("export", "", "Export listings to a .csv or .json file and exit")
	activeOnly = flag.Bool("active", false, "With -export, only include active listings")
	upload     = flag.Bool("upload", false, "With -export, upload the file to S3")
	showStats  = flag.Bool("stats", false, "Print field coverage of stored listings and exit")
	dashboard  = flag.Bool("tui", false, "Open the terminal dashboard against the configured stores")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	logging.SetLevel(models.ParseLogLevel(cfg.LogLevel))

	log.Println("Starting flat_scrooper...")
	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for id, site := range cfg.Sites {
		log.Printf("  - %s (%s, %s)", site.Name, id, site.Handler)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	listingStore, err := openListingStore(ctx, cfg, sqliteStore)
	if err != nil {
		log.Fatalf("Failed to open listing store: %v", err)
	}
	defer listingStore.Close()

	engine, err := extract.NewEngine(extract.Options{
		AllowDefaultBuildingType: cfg.Extraction.AllowDefaultBuildingType,
		DefaultBuildingType:      models.BuildingType(cfg.Extraction.DefaultBuildingType),
		NewConstructionYears:     cfg.Extraction.NewConstructionYears,
		Now:                      time.Now,
	})
	if err != nil {
		log.Fatalf("Invalid extraction config: %v", err)
	}

	clients := httputil.NewClients(cfg.Proxy, cfg.Scraper)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	listingService := services.NewListingService(listingStore, nil)
	exports := newExporter(cfg, listingStore)

	switch {
	case *dashboard:
		// stdout belongs to the dashboard
		if logFile != nil {
			log.SetOutput(logFile)
		} else {
			log.SetOutput(io.Discard)
		}
		if err := tui.Run(tui.NewSource(sqliteStore, listingStore)); err != nil {
			log.Fatalf("Dashboard failed: %v", err)
		}
		return
	case *showStats:
		if err := printStats(ctx, listingStore); err != nil {
			log.Fatalf("Stats failed: %v", err)
		}
		return
	case *exportPath != "":
		if err := exports.run(ctx, *exportPath, *activeOnly, *upload); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		return
	case *filePath != "" || *pageURL != "":
		if err := explainPage(ctx, engine, clients.Scraping, listingService); err != nil {
			log.Fatalf("Extraction failed: %v", err)
		}
		return
	}

	handlers, err := buildHandlers(cfg, clients)
	if err != nil {
		log.Fatalf("Failed to build site handlers: %v", err)
	}
	defer closeHandlers(handlers)

	orchestrator := scraper.NewOrchestrator(cfg, sqliteStore, listingService, engine, handlers)
	orchestrator.SetExporter(func(ctx context.Context, path string) error {
		return exports.run(ctx, path, false, cfg.S3.Bucket != "")
	})

	livenessService := services.NewLivenessService(listingStore, listingService)
	livenessWorker := workers.NewLivenessWorker(livenessService, engine, clients.Liveness,
		time.Duration(cfg.Liveness.DelayMS)*time.Millisecond)
	livenessWorker.SetLogger(func(level models.LogLevel, source, message string) {
		logging.Logf(level, "%s: %s", source, message)
		if err := sqliteStore.Log(nil, level, message, source); err != nil {
			log.Printf("Warning: failed to store log line: %v", err)
		}
	})
	orchestrator.SetLivenessTrigger(livenessWorker.Trigger)

	if *scrapeNow {
		log.Println("Running scrape...")
		if *siteID != "" {
			_, err = orchestrator.RunSite(ctx, *siteID)
		} else {
			err = orchestrator.RunAll(ctx)
		}
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Println("Scrape complete!")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	livenessInterval := cfg.Liveness.Interval
	if livenessInterval <= 0 {
		// Only the run_liveness command wakes the worker
		livenessInterval = 24 * 365 * time.Hour
	}
	go livenessWorker.Run(ctx, cfg.Liveness.StaleAfter, cfg.Liveness.BatchSize, livenessInterval)
	log.Printf("Liveness worker started (stale after %s, batch %d)", cfg.Liveness.StaleAfter, cfg.Liveness.BatchSize)

	if cfg.API.Addr != "" {
		server := api.NewServer(listingStore, sqliteStore, orchestrator.MarshalStatus)
		go func() {
			if err := server.ListenAndServe(ctx, cfg.API.Addr); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// openListingStore returns the SQLite store itself or a Postgres store,
// depending on STORE
func openListingStore(ctx context.Context, cfg *config.Config, sqliteStore *storage.SQLiteStore) (storage.ListingStore, error) {
	if cfg.Store.Driver != "postgres" {
		return nopCloser{sqliteStore}, nil
	}
	pgStore, err := storage.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Store.DatabaseURL))
	return pgStore, nil
}

// nopCloser keeps the shared SQLite handle open until main closes it
type nopCloser struct {
	*storage.SQLiteStore
}

func (nopCloser) Close() error { return nil }

func buildHandlers(cfg *config.Config, clients *httputil.Clients) (map[string]scraper.Handler, error) {
	handlers := make(map[string]scraper.Handler, len(cfg.Sites))
	for id, site := range cfg.Sites {
		h, err := scraper.NewHandler(site, clients)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", id, err)
		}
		handlers[id] = h
	}
	return handlers, nil
}

func closeHandlers(handlers map[string]scraper.Handler) {
	for _, h := range handlers {
		if b, ok := h.(*scraper.BrowserHandler); ok {
			b.Close()
		}
	}
}

type exporter struct {
	store storage.ListingStore
	s3    storage.S3Config
}

func newExporter(cfg *config.Config, store storage.ListingStore) *exporter {
	return &exporter{
		store: store,
		s3: storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
		},
	}
}

func (e *exporter) run(ctx context.Context, path string, activeOnly, upload bool) error {
	n, err := storage.ExportFile(ctx, e.store, path, activeOnly)
	if err != nil {
		return err
	}
	log.Printf("Exported %d listings to %s", n, path)

	if !upload {
		return nil
	}
	if !e.s3.Enabled() {
		return fmt.Errorf("upload requested but S3_BUCKET is not set")
	}
	uploader, err := storage.NewS3Uploader(ctx, e.s3)
	if err != nil {
		return err
	}
	key, err := uploader.UploadFile(ctx, path, time.Now())
	if err != nil {
		return err
	}
	log.Printf("Uploaded %s to %s", path, uploader.PublicURL(key))
	return nil
}

func printStats(ctx context.Context, store storage.ListingStore) error {
	listings, err := store.ListListings(ctx, false)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(storage.ComputeCoverage(listings))
}

// explainPage extracts one page given by -file or -url and prints the
// listing with the strategy behind each field
func explainPage(ctx context.Context, engine *extract.Engine, client *http.Client, listings *services.ListingService) error {
	var (
		body      io.ReadCloser
		sourceURL = *pageURL
	)
	if *filePath != "" {
		if sourceURL == "" {
			sourceURL = "file://" + *filePath
		}
		f, err := os.Open(*filePath)
		if err != nil {
			return err
		}
		body = f
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, *pageURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		body = resp.Body
		sourceURL = resp.Request.URL.String()
	}
	defer body.Close()

	doc, err := extract.ParseDocument(body, sourceURL)
	if err != nil {
		return err
	}
	listing, provenance, err := engine.Explain(doc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"listing": listing, "provenance": provenance}); err != nil {
		return err
	}

	if *ingest {
		result, err := listings.ProcessListing(ctx, listing)
		if err != nil {
			return err
		}
		log.Printf("Stored %s: %s (price changed: %v)", result.ExternalID, result.Action, result.PriceChanged)
	}
	return nil
}

// maskConnectionString hides the password in a connection string or proxy URL
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
