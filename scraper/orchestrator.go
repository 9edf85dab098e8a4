package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"flat_scrooper/config"
	"flat_scrooper/extract"
	"flat_scrooper/logging"
	"flat_scrooper/models"
	"flat_scrooper/services"
	"flat_scrooper/storage"
)

// Orchestrator runs search, fetch, extract and reconcile for configured
// sites. Runs and logs are recorded in the operational SQLite store.
type Orchestrator struct {
	cfg      *config.Config
	store    *storage.SQLiteStore
	listings *services.ListingService
	engine   *extract.Engine
	handlers map[string]Handler

	mu       sync.Mutex
	paused   bool
	running  map[string]bool
	liveness func()
	exporter func(ctx context.Context, path string) error
}

func NewOrchestrator(cfg *config.Config, store *storage.SQLiteStore, listings *services.ListingService, engine *extract.Engine, handlers map[string]Handler) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		listings: listings,
		engine:   engine,
		handlers: handlers,
		running:  make(map[string]bool),
	}
}

// SetLivenessTrigger registers the hook behind the run_liveness command
func (o *Orchestrator) SetLivenessTrigger(fn func()) {
	o.liveness = fn
}

// SetExporter registers the hook behind the export_listings command
func (o *Orchestrator) SetExporter(fn func(ctx context.Context, path string) error) {
	o.exporter = fn
}

func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		log.Println("Scraper is paused, skipping run")
		return nil
	}

	var errs []error
	for _, siteID := range o.GetSiteIDs() {
		if _, err := o.RunSite(ctx, siteID); err != nil {
			log.Printf("Error running site %s: %v", siteID, err)
			errs = append(errs, fmt.Errorf("%s: %w", siteID, err))
		}
	}
	return errors.Join(errs...)
}

// RunSite scrapes one site: every search URL, then each distinct offer up
// to the site's cap, fetched and processed by a bounded worker pool.
func (o *Orchestrator) RunSite(ctx context.Context, siteID string) (*models.ScrapeRun, error) {
	siteCfg, ok := o.cfg.Sites[siteID]
	if !ok {
		return nil, fmt.Errorf("unknown site: %s", siteID)
	}
	handler, ok := o.handlers[siteID]
	if !ok {
		return nil, fmt.Errorf("no handler for site: %s", siteID)
	}
	if !o.claim(siteID) {
		return nil, fmt.Errorf("site %s is already running", siteID)
	}
	defer o.release(siteID)

	run := &models.ScrapeRun{
		SiteID:    siteID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	runID, err := o.store.CreateRun(run)
	if err != nil {
		return nil, err
	}
	run.ID = runID

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scrape for %s", siteCfg.Name), siteID)

	stats := &services.ProcessStats{}
	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		run.ListingsNew = stats.ListingsNew
		run.ListingsUpdate = stats.ListingsUpdated
		run.PriceChanges = stats.PriceChanges
		run.ErrorsCount = stats.Errors
		if err := o.store.UpdateRun(run); err != nil {
			log.Printf("Warning: failed to update run %d: %v", run.ID, err)
		}
	}()

	offers, searchErrs := o.collectOffers(ctx, run, handler, siteCfg)
	run.OffersFound = len(offers)
	for range searchErrs {
		stats.AddError()
	}
	if len(offers) == 0 && searchErrs > 0 {
		run.Status = models.RunStatusFailed
		return run, fmt.Errorf("all %d search pages failed", searchErrs)
	}

	workers := o.cfg.Scraper.Workers
	if workers < 1 {
		workers = 1
	}
	delay := time.Duration(siteCfg.RateLimitMS) * time.Millisecond
	if delay == 0 {
		delay = time.Duration(o.cfg.Scraper.DelayMS) * time.Millisecond
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, offer := range offers {
		if i > 0 && delay > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(delay):
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := o.processOffer(gctx, handler, offer, stats); err != nil {
				stats.AddError()
				o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Offer %s: %v", offer.URL, err), siteID)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		run.Status = models.RunStatusFailed
		o.log(run.ID, models.LogLevelWarn, "Run cancelled", siteID)
		return run, err
	}

	run.Status = models.RunStatusCompleted
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d offers, %d new, %d updated, %d price changes, %d errors",
			len(offers), stats.ListingsNew, stats.ListingsUpdated, stats.PriceChanges, stats.Errors), siteID)
	return run, nil
}

// collectOffers searches every configured URL and returns distinct offers
// capped at the site limit, plus the number of failed searches
func (o *Orchestrator) collectOffers(ctx context.Context, run *models.ScrapeRun, handler Handler, siteCfg *config.SiteConfig) ([]Offer, int) {
	limit := siteCfg.MaxOffers
	if limit <= 0 {
		limit = o.cfg.Scraper.MaxOffers
	}

	seen := make(map[string]bool)
	var offers []Offer
	failed := 0
	for _, searchURL := range siteCfg.SearchURLs {
		if ctx.Err() != nil {
			break
		}
		found, err := handler.Search(ctx, searchURL)
		if err != nil {
			failed++
			o.log(run.ID, models.LogLevelError, fmt.Sprintf("Search error for %s: %v", searchURL, err), siteCfg.ID)
			continue
		}
		o.log(run.ID, models.LogLevelDebug, fmt.Sprintf("Search %s: %d offers", searchURL, len(found)), siteCfg.ID)

		for _, offer := range found {
			if seen[offer.ExternalID] {
				continue
			}
			seen[offer.ExternalID] = true
			offers = append(offers, offer)
		}
	}

	if limit > 0 && len(offers) > limit {
		offers = offers[:limit]
	}
	return offers, failed
}

func (o *Orchestrator) processOffer(ctx context.Context, handler Handler, offer Offer, stats *services.ProcessStats) error {
	doc, err := handler.Fetch(ctx, offer.URL)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	listing, err := o.engine.Extract(doc)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	result, err := o.listings.ProcessListing(ctx, listing)
	if err != nil {
		return err
	}
	stats.Aggregate(result)
	return nil
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := o.store.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		return o.RunAll(ctx)
	case models.CmdScrapeSite:
		if params.Site != "" {
			_, err := o.RunSite(ctx, params.Site)
			return err
		}
		return o.RunAll(ctx)
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Scraper paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Scraper resumed")
	case models.CmdRunLiveness:
		if o.liveness == nil {
			return fmt.Errorf("liveness worker not configured")
		}
		o.liveness()
		log.Println("Liveness worker triggered via command")
	case models.CmdExportListings:
		if o.exporter == nil {
			return fmt.Errorf("exporter not configured")
		}
		if params.Path == "" {
			return fmt.Errorf("export_listings needs a path")
		}
		return o.exporter(ctx, params.Path)
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = p
}

func (o *Orchestrator) claim(siteID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[siteID] {
		return false
	}
	o.running[siteID] = true
	return true
}

func (o *Orchestrator) release(siteID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, siteID)
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, siteID string) {
	if !logging.Enabled(level) {
		return
	}
	logging.Logf(level, "%s: %s", siteID, message)
	if err := o.store.Log(&runID, level, message, siteID); err != nil {
		log.Printf("Warning: failed to store log line: %v", err)
	}
}

func (o *Orchestrator) GetSiteIDs() []string {
	var ids []string
	for id := range o.cfg.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) MarshalStatus() ([]byte, error) {
	o.mu.Lock()
	running := make([]string, 0, len(o.running))
	for id := range o.running {
		running = append(running, id)
	}
	paused := o.paused
	o.mu.Unlock()
	sort.Strings(running)

	status := map[string]interface{}{
		"paused":  paused,
		"sites":   o.GetSiteIDs(),
		"running": running,
	}
	return json.Marshal(status)
}
