package workers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"flat_scrooper/extract"
	"flat_scrooper/models"
	"flat_scrooper/services"
)

const maxPageBytes = 4 << 20

// LivenessWorker re-checks stale active listings. Gone pages deactivate the
// listing; live pages are re-extracted so price changes reach the history.
type LivenessWorker struct {
	live       *services.LivenessService
	engine     *extract.Engine
	httpClient *http.Client
	delay      time.Duration
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func (w *LivenessWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// NewLivenessWorker creates a new liveness worker. The client must not
// follow redirects, a redirect away from the offer is how removals show up.
func NewLivenessWorker(live *services.LivenessService, engine *extract.Engine, client *http.Client, delay time.Duration) *LivenessWorker {
	return &LivenessWorker{
		live:       live,
		engine:     engine,
		httpClient: client,
		delay:      delay,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

// Trigger causes the worker to run immediately
func (w *LivenessWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// CheckResult contains the outcome of checking a listing
type CheckResult struct {
	IsLive     bool
	StatusCode int
	Listing    *models.ExtractedListing // re-extracted page, nil for HEAD or empty pages
	Error      error
}

// Check fetches a listing URL and determines if it's still published
func (w *LivenessWorker) Check(ctx context.Context, listingURL string) CheckResult {
	result := w.checkWithGET(ctx, listingURL)
	if result.Error == nil {
		return result
	}
	log.Printf("Liveness: GET failed for %s: %v, trying HEAD request", listingURL, result.Error)
	return w.checkWithHEAD(ctx, listingURL)
}

func (w *LivenessWorker) checkWithGET(ctx context.Context, listingURL string) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return CheckResult{Error: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return CheckResult{Error: err}
	}
	defer resp.Body.Close()

	result := classify(resp)
	if resp.StatusCode != http.StatusOK {
		return result
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return CheckResult{Error: err}
	}
	if isDelistedPage(string(body)) {
		result.IsLive = false
		return result
	}

	doc, err := extract.ParseDocument(bytes.NewReader(body), listingURL)
	if err != nil {
		return result
	}
	if listing, err := w.engine.Extract(doc); err == nil {
		result.Listing = listing
	}
	return result
}

// checkWithHEAD does a lightweight HEAD request to check if URL is still valid
func (w *LivenessWorker) checkWithHEAD(ctx context.Context, listingURL string) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, listingURL, nil)
	if err != nil {
		return CheckResult{Error: err}
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return CheckResult{Error: err}
	}
	resp.Body.Close()
	return classify(resp)
}

// classify maps a response status to liveness. Unknown codes count as live.
func classify(resp *http.Response) CheckResult {
	result := CheckResult{StatusCode: resp.StatusCode, IsLive: true}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		result.IsLive = false
	case http.StatusMovedPermanently, http.StatusFound:
		result.IsLive = !isDelistRedirect(resp.Header.Get("Location"))
	}
	return result
}

var delistIndicators = []string{
	"объявление снято с публикации",
	"объявление удалено",
	"объявление не найдено",
	"страница не найдена",
}

// isDelistedPage checks HTML content for signs the listing was removed
func isDelistedPage(html string) bool {
	lower := strings.ToLower(html)
	for _, indicator := range delistIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

var delistRedirects = []string{
	"/cat.php",
	"/search",
	"notfound",
	"not-found",
	"/error",
}

// isDelistRedirect checks if a redirect URL indicates delisting
func isDelistRedirect(location string) bool {
	lower := strings.ToLower(location)
	for _, pattern := range delistRedirects {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Run starts the liveness worker loop
func (w *LivenessWorker) Run(ctx context.Context, staleDuration time.Duration, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Liveness worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, staleDuration, batchSize)
		case <-w.triggerCh:
			log.Println("Liveness worker triggered manually")
			w.ProcessBatch(ctx, staleDuration, batchSize)
		}
	}
}

// BatchStats summarizes one liveness pass
type BatchStats struct {
	Checked      int
	Delisted     int
	PriceChanges int
	Errors       int
}

// ProcessBatch checks up to batchSize listings not seen for staleDuration
func (w *LivenessWorker) ProcessBatch(ctx context.Context, staleDuration time.Duration, batchSize int) BatchStats {
	var stats BatchStats

	listings, err := w.live.GetStaleListings(ctx, staleDuration, batchSize)
	if err != nil {
		log.Printf("Liveness: query error: %v", err)
		return stats
	}
	if len(listings) == 0 {
		return stats
	}

	log.Printf("Liveness: checking %d stale listings", len(listings))

	for i := range listings {
		if ctx.Err() != nil {
			break
		}
		listing := &listings[i]
		if listing.URL == "" {
			continue
		}

		result := w.Check(ctx, listing.URL)
		stats.Checked++

		switch {
		case result.Error != nil:
			log.Printf("Liveness: error checking %s: %v", listing.URL, result.Error)
			stats.Errors++
		case !result.IsLive:
			log.Printf("Liveness: listing delisted (status %d): %s", result.StatusCode, listing.URL)
			if err := w.live.MarkDelisted(ctx, listing); err != nil {
				log.Printf("Liveness: failed to mark delisted: %v", err)
			} else {
				stats.Delisted++
			}
		case result.Listing != nil && result.Listing.ExternalID == listing.ExternalID:
			res, err := w.live.Refresh(ctx, result.Listing)
			if err != nil {
				log.Printf("Liveness: failed to refresh %s: %v", listing.ExternalID, err)
				stats.Errors++
			} else if res.PriceChanged {
				stats.PriceChanges++
			}
		default:
			if err := w.live.TouchListing(ctx, listing); err != nil {
				log.Printf("Warning: failed to touch %s: %v", listing.ExternalID, err)
			}
		}

		if w.delay > 0 && i < len(listings)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(w.delay):
			}
		}
	}

	if stats.Delisted > 0 || stats.PriceChanges > 0 {
		log.Printf("Liveness: checked %d, delisted %d, price changes %d", stats.Checked, stats.Delisted, stats.PriceChanges)
		msg := fmt.Sprintf("Checked %d listings", stats.Checked)
		if stats.Delisted > 0 {
			msg += fmt.Sprintf(", %d delisted", stats.Delisted)
		}
		if stats.PriceChanges > 0 {
			msg += fmt.Sprintf(", %d price changes", stats.PriceChanges)
		}
		w.logFunc(models.LogLevelInfo, "liveness", msg)
	}
	return stats
}
