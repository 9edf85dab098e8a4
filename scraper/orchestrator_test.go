package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"flat_scrooper/config"
	"flat_scrooper/extract"
	"flat_scrooper/httputil"
	"flat_scrooper/models"
	"flat_scrooper/services"
	"flat_scrooper/storage"
)

type testSite struct {
	srv   *httptest.Server
	price atomic.Value
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	site := &testSite{}
	site.price.Store("6 500 000")
	search := loadFixture(t, "search_page.html")

	mux := http.NewServeMux()
	mux.HandleFunc("/cat.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write(search)
	})
	mux.HandleFunc("/sale/flat/1001/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>
			<h1>2-комн. квартира, 45 м², 3/5 этаж</h1>
			<span data-mark="MainPrice">%s ₽</span>
			<p>Год постройки: 1968. Метро Купчино, 7 минут пешком.</p>
		</body></html>`, site.price.Load())
	})
	mux.HandleFunc("/sale/flat/1002/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/sale/newbuilding/1003/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<h1>1-комн. квартира, 36 м², 10/24 этаж</h1>
			<span data-mark="MainPrice">9 200 000 ₽</span>
			<p>Новостройка от застройщика. Срок сдачи: 2027.</p>
		</body></html>`))
	})
	mux.HandleFunc("/sale/flat/1004/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body> </body></html>`))
	})
	site.srv = httptest.NewServer(mux)
	t.Cleanup(site.srv.Close)
	return site
}

func newTestOrchestrator(t *testing.T, site *testSite) (*Orchestrator, *storage.SQLiteStore) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "scraper.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine, err := extract.NewEngine(extract.DefaultOptions())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	siteCfg := &config.SiteConfig{
		ID:         "test_spb",
		Name:       "Test SPb",
		Handler:    "http",
		SearchURLs: []string{site.srv.URL + "/cat.php"},
		MaxOffers:  10,
	}
	cfg := &config.Config{
		Scraper: config.ScraperConfig{Workers: 2},
		Sites:   map[string]*config.SiteConfig{siteCfg.ID: siteCfg},
	}

	clients := httputil.NewClients(config.ProxyConfig{}, cfg.Scraper)
	handler, err := NewHandler(siteCfg, clients)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	listings := services.NewListingService(store, nil)
	o := NewOrchestrator(cfg, store, listings, engine, map[string]Handler{siteCfg.ID: handler})
	return o, store
}

func TestRunSite(t *testing.T) {
	site := newTestSite(t)
	o, store := newTestOrchestrator(t, site)
	ctx := context.Background()

	run, err := o.RunSite(ctx, "test_spb")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.OffersFound != 4 || run.ListingsNew != 2 || run.ErrorsCount != 2 {
		t.Fatalf("unexpected run counters %+v", run)
	}

	l, err := store.GetListing(ctx, "1001")
	if err != nil || l == nil {
		t.Fatalf("expected listing 1001, got %v, %v", l, err)
	}
	if *l.Price != 6500000 || *l.BuildingType != models.BuildingKhrushchevEra || *l.MetroStation != "Купчино" {
		t.Fatalf("unexpected listing %+v", l.ExtractedListing)
	}
	nb, _ := store.GetListing(ctx, "1003")
	if nb == nil || nb.Category == nil || *nb.Category != models.CategoryNewConstruction {
		t.Fatalf("expected new construction listing 1003, got %+v", nb)
	}

	site.price.Store("6 300 000")
	run, err = o.RunSite(ctx, "test_spb")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run.ListingsNew != 0 || run.ListingsUpdate != 2 || run.PriceChanges != 1 {
		t.Fatalf("unexpected second run counters %+v", run)
	}

	history, _ := store.PriceHistory(ctx, "1001")
	if len(history) != 1 || history[0].Price != 6300000 {
		t.Fatalf("expected one price change, got %+v", history)
	}

	runs, _ := store.RecentRuns(10)
	if len(runs) != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", len(runs))
	}
	logs, _ := store.RecentLogs(100)
	if len(logs) == 0 {
		t.Fatalf("expected run logs to be stored")
	}
}

func TestRunSite_SearchFailure(t *testing.T) {
	site := newTestSite(t)
	o, _ := newTestOrchestrator(t, site)
	o.cfg.Sites["test_spb"].SearchURLs = []string{site.srv.URL + "/missing"}

	run, err := o.RunSite(context.Background(), "test_spb")
	if err == nil {
		t.Fatalf("expected error when every search fails")
	}
	if run.Status != models.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}

	if _, err := o.RunSite(context.Background(), "nope"); err == nil {
		t.Fatalf("expected unknown site error")
	}
}

func TestRunSite_OfferCap(t *testing.T) {
	site := newTestSite(t)
	o, _ := newTestOrchestrator(t, site)
	o.cfg.Sites["test_spb"].MaxOffers = 1

	run, err := o.RunSite(context.Background(), "test_spb")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.OffersFound != 1 || run.ListingsNew != 1 {
		t.Fatalf("expected a single capped offer, got %+v", run)
	}
}

func TestHandleCommand(t *testing.T) {
	site := newTestSite(t)
	o, store := newTestOrchestrator(t, site)
	ctx := context.Background()

	var triggered int
	o.SetLivenessTrigger(func() { triggered++ })
	var exported string
	o.SetExporter(func(_ context.Context, path string) error {
		exported = path
		return nil
	})

	o.HandleCommand(ctx, &models.Command{Command: models.CmdPause})
	if !o.IsPaused() {
		t.Fatalf("expected paused")
	}
	if err := o.RunAll(ctx); err != nil {
		t.Fatalf("paused RunAll: %v", err)
	}
	if runs, _ := store.RecentRuns(10); len(runs) != 0 {
		t.Fatalf("paused scraper must not run, got %d runs", len(runs))
	}

	o.HandleCommand(ctx, &models.Command{Command: models.CmdResume})
	if o.IsPaused() {
		t.Fatalf("expected resumed")
	}

	if err := o.HandleCommand(ctx, &models.Command{Command: models.CmdRunLiveness}); err != nil || triggered != 1 {
		t.Fatalf("expected liveness trigger, got %d, %v", triggered, err)
	}

	params, _ := json.Marshal(models.CommandParams{Path: "out/listings.csv"})
	if err := o.HandleCommand(ctx, &models.Command{Command: models.CmdExportListings, Params: params}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported != "out/listings.csv" {
		t.Fatalf("expected export path, got %q", exported)
	}
	if err := o.HandleCommand(ctx, &models.Command{Command: models.CmdExportListings}); err == nil {
		t.Fatalf("expected error for export without path")
	}

	params, _ = json.Marshal(models.CommandParams{Site: "test_spb"})
	if err := o.HandleCommand(ctx, &models.Command{Command: models.CmdScrapeSite, Params: params}); err != nil {
		t.Fatalf("scrape_site: %v", err)
	}
	if runs, _ := store.RecentRuns(10); len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}

	status, _ := o.MarshalStatus()
	var decoded map[string]any
	json.Unmarshal(status, &decoded)
	if decoded["paused"] != false {
		t.Fatalf("unexpected status %s", status)
	}
}
