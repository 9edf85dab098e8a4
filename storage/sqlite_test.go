package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flat_scrooper/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func int64Ptr(v int64) *int64 { return &v }

func testListing(id string, price *int64) *models.ExtractedListing {
	station := "Купчино"
	building := models.BuildingBrick
	year := 1962
	area := 45.5
	return &models.ExtractedListing{
		ExternalID:   id,
		URL:          "https://spb.cian.ru/sale/flat/" + id + "/",
		Title:        "2-комн. квартира",
		Price:        price,
		AreaTotal:    &area,
		YearBuilt:    &year,
		BuildingType: &building,
		MetroStation: &station,
	}
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := store.GetListing(ctx, "100")
	if err != nil || got != nil {
		t.Fatalf("expected nil for unknown listing, got %v, %v", got, err)
	}

	if err := store.ApplyReconcile(ctx, testListing("100", int64Ptr(12500000)), models.ActionInsert, nil, now); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err = store.GetListing(ctx, "100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatalf("expected stored listing")
	}
	if got.Price == nil || *got.Price != 12500000 {
		t.Fatalf("expected price 12500000, got %v", got.Price)
	}
	if got.BuildingType == nil || *got.BuildingType != models.BuildingBrick {
		t.Fatalf("expected brick, got %v", got.BuildingType)
	}
	if got.MetroTimeMinutes != nil || got.District != nil {
		t.Fatalf("null attributes must stay null")
	}
	if !got.IsActive {
		t.Fatalf("new listing should be active")
	}
	if !got.FirstSeenAt.Equal(now) || !got.LastSeenAt.Equal(now) {
		t.Fatalf("unexpected timestamps %v %v", got.FirstSeenAt, got.LastSeenAt)
	}

	history, err := store.PriceHistory(ctx, "100")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("insert must not write history, got %d events", len(history))
	}
}

func TestSQLiteStore_DuplicateInsertFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	if err := store.ApplyReconcile(ctx, testListing("7", nil), models.ActionInsert, nil, now); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.ApplyReconcile(ctx, testListing("7", nil), models.ActionInsert, nil, now); err == nil {
		t.Fatalf("expected unique constraint violation")
	}
}

func TestSQLiteStore_UpdateWithHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	first := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	if err := store.ApplyReconcile(ctx, testListing("200", int64Ptr(10000000)), models.ActionInsert, nil, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated := testListing("200", int64Ptr(9500000))
	updated.BuildingType = nil
	event := &models.PriceHistoryEvent{
		ExternalID: "200",
		Price:      9500000,
		ObservedAt: second,
		ChangeType: models.ChangeTypeUpdate,
	}
	if err := store.ApplyReconcile(ctx, updated, models.ActionUpdate, event, second); err != nil {
		t.Fatalf("update: %v", err)
	}
	if event.ID == 0 {
		t.Fatalf("expected event id to be assigned")
	}

	got, _ := store.GetListing(ctx, "200")
	if *got.Price != 9500000 {
		t.Fatalf("expected updated price, got %d", *got.Price)
	}
	if got.BuildingType != nil {
		t.Fatalf("update overwrites attributes, expected nil building type")
	}
	if !got.FirstSeenAt.Equal(first) || !got.LastSeenAt.Equal(second) {
		t.Fatalf("expected first seen kept and last seen advanced, got %v %v", got.FirstSeenAt, got.LastSeenAt)
	}

	history, _ := store.PriceHistory(ctx, "200")
	if len(history) != 1 {
		t.Fatalf("expected 1 history event, got %d", len(history))
	}
	if history[0].Price != 9500000 || history[0].ChangeType != "update" {
		t.Fatalf("unexpected event %+v", history[0])
	}
}

func TestSQLiteStore_UpdateUnknownListing(t *testing.T) {
	store := newTestStore(t)
	err := store.ApplyReconcile(context.Background(), testListing("404", nil), models.ActionUpdate, nil, time.Now())
	if !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestSQLiteStore_HistoryRolledBackWithFailedWrite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	event := &models.PriceHistoryEvent{ExternalID: "555", Price: 1, ObservedAt: time.Now(), ChangeType: "update"}
	if err := store.ApplyReconcile(ctx, testListing("555", int64Ptr(1)), models.ActionUpdate, event, time.Now()); err == nil {
		t.Fatalf("expected update of unknown listing to fail")
	}

	history, _ := store.PriceHistory(ctx, "555")
	if len(history) != 0 {
		t.Fatalf("history must not be written when the row write fails")
	}
}

func TestSQLiteStore_Liveness(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	old := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)

	store.ApplyReconcile(ctx, testListing("1", nil), models.ActionInsert, nil, old)
	store.ApplyReconcile(ctx, testListing("2", nil), models.ActionInsert, nil, fresh)
	store.ApplyReconcile(ctx, testListing("3", nil), models.ActionInsert, nil, old.Add(time.Hour))

	stale, err := store.StaleActive(ctx, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), 10)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 2 || stale[0].ExternalID != "1" || stale[1].ExternalID != "3" {
		t.Fatalf("expected listings 1 and 3 oldest first, got %+v", stale)
	}

	if err := store.MarkInactive(ctx, "1"); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	if err := store.TouchListing(ctx, "3", fresh); err != nil {
		t.Fatalf("touch: %v", err)
	}

	stale, _ = store.StaleActive(ctx, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), 10)
	if len(stale) != 0 {
		t.Fatalf("expected no stale listings, got %d", len(stale))
	}

	active, _ := store.ListListings(ctx, true)
	if len(active) != 2 {
		t.Fatalf("expected 2 active listings, got %d", len(active))
	}
	all, _ := store.ListListings(ctx, false)
	if len(all) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(all))
	}

	// a listing seen again by a scrape becomes active
	if err := store.ApplyReconcile(ctx, testListing("1", nil), models.ActionUpdate, nil, fresh); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := store.GetListing(ctx, "1")
	if !got.IsActive {
		t.Fatalf("expected listing reactivated by update")
	}
}

func TestSQLiteStore_RunsLogsCommands(t *testing.T) {
	store := newTestStore(t)

	run := &models.ScrapeRun{SiteID: "cian_spb", StartedAt: time.Now(), Status: models.RunStatusRunning}
	id, err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	run.ID = id
	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.OffersFound = 12
	run.ListingsNew = 10
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	runs, err := store.RecentRuns(5)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunStatusCompleted || runs[0].OffersFound != 12 {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].FinishedAt == nil {
		t.Fatalf("expected finished_at to be set")
	}

	if err := store.Log(&id, models.LogLevelWarn, "offer page empty", "cian_spb"); err != nil {
		t.Fatalf("log: %v", err)
	}
	logs, _ := store.RecentLogs(10)
	if len(logs) != 1 || logs[0].Level != models.LogLevelWarn || *logs[0].RunID != id {
		t.Fatalf("unexpected logs %+v", logs)
	}

	if _, err := store.AddCommand(models.CmdScrapeSite, &models.CommandParams{Site: "cian_spb"}); err != nil {
		t.Fatalf("add command: %v", err)
	}
	if _, err := store.AddCommand(models.CmdPause, nil); err != nil {
		t.Fatalf("add command: %v", err)
	}

	cmds, err := store.GetPendingCommands()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 pending commands, got %d", len(cmds))
	}
	params, err := store.ParseCommandParams(&cmds[0])
	if err != nil || params.Site != "cian_spb" {
		t.Fatalf("expected site param, got %+v, %v", params, err)
	}
	params, err = store.ParseCommandParams(&cmds[1])
	if err != nil || params.Site != "" {
		t.Fatalf("expected empty params, got %+v, %v", params, err)
	}

	store.MarkCommandProcessed(cmds[0].ID)
	cmds, _ = store.GetPendingCommands()
	if len(cmds) != 1 || cmds[0].Command != models.CmdPause {
		t.Fatalf("expected only pause pending, got %+v", cmds)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store.ApplyReconcile(ctx, testListing("42", int64Ptr(7990000)), models.ActionInsert, nil, now)
	store.ApplyReconcile(ctx, testListing("43", nil), models.ActionInsert, nil, now)

	listings, _ := store.ListListings(ctx, false)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, listings); err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "42,https://spb.cian.ru/sale/flat/42/,2-комн. квартира,,7990000,") {
		t.Fatalf("unexpected csv row %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "43,https://spb.cian.ru/sale/flat/43/,2-комн. квартира,,,") {
		t.Fatalf("null price must be an empty cell, got %q", lines[2])
	}

	path := filepath.Join(t.TempDir(), "out", "listings.json")
	n, err := ExportFile(ctx, store, path, false)
	if err != nil || n != 2 {
		t.Fatalf("export: %d, %v", n, err)
	}

	buf.Reset()
	WriteJSON(&buf, listings)
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if decoded[1]["price"] != nil {
		t.Fatalf("null price must serialize as null, got %v", decoded[1]["price"])
	}
	if decoded[0]["metro_station"] != "Купчино" {
		t.Fatalf("unexpected metro station %v", decoded[0]["metro_station"])
	}

	if _, err := ExportFile(ctx, store, filepath.Join(t.TempDir(), "x.xml"), false); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestComputeCoverage(t *testing.T) {
	panel := models.BuildingPanel
	resale := models.CategoryResale
	year := 1975
	listings := []models.StoredListing{
		{ExtractedListing: models.ExtractedListing{BuildingType: &panel, Category: &resale, YearBuilt: &year}, IsActive: true},
		{ExtractedListing: models.ExtractedListing{BuildingType: &panel}},
		{},
	}
	cov := ComputeCoverage(listings)
	if cov.Total != 3 || cov.Active != 1 || cov.WithYear != 1 {
		t.Fatalf("unexpected coverage %+v", cov)
	}
	if cov.ByBuilding[models.BuildingPanel] != 2 || cov.ByCategory[models.CategoryResale] != 1 {
		t.Fatalf("unexpected breakdown %+v", cov)
	}
}

func TestExportKey(t *testing.T) {
	got := ExportKey("/exports/", "listings.csv", time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC))
	want := "exports/2026/06/01/listings-20260601T093000Z.csv"
	if got != want {
		t.Fatalf("ExportKey = %q, want %q", got, want)
	}
}
