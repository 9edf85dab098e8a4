package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"flat_scrooper/models"
)

var sqliteSQL = newListingSQL(false)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		price INTEGER,
		price_per_area INTEGER,
		old_price INTEGER,
		area_total REAL,
		area_living REAL,
		area_kitchen REAL,
		floor_current INTEGER,
		floor_total INTEGER,
		rooms INTEGER,
		year_built INTEGER,
		building_type TEXT,
		category TEXT,
		seller_type TEXT,
		district TEXT,
		metro_station TEXT,
		metro_time_minutes INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		first_seen_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY,
		external_id TEXT NOT NULL REFERENCES listings(external_id),
		price INTEGER NOT NULL,
		observed_at DATETIME NOT NULL,
		change_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		site_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		offers_found INTEGER DEFAULT 0,
		listings_new INTEGER DEFAULT 0,
		listings_updated INTEGER DEFAULT 0,
		price_changes INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_listings_active_seen ON listings(is_active, last_seen_at);
	CREATE INDEX IF NOT EXISTS idx_history_listing ON price_history(external_id, observed_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

func (s *SQLiteStore) GetListing(ctx context.Context, externalID string) (*models.StoredListing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE external_id = ?`, externalID)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *SQLiteStore) ApplyReconcile(ctx context.Context, listing *models.ExtractedListing, action models.Action, event *models.PriceHistoryEvent, now time.Time) error {
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	switch action {
	case models.ActionInsert:
		if _, err := tx.ExecContext(ctx, sqliteSQL.insert, insertArgs(uuid.New(), listing, now)...); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
	case models.ActionUpdate:
		res, err := tx.ExecContext(ctx, sqliteSQL.update, updateArgs(listing, now)...)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update %s: %w", listing.ExternalID, ErrListingNotFound)
		}
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if event != nil {
		res, err := tx.ExecContext(ctx, sqliteSQL.history, historyArgs(event)...)
		if err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			event.ID = id
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListListings(ctx context.Context, activeOnly bool) ([]models.StoredListing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY first_seen_at, external_id`
	return s.queryListings(ctx, query)
}

func (s *SQLiteStore) StaleActive(ctx context.Context, seenBefore time.Time, limit int) ([]models.StoredListing, error) {
	return s.queryListings(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE is_active = TRUE AND last_seen_at < ?
		ORDER BY last_seen_at ASC
		LIMIT ?`, seenBefore.UTC(), limit)
}

func (s *SQLiteStore) queryListings(ctx context.Context, query string, args ...any) ([]models.StoredListing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.StoredListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, externalID string) ([]models.PriceHistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, price, observed_at, change_type
		FROM price_history WHERE external_id = ?
		ORDER BY observed_at, id`, externalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.PriceHistoryEvent
	for rows.Next() {
		var e models.PriceHistoryEvent
		if err := rows.Scan(&e.ID, &e.ExternalID, &e.Price, &e.ObservedAt, &e.ChangeType); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) MarkInactive(ctx context.Context, externalID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE listings SET is_active = FALSE, updated_at = ? WHERE external_id = ?`,
		time.Now().UTC(), externalID)
	return err
}

func (s *SQLiteStore) TouchListing(ctx context.Context, externalID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE listings SET last_seen_at = ?, is_active = TRUE WHERE external_id = ?`,
		seenAt.UTC(), externalID)
	return err
}

// =============================================================================
// Runs, logs and commands
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (site_id, started_at, status)
		VALUES (?, ?, ?)`,
		run.SiteID, run.StartedAt.UTC(), run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, offers_found = ?,
			listings_new = ?, listings_updated = ?, price_changes = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.OffersFound, run.ListingsNew,
		run.ListingsUpdate, run.PriceChanges, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) RecentRuns(limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, started_at, finished_at, status, offers_found,
			listings_new, listings_updated, price_changes, errors_count
		FROM scrape_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		if err := rows.Scan(&r.ID, &r.SiteID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.OffersFound,
			&r.ListingsNew, &r.ListingsUpdate, &r.PriceChanges, &r.ErrorsCount); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetLastRunTime(siteID string) (time.Time, error) {
	var lastRun time.Time
	err := s.db.QueryRow(`
		SELECT started_at FROM scrape_runs WHERE site_id = ?
		ORDER BY started_at DESC LIMIT 1`, siteID).Scan(&lastRun)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return lastRun, err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, siteID string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, site_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, message, siteID)
	return err
}

func (s *SQLiteStore) RecentLogs(limit int) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, site_id
		FROM scrape_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.SiteID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) AddCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return 0, err
		}
	}
	result, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, string(raw), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
