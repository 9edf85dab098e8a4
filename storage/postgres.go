package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flat_scrooper/models"
)

var postgresSQL = newListingSQL(true)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		price BIGINT,
		price_per_area BIGINT,
		old_price BIGINT,
		area_total DOUBLE PRECISION,
		area_living DOUBLE PRECISION,
		area_kitchen DOUBLE PRECISION,
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
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL REFERENCES listings(external_id),
		price BIGINT NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL,
		change_type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_active_seen ON listings(is_active, last_seen_at);
	CREATE INDEX IF NOT EXISTS idx_history_listing ON price_history(external_id, observed_at);
	`)
	return err
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) GetListing(ctx context.Context, externalID string) (*models.StoredListing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE external_id = $1`, externalID)
	l, err := scanListing(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *PostgresStore) ApplyReconcile(ctx context.Context, listing *models.ExtractedListing, action models.Action, event *models.PriceHistoryEvent, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	switch action {
	case models.ActionInsert:
		if _, err := tx.Exec(ctx, postgresSQL.insert, insertArgs(uuid.New(), listing, now)...); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
	case models.ActionUpdate:
		tag, err := tx.Exec(ctx, postgresSQL.update, updateArgs(listing, now)...)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update %s: %w", listing.ExternalID, ErrListingNotFound)
		}
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if event != nil {
		err := tx.QueryRow(ctx, postgresSQL.history+" RETURNING id", historyArgs(event)...).Scan(&event.ID)
		if err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListListings(ctx context.Context, activeOnly bool) ([]models.StoredListing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY first_seen_at, external_id`
	return s.queryListings(ctx, query)
}

func (s *PostgresStore) StaleActive(ctx context.Context, seenBefore time.Time, limit int) ([]models.StoredListing, error) {
	return s.queryListings(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE is_active AND last_seen_at < $1
		ORDER BY last_seen_at
		LIMIT $2`, seenBefore, limit)
}

func (s *PostgresStore) queryListings(ctx context.Context, query string, args ...any) ([]models.StoredListing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) PriceHistory(ctx context.Context, externalID string) ([]models.PriceHistoryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_id, price, observed_at, change_type
		FROM price_history WHERE external_id = $1
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

func (s *PostgresStore) MarkInactive(ctx context.Context, externalID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET is_active = FALSE, updated_at = NOW() WHERE external_id = $1`, externalID)
	return err
}

func (s *PostgresStore) TouchListing(ctx context.Context, externalID string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET last_seen_at = $1, is_active = TRUE WHERE external_id = $2`, seenAt, externalID)
	return err
}
