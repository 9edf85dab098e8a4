package tui

import (
	"context"

	"flat_scrooper/models"
	"flat_scrooper/storage"
)

// Source is everything the dashboard reads and the commands it can queue
type Source interface {
	RecentRuns(limit int) ([]models.ScrapeRun, error)
	RecentLogs(limit int) ([]models.ScrapeLog, error)
	ListListings(ctx context.Context, activeOnly bool) ([]models.StoredListing, error)
	PriceHistory(ctx context.Context, externalID string) ([]models.PriceHistoryEvent, error)
	AddCommand(cmd models.CommandType, params *models.CommandParams) (int64, error)
}

type storeSource struct {
	*storage.SQLiteStore
	listings storage.ListingStore
}

// NewSource reads runs, logs and commands from ops and listings from
// listings, which may be the same SQLite store
func NewSource(ops *storage.SQLiteStore, listings storage.ListingStore) Source {
	return storeSource{SQLiteStore: ops, listings: listings}
}

func (s storeSource) ListListings(ctx context.Context, activeOnly bool) ([]models.StoredListing, error) {
	return s.listings.ListListings(ctx, activeOnly)
}

func (s storeSource) PriceHistory(ctx context.Context, externalID string) ([]models.PriceHistoryEvent, error) {
	return s.listings.PriceHistory(ctx, externalID)
}
