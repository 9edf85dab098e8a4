package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flat_scrooper/models"
)

var ErrListingNotFound = errors.New("listing not found")

// ListingStore persists listings and their price history. Implementations
// must apply a reconcile decision atomically: the row write and the history
// append either both happen or neither does.
type ListingStore interface {
	GetListing(ctx context.Context, externalID string) (*models.StoredListing, error)
	ApplyReconcile(ctx context.Context, listing *models.ExtractedListing, action models.Action, event *models.PriceHistoryEvent, now time.Time) error
	ListListings(ctx context.Context, activeOnly bool) ([]models.StoredListing, error)
	PriceHistory(ctx context.Context, externalID string) ([]models.PriceHistoryEvent, error)
	StaleActive(ctx context.Context, seenBefore time.Time, limit int) ([]models.StoredListing, error)
	MarkInactive(ctx context.Context, externalID string) error
	TouchListing(ctx context.Context, externalID string, seenAt time.Time) error
	Close() error
}

var listingFields = []string{
	"url", "title", "address",
	"price", "price_per_area", "old_price",
	"area_total", "area_living", "area_kitchen",
	"floor_current", "floor_total", "rooms", "year_built",
	"building_type", "category", "seller_type",
	"district", "metro_station", "metro_time_minutes",
}

const listingColumns = `id, external_id, url, title, address, price, price_per_area, old_price,
	area_total, area_living, area_kitchen, floor_current, floor_total, rooms, year_built,
	building_type, category, seller_type, district, metro_station, metro_time_minutes,
	is_active, first_seen_at, last_seen_at, created_at, updated_at`

func fieldValues(l *models.ExtractedListing) []any {
	return []any{
		l.URL, l.Title, l.Address,
		l.Price, l.PricePerArea, l.OldPrice,
		l.AreaTotal, l.AreaLiving, l.AreaKitchen,
		l.FloorCurrent, l.FloorTotal, l.Rooms, l.YearBuilt,
		l.BuildingType, l.Category, l.SellerType,
		l.District, l.MetroStation, l.MetroTimeMinutes,
	}
}

// rowScanner is satisfied by both database/sql and pgx rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.StoredListing, error) {
	var l models.StoredListing
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.URL, &l.Title, &l.Address,
		&l.Price, &l.PricePerArea, &l.OldPrice,
		&l.AreaTotal, &l.AreaLiving, &l.AreaKitchen,
		&l.FloorCurrent, &l.FloorTotal, &l.Rooms, &l.YearBuilt,
		&l.BuildingType, &l.Category, &l.SellerType,
		&l.District, &l.MetroStation, &l.MetroTimeMinutes,
		&l.IsActive, &l.FirstSeenAt, &l.LastSeenAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// listingSQL holds the write statements for one placeholder style
type listingSQL struct {
	insert  string
	update  string
	history string
}

func newListingSQL(numbered bool) listingSQL {
	bind := func(i int) string {
		if numbered {
			return fmt.Sprintf("$%d", i)
		}
		return "?"
	}

	cols := append([]string{"id", "external_id"}, listingFields...)
	cols = append(cols, "is_active", "first_seen_at", "last_seen_at", "created_at", "updated_at")
	vars := make([]string, len(cols))
	for i := range cols {
		vars[i] = bind(i + 1)
	}

	n := 1
	sets := make([]string, 0, len(listingFields)+3)
	for _, c := range listingFields {
		sets = append(sets, c+" = "+bind(n))
		n++
	}
	sets = append(sets, "is_active = TRUE", "last_seen_at = "+bind(n), "updated_at = "+bind(n+1))

	return listingSQL{
		insert: fmt.Sprintf("INSERT INTO listings (%s) VALUES (%s)",
			strings.Join(cols, ", "), strings.Join(vars, ", ")),
		update: fmt.Sprintf("UPDATE listings SET %s WHERE external_id = %s",
			strings.Join(sets, ", "), bind(n+2)),
		history: fmt.Sprintf("INSERT INTO price_history (external_id, price, observed_at, change_type) VALUES (%s, %s, %s, %s)",
			bind(1), bind(2), bind(3), bind(4)),
	}
}

func insertArgs(id uuid.UUID, l *models.ExtractedListing, now time.Time) []any {
	args := append([]any{id, l.ExternalID}, fieldValues(l)...)
	return append(args, true, now, now, now, now)
}

func updateArgs(l *models.ExtractedListing, now time.Time) []any {
	return append(fieldValues(l), now, now, l.ExternalID)
}

func historyArgs(e *models.PriceHistoryEvent) []any {
	return []any{e.ExternalID, e.Price, e.ObservedAt.UTC(), e.ChangeType}
}

// ComputeCoverage counts attribute coverage over stored listings
func ComputeCoverage(listings []models.StoredListing) *models.FieldCoverage {
	cov := &models.FieldCoverage{
		ByBuilding: make(map[models.BuildingType]int),
		ByCategory: make(map[models.Category]int),
	}
	for _, l := range listings {
		cov.Total++
		if l.IsActive {
			cov.Active++
		}
		if l.BuildingType != nil {
			cov.ByBuilding[*l.BuildingType]++
		}
		if l.Category != nil {
			cov.ByCategory[*l.Category]++
		}
		if l.YearBuilt != nil {
			cov.WithYear++
		}
		if l.MetroStation != nil {
			cov.WithMetro++
		}
		if l.MetroTimeMinutes != nil {
			cov.WithMetroTime++
		}
	}
	return cov
}
