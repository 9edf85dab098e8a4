package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flat_scrooper/models"
)

var csvHeader = []string{
	"external_id", "url", "title", "address",
	"price", "price_per_area", "old_price",
	"area_total", "area_living", "area_kitchen",
	"floor_current", "floor_total", "rooms", "year_built",
	"building_type", "category", "seller_type",
	"district", "metro_station", "metro_time_minutes",
	"is_active", "first_seen_at", "last_seen_at",
}

// WriteCSV writes listings as CSV with a header row. Null attributes are
// written as empty cells.
func WriteCSV(w io.Writer, listings []models.StoredListing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, l := range listings {
		row := []string{
			l.ExternalID, l.URL, l.Title, l.Address,
			int64Cell(l.Price), int64Cell(l.PricePerArea), int64Cell(l.OldPrice),
			floatCell(l.AreaTotal), floatCell(l.AreaLiving), floatCell(l.AreaKitchen),
			intCell(l.FloorCurrent), intCell(l.FloorTotal), intCell(l.Rooms), intCell(l.YearBuilt),
			stringCell(l.BuildingType), stringCell(l.Category), stringCell(l.SellerType),
			stringCell(l.District), stringCell(l.MetroStation), intCell(l.MetroTimeMinutes),
			strconv.FormatBool(l.IsActive),
			l.FirstSeenAt.UTC().Format(time.RFC3339),
			l.LastSeenAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row %s: %w", l.ExternalID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes listings as an indented JSON array
func WriteJSON(w io.Writer, listings []models.StoredListing) error {
	if listings == nil {
		listings = []models.StoredListing{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(listings)
}

// ExportFile writes all stored listings to path, choosing the format from
// the extension (.csv or .json). Returns the number of listings written.
func ExportFile(ctx context.Context, store ListingStore, path string, activeOnly bool) (int, error) {
	var write func(io.Writer, []models.StoredListing) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		write = WriteCSV
	case ".json":
		write = WriteJSON
	default:
		return 0, fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}

	listings, err := store.ListListings(ctx, activeOnly)
	if err != nil {
		return 0, fmt.Errorf("list listings: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("create export dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f, listings); err != nil {
		f.Close()
		return 0, err
	}
	return len(listings), f.Close()
}

func int64Cell(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func stringCell[T ~string](v *T) string {
	if v == nil {
		return ""
	}
	return string(*v)
}
