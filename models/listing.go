package models

import (
	"time"

	"github.com/google/uuid"
)

// BuildingType is the wall material or construction era of a building
type BuildingType string

const (
	BuildingPanel         BuildingType = "panel"
	BuildingBrick         BuildingType = "brick"
	BuildingMonolith      BuildingType = "monolith"
	BuildingBlock         BuildingType = "block"
	BuildingWood          BuildingType = "wood"
	BuildingStalinEra     BuildingType = "stalin_era"
	BuildingKhrushchevEra BuildingType = "khrushchev_era"
	BuildingBrezhnevEra   BuildingType = "brezhnev_era"
)

// BuildingTypes lists every valid building type
var BuildingTypes = []BuildingType{
	BuildingPanel, BuildingBrick, BuildingMonolith, BuildingBlock, BuildingWood,
	BuildingStalinEra, BuildingKhrushchevEra, BuildingBrezhnevEra,
}

func (b BuildingType) Valid() bool {
	for _, t := range BuildingTypes {
		if b == t {
			return true
		}
	}
	return false
}

// Category is the market segment of a listing
type Category string

const (
	CategoryNewConstruction Category = "new_construction"
	CategoryResale          Category = "resale"
)

func (c Category) Valid() bool {
	return c == CategoryNewConstruction || c == CategoryResale
}

// SellerType is who published the listing
type SellerType string

const (
	SellerOwner  SellerType = "owner"
	SellerAgency SellerType = "agency"
)

// ExtractedListing is the structured result of extracting one listing page.
// Every attribute is nullable; nil means no strategy found a valid value.
type ExtractedListing struct {
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Address    string `json:"address,omitempty"`

	Price        *int64   `json:"price"`
	PricePerArea *int64   `json:"price_per_area"`
	OldPrice     *int64   `json:"old_price"`
	AreaTotal    *float64 `json:"area_total"`
	AreaLiving   *float64 `json:"area_living"`
	AreaKitchen  *float64 `json:"area_kitchen"`
	FloorCurrent *int     `json:"floor_current"`
	FloorTotal   *int     `json:"floor_total"`
	Rooms        *int     `json:"rooms"`
	YearBuilt    *int     `json:"year_built"`

	BuildingType *BuildingType `json:"building_type"`
	Category     *Category     `json:"category"`
	SellerType   *SellerType   `json:"seller_type"`

	District         *string `json:"district"`
	MetroStation     *string `json:"metro_station"`
	MetroTimeMinutes *int    `json:"metro_time_minutes"`
}

// StoredListing is the persisted record for one external id
type StoredListing struct {
	ID uuid.UUID `json:"id" db:"id"`
	ExtractedListing
	IsActive    bool      `json:"is_active" db:"is_active"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// PriceHistoryEvent is an append-only record of a detected price change
type PriceHistoryEvent struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Price      int64     `json:"price" db:"price"`
	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
	ChangeType string    `json:"change_type" db:"change_type"`
}

// Action is the storage decision for a reconciled listing
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
)

const ChangeTypeUpdate = "update"
