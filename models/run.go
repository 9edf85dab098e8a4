package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ScrapeRun struct {
	ID             int64      `json:"id" db:"id"`
	SiteID         string     `json:"site_id" db:"site_id"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at" db:"finished_at"`
	Status         RunStatus  `json:"status" db:"status"`
	OffersFound    int        `json:"offers_found" db:"offers_found"`
	ListingsNew    int        `json:"listings_new" db:"listings_new"`
	ListingsUpdate int        `json:"listings_updated" db:"listings_updated"`
	PriceChanges   int        `json:"price_changes" db:"price_changes"`
	ErrorsCount    int        `json:"errors_count" db:"errors_count"`
}

// FieldCoverage counts how many stored listings carry each attribute
type FieldCoverage struct {
	Total         int                  `json:"total"`
	ByBuilding    map[BuildingType]int `json:"by_building_type"`
	ByCategory    map[Category]int     `json:"by_category"`
	WithYear      int                  `json:"with_year"`
	WithMetro     int                  `json:"with_metro"`
	WithMetroTime int                  `json:"with_metro_time"`
	Active        int                  `json:"active"`
}
