package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"flat_scrooper/models"
	"flat_scrooper/storage"
)

var ErrMissingExternalID = errors.New("listing has no external id")

// ListingService runs the read-decide-write cycle for extracted listings.
// Calls for the same external id are serialized; different ids run freely.
type ListingService struct {
	store   storage.ListingStore
	tracker *ChangeTracker
	locks   keyedMutex
}

// NewListingService creates a new ListingService
func NewListingService(store storage.ListingStore, tracker *ChangeTracker) *ListingService {
	if tracker == nil {
		tracker = NewChangeTracker()
	}
	return &ListingService{
		store:   store,
		tracker: tracker,
	}
}

// ProcessResult contains the outcome of processing a listing
type ProcessResult struct {
	ExternalID    string
	Action        models.Action
	PriceChanged  bool
	PreviousPrice *int64
}

// ProcessListing reconciles listing against its stored record and persists
// the decision. Safe to call repeatedly for the same listing.
func (s *ListingService) ProcessListing(ctx context.Context, listing *models.ExtractedListing) (*ProcessResult, error) {
	if listing == nil || listing.ExternalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := s.locks.lock(listing.ExternalID)
	defer unlock()

	existing, err := s.store.GetListing(ctx, listing.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", listing.ExternalID, err)
	}

	now := s.tracker.Now()
	action, event := Reconcile(listing, existing, now)
	if err := s.store.ApplyReconcile(ctx, listing, action, event, now); err != nil {
		return nil, fmt.Errorf("apply %s for %s: %w", action, listing.ExternalID, err)
	}

	result := &ProcessResult{
		ExternalID:   listing.ExternalID,
		Action:       action,
		PriceChanged: event != nil,
	}
	if existing != nil {
		result.PreviousPrice = existing.Price
	}
	if event != nil {
		log.Printf("Price change for %s: %s -> %d", listing.ExternalID, formatPrice(result.PreviousPrice), event.Price)
	}
	return result, nil
}

// MarkInactive flags a listing that is no longer published
func (s *ListingService) MarkInactive(ctx context.Context, externalID string) error {
	unlock := s.locks.lock(externalID)
	defer unlock()
	return s.store.MarkInactive(ctx, externalID)
}

func formatPrice(p *int64) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *p)
}

// keyedMutex hands out one mutex per key and drops it once unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// ProcessStats tracks aggregate statistics for a scrape run
type ProcessStats struct {
	mu                sync.Mutex
	ListingsProcessed int
	ListingsNew       int
	ListingsUpdated   int
	PriceChanges      int
	Errors            int
}

// Aggregate adds a ProcessResult to the stats
func (s *ProcessStats) Aggregate(r *ProcessResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListingsProcessed++
	switch r.Action {
	case models.ActionInsert:
		s.ListingsNew++
	case models.ActionUpdate:
		s.ListingsUpdated++
	}
	if r.PriceChanged {
		s.PriceChanges++
	}
}

// AddError counts a listing that could not be fetched, extracted or stored
func (s *ProcessStats) AddError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors++
}

// ToJSON returns JSON-serializable metadata
func (s *ProcessStats) ToJSON() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(map[string]int{
		"listings_processed": s.ListingsProcessed,
		"listings_new":       s.ListingsNew,
		"listings_updated":   s.ListingsUpdated,
		"price_changes":      s.PriceChanges,
		"errors":             s.Errors,
	})
	return data
}
