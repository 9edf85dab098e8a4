package services

import (
	"context"
	"log"
	"time"

	"flat_scrooper/models"
	"flat_scrooper/storage"
)

// LivenessService decides whether stored listings are still published
type LivenessService struct {
	store   storage.ListingStore
	listing *ListingService
	now     func() time.Time
}

// NewLivenessService creates a new LivenessService
func NewLivenessService(store storage.ListingStore, listing *ListingService) *LivenessService {
	return &LivenessService{
		store:   store,
		listing: listing,
		now:     time.Now,
	}
}

// GetStaleListings returns active listings that haven't been seen recently
func (s *LivenessService) GetStaleListings(ctx context.Context, staleDuration time.Duration, limit int) ([]models.StoredListing, error) {
	return s.store.StaleActive(ctx, s.now().Add(-staleDuration), limit)
}

// MarkDelisted deactivates a listing whose page is gone
func (s *LivenessService) MarkDelisted(ctx context.Context, listing *models.StoredListing) error {
	if err := s.listing.MarkInactive(ctx, listing.ExternalID); err != nil {
		return err
	}
	log.Printf("Listing %s marked inactive", listing.ExternalID)
	return nil
}

// Refresh stores a re-extracted copy of a live listing. Price changes are
// recorded through the normal reconcile path.
func (s *LivenessService) Refresh(ctx context.Context, extracted *models.ExtractedListing) (*ProcessResult, error) {
	return s.listing.ProcessListing(ctx, extracted)
}

// TouchListing updates the last_seen timestamp for a listing
func (s *LivenessService) TouchListing(ctx context.Context, listing *models.StoredListing) error {
	return s.store.TouchListing(ctx, listing.ExternalID, s.now())
}
