package services

import (
	"time"

	"flat_scrooper/models"
)

// Reconcile decides how a freshly extracted listing is stored given the
// record already kept for its external id. It never touches storage.
//
// A first sighting is an insert with no history. Any later sighting is an
// update, and a new non-nil price that differs from the stored one yields
// exactly one history event. Other fields never produce history.
func Reconcile(newRec *models.ExtractedListing, existing *models.StoredListing, now time.Time) (models.Action, *models.PriceHistoryEvent) {
	if existing == nil {
		return models.ActionInsert, nil
	}
	if newRec.Price == nil {
		return models.ActionUpdate, nil
	}
	if existing.Price != nil && *existing.Price == *newRec.Price {
		return models.ActionUpdate, nil
	}

	return models.ActionUpdate, &models.PriceHistoryEvent{
		ExternalID: newRec.ExternalID,
		Price:      *newRec.Price,
		ObservedAt: now,
		ChangeType: models.ChangeTypeUpdate,
	}
}

// ChangeTracker is Reconcile bound to a clock
type ChangeTracker struct {
	Now func() time.Time
}

func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{Now: time.Now}
}

func (t *ChangeTracker) Reconcile(newRec *models.ExtractedListing, existing *models.StoredListing) (models.Action, *models.PriceHistoryEvent) {
	return Reconcile(newRec, existing, t.Now())
}
