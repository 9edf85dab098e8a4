// Package extract turns a rendered listing page into an ExtractedListing.
// Each field is resolved by an ordered chain of strategies; a field nothing
// can find stays nil.
package extract

import (
	"time"

	"flat_scrooper/identity"
	"flat_scrooper/models"
)

// Options tune the inference steps of the engine
type Options struct {
	// AllowDefaultBuildingType lets building_type fall back to
	// DefaultBuildingType when no evidence is found
	AllowDefaultBuildingType bool
	DefaultBuildingType      models.BuildingType
	// NewConstructionYears is how recent year_built must be for a listing
	// to count as new construction
	NewConstructionYears int
	Now                  func() time.Time
}

func DefaultOptions() Options {
	return Options{
		AllowDefaultBuildingType: true,
		DefaultBuildingType:      models.BuildingPanel,
		NewConstructionYears:     3,
		Now:                      time.Now,
	}
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Provenance maps each resolved field to the strategy that produced it
type Provenance map[Field]string

// Engine runs the field chains in a fixed dependency order. It holds no
// per-document state and is safe for concurrent use.
type Engine struct {
	opts Options
	plan []step
}

// NewEngine validates the strategy tables and returns a ready engine
func NewEngine(opts Options) (*Engine, error) {
	if opts.AllowDefaultBuildingType && !opts.DefaultBuildingType.Valid() {
		return nil, &ConfigError{Field: FieldBuildingType, Reason: "invalid default building type " + string(opts.DefaultBuildingType)}
	}
	if opts.NewConstructionYears < 0 {
		return nil, &ConfigError{Field: FieldCategory, Reason: "negative new construction window"}
	}
	return newEngine(opts, defaultPlan())
}

func newEngine(opts Options, plan []step) (*Engine, error) {
	resolved := make(map[Field]bool)
	for _, s := range plan {
		if err := s.validate(resolved); err != nil {
			return nil, err
		}
		resolved[s.field()] = true
	}
	return &Engine{opts: opts, plan: plan}, nil
}

// defaultPlan orders fields so that every dependency is resolved first:
// independent fields, then floor_total and metro time, then the
// year/building/category group.
func defaultPlan() []step {
	return []step{
		titleChain(),
		addressChain(),
		priceChain(),
		pricePerAreaChain(),
		oldPriceChain(),
		areaTotalChain(),
		areaLivingChain(),
		areaKitchenChain(),
		floorCurrentChain(),
		roomsChain(),
		districtChain(),
		sellerChain(),
		metroStationChain(),
		floorTotalChain(),
		metroTimeChain(),
		yearChain(),
		buildingChain(),
		yearInferenceChain(),
		categoryChain(),
	}
}

// Extract resolves every field of doc. Only a document with no content at
// all is an error; missing fields are nil.
func (e *Engine) Extract(doc *Document) (*models.ExtractedListing, error) {
	listing, _, err := e.Explain(doc)
	return listing, err
}

// Explain is Extract plus the name of the strategy behind each field
func (e *Engine) Explain(doc *Document) (*models.ExtractedListing, Provenance, error) {
	if doc.Empty() {
		return nil, nil, ErrEmptyDocument
	}
	if text := plainSpaces(doc.RawText); text != doc.RawText {
		cp := *doc
		cp.RawText = text
		doc = &cp
	}

	listing := &models.ExtractedListing{
		ExternalID: identity.ExternalID(doc.SourceURL),
		URL:        doc.SourceURL,
	}
	st := newState(listing, e.opts)
	for _, s := range e.plan {
		s.apply(doc, st)
	}
	return listing, Provenance(st.resolved), nil
}
