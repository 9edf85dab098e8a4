package extract

import (
	"errors"
	"fmt"
	"regexp"

	"flat_scrooper/models"
)

// ErrEmptyDocument is returned when a document has no text, markup or
// scripts to extract from.
var ErrEmptyDocument = errors.New("extract: empty document")

// Field names an ExtractedListing attribute
type Field string

const (
	FieldTitle        Field = "title"
	FieldAddress      Field = "address"
	FieldPrice        Field = "price"
	FieldPricePerArea Field = "price_per_area"
	FieldOldPrice     Field = "old_price"
	FieldAreaTotal    Field = "area_total"
	FieldAreaLiving   Field = "area_living"
	FieldAreaKitchen  Field = "area_kitchen"
	FieldFloorCurrent Field = "floor_current"
	FieldFloorTotal   Field = "floor_total"
	FieldRooms        Field = "rooms"
	FieldYearBuilt    Field = "year_built"
	FieldBuildingType Field = "building_type"
	FieldCategory     Field = "category"
	FieldSellerType   Field = "seller_type"
	FieldDistrict     Field = "district"
	FieldMetroStation Field = "metro_station"
	FieldMetroTime    Field = "metro_time_minutes"
)

var knownFields = map[Field]bool{
	FieldTitle: true, FieldAddress: true, FieldPrice: true, FieldPricePerArea: true,
	FieldOldPrice: true, FieldAreaTotal: true, FieldAreaLiving: true, FieldAreaKitchen: true,
	FieldFloorCurrent: true, FieldFloorTotal: true, FieldRooms: true, FieldYearBuilt: true,
	FieldBuildingType: true, FieldCategory: true, FieldSellerType: true, FieldDistrict: true,
	FieldMetroStation: true, FieldMetroTime: true,
}

// ConfigError reports a malformed strategy table. It is only ever returned
// while building an engine, never during extraction.
type ConfigError struct {
	Field    Field
	Strategy string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("extract config: field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("extract config: field %s strategy %q: %s", e.Field, e.Strategy, e.Reason)
}

// Result is the outcome of resolving one field: either a value with the
// strategy that produced it, or a miss.
type Result[T any] struct {
	Value    T
	Strategy string
	found    bool
}

func Found[T any](v T, strategy string) Result[T] {
	return Result[T]{Value: v, Strategy: strategy, found: true}
}

func Miss[T any]() Result[T] {
	return Result[T]{}
}

func (r Result[T]) Ok() bool { return r.found }

// Strategy is one way of locating a field. Run gets an accept func that
// applies the field's range check so it can skip implausible candidates.
type Strategy[T any] struct {
	Name string
	// Needs lists fields that must be resolved by an earlier plan step
	Needs []Field
	// Inferred marks values derived from another field rather than read
	// off the page.
	Inferred bool
	Run      func(doc *Document, st *state, accept func(T) bool) (T, bool)
}

// Chain resolves one field by trying its strategies in order. The first
// value that passes Valid wins; nothing is merged across strategies.
type Chain[T any] struct {
	Field Field
	// Needs must be resolved for the chain to run at all
	Needs []Field
	// After only orders the chain behind fields its validator reads
	After      []Field
	Strategies []Strategy[T]
	Valid      func(v T, st *state) bool
	Assign     func(l *models.ExtractedListing, v T)
}

func (c *Chain[T]) field() Field { return c.Field }

func (c *Chain[T]) validate(resolved map[Field]bool) error {
	if !knownFields[c.Field] {
		return &ConfigError{Field: c.Field, Reason: "unknown field"}
	}
	if len(c.Strategies) == 0 {
		return &ConfigError{Field: c.Field, Reason: "no strategies"}
	}
	if c.Assign == nil {
		return &ConfigError{Field: c.Field, Reason: "no assign func"}
	}
	if err := checkNeeds(c.Field, "", append(append([]Field{}, c.Needs...), c.After...), resolved); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.Name == "" {
			return &ConfigError{Field: c.Field, Reason: "strategy without a name"}
		}
		if seen[s.Name] {
			return &ConfigError{Field: c.Field, Strategy: s.Name, Reason: "duplicate strategy name"}
		}
		seen[s.Name] = true
		if s.Run == nil {
			return &ConfigError{Field: c.Field, Strategy: s.Name, Reason: "nil run func"}
		}
		if err := checkNeeds(c.Field, s.Name, s.Needs, resolved); err != nil {
			return err
		}
	}
	return nil
}

func checkNeeds(f Field, strategy string, needs []Field, resolved map[Field]bool) error {
	for _, dep := range needs {
		if !knownFields[dep] {
			return &ConfigError{Field: f, Strategy: strategy, Reason: fmt.Sprintf("depends on unknown field %s", dep)}
		}
		if dep == f {
			return &ConfigError{Field: f, Strategy: strategy, Reason: "depends on itself"}
		}
		if !resolved[dep] {
			return &ConfigError{Field: f, Strategy: strategy, Reason: fmt.Sprintf("depends on %s, which is not resolved earlier", dep)}
		}
	}
	return nil
}

// resolve runs the chain against doc without touching state
func (c *Chain[T]) resolve(doc *Document, st *state) Result[T] {
	for _, s := range c.Strategies {
		if !st.hasAll(s.Needs) {
			continue
		}
		accept := func(v T) bool { return c.Valid == nil || c.Valid(v, st) }
		v, ok := s.Run(doc, st, accept)
		if ok && accept(v) {
			return Found(v, s.Name)
		}
	}
	return Miss[T]()
}

func (c *Chain[T]) apply(doc *Document, st *state) {
	if st.has(c.Field) || !st.hasAll(c.Needs) {
		return
	}
	r := c.resolve(doc, st)
	if !r.Ok() {
		return
	}
	c.Assign(st.listing, r.Value)
	st.resolved[c.Field] = r.Strategy
	for _, s := range c.Strategies {
		if s.Name == r.Strategy && s.Inferred {
			st.inferred[c.Field] = true
		}
	}
}

// step is a Chain with its value type erased, so the engine can keep a
// single ordered plan.
type step interface {
	field() Field
	validate(resolved map[Field]bool) error
	apply(doc *Document, st *state)
}

// state is the per-document scratchpad threaded through the plan
type state struct {
	listing  *models.ExtractedListing
	resolved map[Field]string
	inferred map[Field]bool
	opts     Options
	year     int
}

func newState(l *models.ExtractedListing, opts Options) *state {
	return &state{
		listing:  l,
		resolved: make(map[Field]string),
		inferred: make(map[Field]bool),
		opts:     opts,
		year:     opts.now().Year(),
	}
}

func (st *state) has(f Field) bool {
	_, ok := st.resolved[f]
	return ok
}

func (st *state) hasAll(fs []Field) bool {
	for _, f := range fs {
		if !st.has(f) {
			return false
		}
	}
	return true
}

// Strategy builders shared by the field tables.

func fromSelectors[T any](name string, selectors []string, parse func(string) (T, bool)) Strategy[T] {
	return Strategy[T]{Name: name, Run: func(doc *Document, _ *state, accept func(T) bool) (T, bool) {
		var out T
		found := false
		for _, sel := range selectors {
			doc.eachText(sel, func(text string) bool {
				if v, ok := parse(text); ok && accept(v) {
					out, found = v, true
				}
				return found
			})
			if found {
				break
			}
		}
		return out, found
	}}
}

// fromContainers applies labelled patterns to the text of feature blocks
func fromContainers[T any](name string, containers []string, patterns []*regexp.Regexp, parse func(string) (T, bool)) Strategy[T] {
	return Strategy[T]{Name: name, Run: func(doc *Document, _ *state, accept func(T) bool) (T, bool) {
		var out T
		found := false
		for _, sel := range containers {
			doc.eachText(sel, func(text string) bool {
				out, found = firstMatch(text, patterns, parse, accept)
				return found
			})
			if found {
				break
			}
		}
		return out, found
	}}
}

func fromJSONLD[T any](name string, paths [][]string, parse func(string) (T, bool)) Strategy[T] {
	return Strategy[T]{Name: name, Run: func(doc *Document, _ *state, accept func(T) bool) (T, bool) {
		for _, path := range paths {
			raw, ok := doc.jsonLD(path...)
			if !ok {
				continue
			}
			if v, ok := parse(scalarText(raw)); ok && accept(v) {
				return v, true
			}
		}
		var zero T
		return zero, false
	}}
}

// fromScripts scans every script body with each key pattern in order
func fromScripts[T any](name string, patterns []*regexp.Regexp, parse func(string) (T, bool)) Strategy[T] {
	return Strategy[T]{Name: name, Run: func(doc *Document, _ *state, accept func(T) bool) (T, bool) {
		for _, re := range patterns {
			for _, script := range doc.Scripts {
				if v, ok := firstMatch(script, []*regexp.Regexp{re}, parse, accept); ok {
					return v, true
				}
			}
		}
		var zero T
		return zero, false
	}}
}

func fromText[T any](name string, patterns []*regexp.Regexp, parse func(string) (T, bool)) Strategy[T] {
	return Strategy[T]{Name: name, Run: func(doc *Document, _ *state, accept func(T) bool) (T, bool) {
		return firstMatch(doc.RawText, patterns, parse, accept)
	}}
}

// firstMatch returns the first capture group, across patterns in order,
// that parses and is accepted.
func firstMatch[T any](text string, patterns []*regexp.Regexp, parse func(string) (T, bool), accept func(T) bool) (T, bool) {
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			if v, ok := parse(m[1]); ok && accept(v) {
				return v, true
			}
		}
	}
	var zero T
	return zero, false
}
