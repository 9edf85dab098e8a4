package extract

import (
	"regexp"
	"sort"
	"strings"

	"flat_scrooper/models"
)

func buildingChain() *Chain[models.BuildingType] {
	return &Chain[models.BuildingType]{
		Field: FieldBuildingType,
		Strategies: []Strategy[models.BuildingType]{
			fromContainers("building-features", featureContainers, materialLabelPatterns, materialFromText),
			{Name: "building-structured", Run: structuredMaterial},
			{Name: "building-series", Run: seriesMaterial},
			fromText("building-text", rawMaterialPatterns, materialFromText),
			{Name: "building-era", Needs: []Field{FieldYearBuilt}, Inferred: true, Run: eraFromYear},
			{Name: "building-default", Inferred: true, Run: defaultBuilding},
		},
		Valid:  func(v models.BuildingType, _ *state) bool { return v.Valid() },
		Assign: func(l *models.ExtractedListing, v models.BuildingType) { l.BuildingType = &v },
	}
}

// yearInferenceChain fills year_built from an era building type, but only
// when that type was read off the page. A type that was itself derived from
// the year, or defaulted, never feeds back.
func yearInferenceChain() *Chain[int] {
	return &Chain[int]{
		Field: FieldYearBuilt,
		Strategies: []Strategy[int]{{
			Name:     "year-from-era",
			Needs:    []Field{FieldBuildingType},
			Inferred: true,
			Run: func(_ *Document, st *state, _ func(int) bool) (int, bool) {
				if st.inferred[FieldBuildingType] || st.listing.BuildingType == nil {
					return 0, false
				}
				y, ok := eraYears[*st.listing.BuildingType]
				return y, ok
			},
		}},
		Valid:  validYear,
		Assign: assignYear,
	}
}

func materialFromText(text string) (models.BuildingType, bool) {
	lower := strings.ToLower(text)
	for _, kw := range materialKeywords {
		if strings.Contains(lower, kw.Needle) {
			return kw.Type, true
		}
	}
	return "", false
}

// structuredMaterial reads material keys from page scripts, then any
// JSON-LD string value that talks about the house.
func structuredMaterial(doc *Document, _ *state, accept func(models.BuildingType) bool) (models.BuildingType, bool) {
	for _, re := range materialKeys {
		for _, script := range doc.Scripts {
			if v, ok := firstMatch(script, []*regexp.Regexp{re}, materialFromText, accept); ok {
				return v, true
			}
		}
	}

	keys := make([]string, 0, len(doc.StructuredData))
	for k := range doc.StructuredData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := doc.StructuredData[k].(string)
		if !ok || !strings.Contains(strings.ToLower(s), "дом") {
			continue
		}
		if v, ok := materialFromText(s); ok && accept(v) {
			return v, true
		}
	}
	return "", false
}

// seriesMaterial maps a named building series ("серия 1-335") to its type
func seriesMaterial(doc *Document, _ *state, accept func(models.BuildingType) bool) (models.BuildingType, bool) {
	for _, sp := range seriesPatterns {
		if sp.re.MatchString(doc.RawText) && accept(sp.typ) {
			return sp.typ, true
		}
	}
	if individualProject.MatchString(doc.RawText) && accept(models.BuildingMonolith) {
		return models.BuildingMonolith, true
	}
	return "", false
}

func eraFromYear(_ *Document, st *state, _ func(models.BuildingType) bool) (models.BuildingType, bool) {
	if st.listing.YearBuilt == nil {
		return "", false
	}
	return eraFor(*st.listing.YearBuilt)
}

func eraFor(year int) (models.BuildingType, bool) {
	for _, band := range eraBands {
		if year >= band.From && year <= band.To {
			return band.Type, true
		}
	}
	return "", false
}

func defaultBuilding(_ *Document, st *state, _ func(models.BuildingType) bool) (models.BuildingType, bool) {
	if !st.opts.AllowDefaultBuildingType {
		return "", false
	}
	return st.opts.DefaultBuildingType, true
}
