package extract

import (
	"strings"

	"flat_scrooper/models"
	"flat_scrooper/normalize"
)

// handoverHorizon bounds how far ahead a handover date is believable
const handoverHorizon = 15

func categoryChain() *Chain[models.Category] {
	return &Chain[models.Category]{
		Field: FieldCategory,
		Strategies: []Strategy[models.Category]{
			{Name: "category-script-flag", Run: categoryFromScripts},
			{Name: "category-handover", Run: categoryFromHandover},
			{Name: "category-keywords", Run: categoryFromKeywords},
			{Name: "category-url", Run: categoryFromURL},
			{Name: "category-year", Needs: []Field{FieldYearBuilt}, Inferred: true, Run: categoryFromYear},
			{Name: "category-default", Inferred: true, Run: func(*Document, *state, func(models.Category) bool) (models.Category, bool) {
				return models.CategoryResale, true
			}},
		},
		Valid:  func(v models.Category, _ *state) bool { return v.Valid() },
		Assign: func(l *models.ExtractedListing, v models.Category) { l.Category = &v },
	}
}

func categoryFromScripts(doc *Document, _ *state, accept func(models.Category) bool) (models.Category, bool) {
	for _, flag := range categoryFlagPatterns {
		for _, script := range doc.Scripts {
			m := flag.re.FindStringSubmatch(script)
			if m == nil {
				continue
			}
			if c, ok := flag.value(m[1]); ok && accept(c) {
				return c, true
			}
		}
	}
	return "", false
}

// categoryFromHandover treats a handover date still in the future as a
// building under construction.
func categoryFromHandover(doc *Document, st *state, _ func(models.Category) bool) (models.Category, bool) {
	for _, re := range handoverPatterns {
		for _, m := range re.FindAllStringSubmatch(doc.RawText, -1) {
			y, ok := normalize.Int(m[1])
			if ok && y > st.year && y <= st.year+handoverHorizon {
				return models.CategoryNewConstruction, true
			}
		}
	}
	return "", false
}

// categoryFromKeywords counts distinct keywords of each kind. A tie goes to
// resale; no keywords at all is a miss.
func categoryFromKeywords(doc *Document, _ *state, _ func(models.Category) bool) (models.Category, bool) {
	text := strings.ToLower(doc.RawText)
	newHits, resaleHits := countKeywords(text, newConstructionKeywords), countKeywords(text, resaleKeywords)
	switch {
	case newHits == 0 && resaleHits == 0:
		return "", false
	case newHits > resaleHits:
		return models.CategoryNewConstruction, true
	}
	return models.CategoryResale, true
}

func countKeywords(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func categoryFromURL(doc *Document, _ *state, _ func(models.Category) bool) (models.Category, bool) {
	u := strings.ToLower(doc.SourceURL)
	for _, marker := range newConstructionURLMarkers {
		if strings.Contains(u, marker) {
			return models.CategoryNewConstruction, true
		}
	}
	return "", false
}

func categoryFromYear(_ *Document, st *state, _ func(models.Category) bool) (models.Category, bool) {
	if st.listing.YearBuilt == nil {
		return "", false
	}
	if *st.listing.YearBuilt >= st.year-st.opts.NewConstructionYears {
		return models.CategoryNewConstruction, true
	}
	return models.CategoryResale, true
}
