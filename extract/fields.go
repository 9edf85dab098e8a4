package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"flat_scrooper/models"
	"flat_scrooper/normalize"
)

func titleChain() *Chain[string] {
	return &Chain[string]{
		Field: FieldTitle,
		Strategies: []Strategy[string]{
			fromSelectors("title-heading", titleSelectors, oneLine),
			fromJSONLD("title-jsonld", titleLDPaths, oneLine),
		},
		Assign: func(l *models.ExtractedListing, v string) { l.Title = v },
	}
}

func addressChain() *Chain[string] {
	return &Chain[string]{
		Field: FieldAddress,
		Strategies: []Strategy[string]{
			{Name: "address-geolabels", Run: func(doc *Document, _ *state, accept func(string) bool) (string, bool) {
				var parts []string
				for _, sel := range geoLabelSelectors {
					doc.eachText(sel, func(text string) bool {
						parts = append(parts, oneLineText(text))
						return false
					})
				}
				addr := strings.Join(parts, ", ")
				return addr, addr != "" && accept(addr)
			}},
			fromSelectors("address-container", addressSelectors, oneLine),
			fromJSONLD("address-jsonld", addrLDPaths, oneLine),
		},
		Assign: func(l *models.ExtractedListing, v string) { l.Address = v },
	}
}

func priceChain() *Chain[int64] {
	return &Chain[int64]{
		Field: FieldPrice,
		Strategies: []Strategy[int64]{
			fromSelectors("price-selectors", priceSelectors, parsePrice),
			fromJSONLD("price-jsonld", priceLDPaths, normalize.Int64),
			fromScripts("price-script", priceKeys, normalize.Int64),
			fromText("price-text", rawPricePatterns, normalize.Int64),
		},
		Valid:  int64Range(1000, 1e11),
		Assign: func(l *models.ExtractedListing, v int64) { l.Price = &v },
	}
}

func pricePerAreaChain() *Chain[int64] {
	return &Chain[int64]{
		Field: FieldPricePerArea,
		Strategies: []Strategy[int64]{
			fromSelectors("price-per-area-selectors", pricePerAreaSelectors, normalize.Int64),
			fromScripts("price-per-area-script", pricePerAreaKeys, normalize.Int64),
			fromText("price-per-area-text", rawPricePerAreaPatterns, normalize.Int64),
		},
		Valid:  int64Range(1, 1e8),
		Assign: func(l *models.ExtractedListing, v int64) { l.PricePerArea = &v },
	}
}

func oldPriceChain() *Chain[int64] {
	return &Chain[int64]{
		Field: FieldOldPrice,
		Strategies: []Strategy[int64]{
			fromSelectors("old-price-selectors", oldPriceSelectors, parsePrice),
			fromScripts("old-price-script", oldPriceKeys, normalize.Int64),
			fromText("old-price-text", rawOldPricePatterns, normalize.Int64),
		},
		Valid:  int64Range(1000, 1e11),
		Assign: func(l *models.ExtractedListing, v int64) { l.OldPrice = &v },
	}
}

func areaTotalChain() *Chain[float64] {
	return &Chain[float64]{
		Field: FieldAreaTotal,
		Strategies: []Strategy[float64]{
			fromContainers("area-total-title", titleSelectors, titleAreaPatterns, normalize.Parse),
			fromContainers("area-total-features", featureContainers, areaTotalPatterns, normalize.Parse),
			fromJSONLD("area-total-jsonld", areaLDPaths, normalize.Parse),
			fromScripts("area-total-script", areaTotalKeys, normalize.Parse),
			fromText("area-total-text", areaTotalPatterns, normalize.Parse),
		},
		Valid:  areaRange(10000),
		Assign: func(l *models.ExtractedListing, v float64) { l.AreaTotal = &v },
	}
}

func areaLivingChain() *Chain[float64] {
	return &Chain[float64]{
		Field: FieldAreaLiving,
		Strategies: []Strategy[float64]{
			fromContainers("area-living-features", featureContainers, areaLivingPatterns, normalize.Parse),
			fromScripts("area-living-script", areaLivingKeys, normalize.Parse),
			fromText("area-living-text", areaLivingPatterns, normalize.Parse),
		},
		Valid:  areaRange(10000),
		Assign: func(l *models.ExtractedListing, v float64) { l.AreaLiving = &v },
	}
}

func areaKitchenChain() *Chain[float64] {
	return &Chain[float64]{
		Field: FieldAreaKitchen,
		Strategies: []Strategy[float64]{
			fromContainers("area-kitchen-features", featureContainers, areaKitchenPatterns, normalize.Parse),
			fromScripts("area-kitchen-script", areaKitchenKeys, normalize.Parse),
			fromText("area-kitchen-text", areaKitchenPatterns, normalize.Parse),
		},
		Valid:  areaRange(1000),
		Assign: func(l *models.ExtractedListing, v float64) { l.AreaKitchen = &v },
	}
}

func floorCurrentChain() *Chain[int] {
	return &Chain[int]{
		Field: FieldFloorCurrent,
		Strategies: []Strategy[int]{
			fromContainers("floor-current-features", featureContainers, floorCurrentPatterns, normalize.Int),
			fromJSONLD("floor-current-jsonld", floorLDPaths, normalize.Int),
			fromScripts("floor-current-script", floorCurrentKeys, normalize.Int),
			fromText("floor-current-text", floorCurrentPatterns, normalize.Int),
		},
		Valid:  intRange(1, 200),
		Assign: func(l *models.ExtractedListing, v int) { l.FloorCurrent = &v },
	}
}

// floorTotalChain runs after floor_current so that a total below the
// current floor can be rejected.
func floorTotalChain() *Chain[int] {
	inRange := intRange(1, 200)
	return &Chain[int]{
		Field: FieldFloorTotal,
		After: []Field{FieldFloorCurrent},
		Strategies: []Strategy[int]{
			fromContainers("floor-total-features", featureContainers, floorTotalPatterns, normalize.Int),
			fromScripts("floor-total-script", floorTotalKeys, normalize.Int),
			fromText("floor-total-text", floorTotalPatterns, normalize.Int),
		},
		Valid: func(v int, st *state) bool {
			if !inRange(v, st) {
				return false
			}
			cur := st.listing.FloorCurrent
			return cur == nil || v >= *cur
		},
		Assign: func(l *models.ExtractedListing, v int) { l.FloorTotal = &v },
	}
}

func roomsChain() *Chain[int] {
	return &Chain[int]{
		Field: FieldRooms,
		Strategies: []Strategy[int]{
			fromContainers("rooms-title", titleSelectors, titleRoomsPatterns, parseRooms),
			fromContainers("rooms-features", featureContainers, roomsLabelPatterns, normalize.Int),
			fromJSONLD("rooms-jsonld", roomsLDPaths, normalize.Int),
			fromScripts("rooms-script", roomsKeys, normalize.Int),
			fromText("rooms-text", rawRoomsPatterns, parseRooms),
		},
		Valid:  intRange(0, 20),
		Assign: func(l *models.ExtractedListing, v int) { l.Rooms = &v },
	}
}

// yearChain reads the construction year off the page. Inference from the
// building era is a separate plan step.
func yearChain() *Chain[int] {
	return &Chain[int]{
		Field: FieldYearBuilt,
		Strategies: []Strategy[int]{
			fromContainers("year-features", featureContainers, yearLabelPatterns, normalize.Int),
			fromJSONLD("year-jsonld", yearLDPaths, normalize.Int),
			fromScripts("year-script", yearKeys, normalize.Int),
			fromText("year-text", rawYearPatterns, normalize.Int),
		},
		Valid:  validYear,
		Assign: assignYear,
	}
}

func districtChain() *Chain[string] {
	return &Chain[string]{
		Field: FieldDistrict,
		Strategies: []Strategy[string]{
			fromSelectors("district-geolabel", geoLabelSelectors, districtLabel),
			{Name: "district-address", Run: func(doc *Document, _ *state, accept func(string) bool) (string, bool) {
				var out string
				found := false
				for _, sel := range addressSelectors {
					doc.eachText(sel, func(text string) bool {
						for _, part := range strings.Split(text, ",") {
							if v, ok := districtLabel(part); ok && accept(v) {
								out, found = v, true
								return true
							}
						}
						return false
					})
					if found {
						break
					}
				}
				return out, found
			}},
			fromScripts("district-script", append([]*regexp.Regexp{districtNameKey}, districtKeys...), cleanDistrict),
			fromText("district-text", rawDistrictPatterns, cleanDistrict),
		},
		Valid: func(v string, _ *state) bool {
			n := utf8.RuneCountInString(v)
			return n >= 2 && n <= 60 && !districtStopwords[v]
		},
		Assign: func(l *models.ExtractedListing, v string) { l.District = &v },
	}
}

func sellerChain() *Chain[models.SellerType] {
	return &Chain[models.SellerType]{
		Field: FieldSellerType,
		Strategies: []Strategy[models.SellerType]{
			fromSelectors("seller-block", sellerSelectors, sellerFromText),
			fromScripts("seller-script", []*regexp.Regexp{homeownerFlag}, func(s string) (models.SellerType, bool) {
				if s == "true" {
					return models.SellerOwner, true
				}
				return models.SellerAgency, true
			}),
		},
		Assign: func(l *models.ExtractedListing, v models.SellerType) { l.SellerType = &v },
	}
}

func validYear(v int, st *state) bool {
	return v >= 1800 && v <= st.year
}

func assignYear(l *models.ExtractedListing, v int) { l.YearBuilt = &v }

func int64Range(lo, hi int64) func(int64, *state) bool {
	return func(v int64, _ *state) bool { return v >= lo && v <= hi }
}

func intRange(lo, hi int) func(int, *state) bool {
	return func(v int, _ *state) bool { return v >= lo && v <= hi }
}

func areaRange(hi float64) func(float64, *state) bool {
	return func(v float64, _ *state) bool { return v > 0 && v <= hi }
}

// parsePrice reads a total price, refusing per-square-metre figures
func parsePrice(text string) (int64, bool) {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "/м") || strings.Contains(lower, "за м") {
		return 0, false
	}
	return normalize.Int64(text)
}

// parseRooms maps studio wording to 0 rooms
func parseRooms(text string) (int, bool) {
	if strings.Contains(strings.ToLower(text), "студи") {
		return 0, true
	}
	return normalize.Int(text)
}

func oneLine(text string) (string, bool) {
	s := oneLineText(text)
	return s, s != ""
}

func oneLineText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

var districtMarker = regexp.MustCompile(`(?i)(?:^|\s)(?:р-н|район)(?:\s|$)`)

// districtLabel accepts only text that names itself a district
func districtLabel(text string) (string, bool) {
	if !districtMarker.MatchString(text) {
		return "", false
	}
	return cleanDistrict(text)
}

func cleanDistrict(text string) (string, bool) {
	s := districtMarker.ReplaceAllString(oneLineText(text), " ")
	s = strings.Trim(strings.TrimSpace(s), ",.;")
	s = strings.TrimSpace(s)
	return s, s != ""
}

func sellerFromText(text string) (models.SellerType, bool) {
	lower := strings.ToLower(text)
	for _, kw := range sellerKeywords {
		if strings.Contains(lower, kw.Needle) {
			return kw.Type, true
		}
	}
	return "", false
}
