package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"flat_scrooper/models"
	"flat_scrooper/normalize"
)

func metroStationChain() *Chain[string] {
	return &Chain[string]{
		Field: FieldMetroStation,
		Strategies: []Strategy[string]{
			fromSelectors("metro-dedicated", dedicatedMetroSelectors, cleanStation),
			fromSelectors("metro-generic", genericMetroSelectors, transitStation),
			fromScripts("metro-script", append([]*regexp.Regexp{undergroundNameKey}, metroKeys...), cleanStation),
			{Name: "metro-gazetteer", Run: stationFromText},
		},
		Valid: func(v string, _ *state) bool {
			n := utf8.RuneCountInString(v)
			if n < 3 || n > 40 {
				return false
			}
			r, _ := utf8.DecodeRuneInString(v)
			return !unicode.IsDigit(r)
		},
		Assign: func(l *models.ExtractedListing, v string) { l.MetroStation = &v },
	}
}

func metroTimeChain() *Chain[int] {
	return &Chain[int]{
		Field: FieldMetroTime,
		Strategies: []Strategy[int]{
			fromSelectors("metro-time-selectors", metroTimeSelectors, parseMinutes),
			fromScripts("metro-time-script", metroTimeKeys, normalize.Int),
			{Name: "metro-time-transit-window", Run: minutesNearTransit},
			{Name: "metro-time-station-window", Needs: []Field{FieldMetroStation}, Run: minutesNearStation},
		},
		Valid:  intRange(1, 120),
		Assign: func(l *models.ExtractedListing, v int) { l.MetroTimeMinutes = &v },
	}
}

var (
	stationParens = regexp.MustCompile(`\([^)]*\)`)
	stationPrefix = regexp.MustCompile(`(?i)^(?:ст\.\s*)?(?:метро|м\.)\s*`)
	stationTail   = regexp.MustCompile(`(?i)\s*\d+\s*мин.*$`)
)

// cleanStation strips metro prefixes, minute counts and notes from the
// first line of an element's text.
func cleanStation(text string) (string, bool) {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = stationParens.ReplaceAllString(line, "")
	line = stationPrefix.ReplaceAllString(strings.TrimSpace(line), "")
	line = stationTail.ReplaceAllString(line, "")
	line = strings.Trim(line, " ,.;•·–-")
	line = oneLineText(line)
	return line, line != ""
}

// transitStation accepts element text only when it names a known station
// next to a transit keyword. Class names alone say nothing about what the
// element holds.
func transitStation(text string) (string, bool) {
	return stationInText(text, func(string) bool { return true })
}

var foldedStations = func() []string {
	out := make([]string, len(spbStations))
	for i, s := range spbStations {
		out[i] = foldStation(s)
	}
	return out
}()

// foldStation lowercases and maps ё to е. Each rune maps to exactly one
// rune, so offsets in the folded text line up with the original.
func foldStation(s string) string {
	return strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if r == 'ё' {
			return 'е'
		}
		return r
	}, s)
}

// stationFromText picks the earliest gazetteer mention in the page text
// that has a transit keyword close by.
func stationFromText(doc *Document, _ *state, accept func(string) bool) (string, bool) {
	return stationInText(doc.RawText, accept)
}

func stationInText(text string, accept func(string) bool) (string, bool) {
	orig := []rune(text)
	folded := []rune(foldStation(text))

	best, bestPos, bestLen := "", -1, 0
	for i, name := range spbStations {
		needle := []rune(foldedStations[i])
		for _, pos := range runeIndexes(folded, needle) {
			if bestPos >= 0 && pos > bestPos {
				break
			}
			if !wordBounded(folded, pos, len(needle)) || !nearTransit(orig, pos, len(needle), stationWindow) {
				continue
			}
			if !accept(name) {
				break
			}
			if bestPos < 0 || pos < bestPos || len(needle) > bestLen {
				best, bestPos, bestLen = name, pos, len(needle)
			}
			break
		}
	}
	return best, bestPos >= 0
}

func minutesNearTransit(doc *Document, _ *state, accept func(int) bool) (int, bool) {
	runes := []rune(doc.RawText)
	for _, m := range minuteMatches(doc.RawText) {
		if nearTransit(runes, m.pos, m.len, timeWindow) && accept(m.value) {
			return m.value, true
		}
	}
	return 0, false
}

func minutesNearStation(doc *Document, st *state, accept func(int) bool) (int, bool) {
	folded := []rune(foldStation(doc.RawText))
	needle := []rune(foldStation(*st.listing.MetroStation))
	stations := runeIndexes(folded, needle)
	for _, m := range minuteMatches(doc.RawText) {
		for _, pos := range stations {
			if m.pos+m.len >= pos-timeWindow && m.pos <= pos+len(needle)+timeWindow && accept(m.value) {
				return m.value, true
			}
		}
	}
	return 0, false
}

type minuteMatch struct {
	value, pos, len int
}

func minuteMatches(text string) []minuteMatch {
	var out []minuteMatch
	for _, loc := range minutesPattern.FindAllStringSubmatchIndex(text, -1) {
		v, ok := normalize.Int(text[loc[2]:loc[3]])
		if !ok {
			continue
		}
		out = append(out, minuteMatch{
			value: v,
			pos:   utf8.RuneCountInString(text[:loc[0]]),
			len:   utf8.RuneCountInString(text[loc[0]:loc[1]]),
		})
	}
	return out
}

func parseMinutes(text string) (int, bool) {
	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		return normalize.Int(m[1])
	}
	if strings.TrimFunc(text, unicode.IsDigit) == "" {
		return normalize.Int(text)
	}
	return 0, false
}

// nearTransit reports whether a transit keyword occurs within window runes
// of the span [pos, pos+n).
func nearTransit(text []rune, pos, n, window int) bool {
	from := max(0, pos-window)
	to := min(len(text), pos+n+window)
	span := string(text[from:to])
	for _, re := range transitKeywords {
		if re.MatchString(span) {
			return true
		}
	}
	return false
}

func runeIndexes(haystack, needle []rune) []int {
	var out []int
	if len(needle) == 0 {
		return out
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i] == needle[0] && equalRunes(haystack[i:i+len(needle)], needle) {
			out = append(out, i)
		}
	}
	return out
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func wordBounded(text []rune, pos, n int) bool {
	if pos > 0 && unicode.IsLetter(text[pos-1]) {
		return false
	}
	end := pos + n
	return end >= len(text) || !unicode.IsLetter(text[end])
}
