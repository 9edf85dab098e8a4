package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func parseFixture(t *testing.T, name, sourceURL string) *Document {
	t.Helper()
	doc, err := ParseDocument(strings.NewReader(string(loadFixture(t, name))), sourceURL)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return doc
}

func TestParseDocument_VisibleTextSkipsScripts(t *testing.T) {
	doc := parseFixture(t, "cian_resale.html", "https://spb.cian.ru/sale/flat/301245678/")

	if strings.Contains(doc.RawText, "_cianConfig") {
		t.Fatalf("raw text contains script body")
	}
	if strings.Contains(doc.RawText, "font-weight") {
		t.Fatalf("raw text contains style body")
	}
	if strings.Contains(doc.RawText, "Включите JavaScript") {
		t.Fatalf("raw text contains noscript body")
	}
	if strings.Contains(doc.RawText, "Продажа 2-комнатной квартиры") {
		t.Fatalf("raw text contains head title")
	}
	if !strings.Contains(doc.RawText, "12 500 000 ₽") {
		t.Fatalf("expected price text with plain spaces, got %q", doc.RawText)
	}
}

func TestParseDocument_ScriptsAndJSONLD(t *testing.T) {
	doc := parseFixture(t, "cian_resale.html", "https://spb.cian.ru/sale/flat/301245678/")

	if len(doc.Scripts) != 3 {
		t.Fatalf("expected 3 scripts, got %d", len(doc.Scripts))
	}
	if !strings.Contains(doc.Scripts[2], "isNewbuilding") {
		t.Fatalf("scripts out of document order")
	}
	if doc.StructuredData == nil {
		t.Fatalf("expected JSON-LD data")
	}
	if doc.StructuredData["@type"] != "Product" {
		t.Fatalf("expected Product block to win over breadcrumbs, got %v", doc.StructuredData["@type"])
	}
	price, ok := doc.jsonLD("offers", "price")
	if !ok || scalarText(price) != "12500000" {
		t.Fatalf("expected offers.price 12500000, got %v", price)
	}
}

func TestParseDocument_JSONLDGraph(t *testing.T) {
	page := `<html><body><p>x</p><script type="application/ld+json">
	{"@context":"https://schema.org","@graph":[
		{"@type":"WebSite","name":"site"},
		{"@type":"Apartment","numberOfRooms":3,"floorSize":{"@type":"QuantitativeValue","value":71.2}}
	]}</script></body></html>`

	doc, err := ParseDocument(strings.NewReader(page), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.StructuredData["@type"] != "Apartment" {
		t.Fatalf("expected Apartment from @graph, got %v", doc.StructuredData)
	}
	size, _ := doc.jsonLD("floorSize")
	if scalarText(size) != "71.2" {
		t.Fatalf("expected floorSize value 71.2, got %q", scalarText(size))
	}
}

func TestParseDocument_MalformedJSONLD(t *testing.T) {
	page := `<html><body><p>Цена 5 000 000 ₽</p><script type="application/ld+json">{"@type": "Product",</script></body></html>`

	doc, err := ParseDocument(strings.NewReader(page), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.StructuredData != nil {
		t.Fatalf("expected nil structured data, got %v", doc.StructuredData)
	}
	if len(doc.Scripts) != 1 {
		t.Fatalf("malformed JSON-LD should still be kept as a script")
	}
}

func TestDocumentEmpty(t *testing.T) {
	tests := []struct {
		name  string
		page  string
		empty bool
	}{
		{"no input", "", true},
		{"whitespace body", "<html><body>  \n </body></html>", true},
		{"head only", "<html><head><title>t</title></head><body></body></html>", true},
		{"text", "<p>Студия</p>", false},
		{"script only", `<script>{"price": 100000}</script>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument(strings.NewReader(tt.page), "")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if doc.Empty() != tt.empty {
				t.Fatalf("Empty() = %v, want %v", doc.Empty(), tt.empty)
			}
		})
	}

	var nilDoc *Document
	if !nilDoc.Empty() {
		t.Fatalf("nil document should be empty")
	}
	if (&Document{RawText: "5 этаж"}).Empty() {
		t.Fatalf("document with raw text only is not empty")
	}
}

func TestNewDocumentPrefersRenderedText(t *testing.T) {
	doc, err := NewDocument("Общая площадь 40 м²", "<html><body><div>ignored</div></body></html>", "https://example.com/1/")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if doc.RawText != "Общая площадь 40 м²" {
		t.Fatalf("expected rendered text to win, got %q", doc.RawText)
	}
	if doc.DOM == nil {
		t.Fatalf("expected DOM to be parsed")
	}
}

func TestNewDocumentPlainsNonBreakingSpaces(t *testing.T) {
	doc, err := NewDocument("12\u00a0500\u00a0000\u00a0₽\nДо метро\u202f7 мин", "<html><body></body></html>", "https://example.com/1/")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if doc.RawText != "12 500 000 ₽\nДо метро 7 мин" {
		t.Fatalf("expected ASCII spaces with lines kept, got %q", doc.RawText)
	}
}

func TestExtract_NonBreakingSpaceGroups(t *testing.T) {
	doc := &Document{
		RawText:   "12\u00a0500\u00a0000 ₽\nСтарая цена 13\u00a0000\u00a0000\nОбщая площадь 54,3\u00a0м²",
		SourceURL: "https://spb.cian.ru/sale/flat/1/",
	}
	listing, err := newTestEngine(t, testOptions()).Extract(doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if listing.Price == nil || *listing.Price != 12500000 {
		t.Fatalf("expected price 12500000, got %v", listing.Price)
	}
	if listing.OldPrice == nil || *listing.OldPrice != 13000000 {
		t.Fatalf("expected old price 13000000, got %v", listing.OldPrice)
	}
	if listing.AreaTotal == nil || *listing.AreaTotal != 54.3 {
		t.Fatalf("expected area 54.3, got %v", listing.AreaTotal)
	}
	if !strings.Contains(doc.RawText, "\u00a0") {
		t.Fatalf("extract must not modify the caller's document")
	}
}
