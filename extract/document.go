package extract

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is one rendered listing page. The engine only reads it.
type Document struct {
	RawText        string
	DOM            *goquery.Document
	Scripts        []string
	SourceURL      string
	StructuredData map[string]any
}

// ParseDocument reads an HTML page and collects its visible text, script
// payloads and JSON-LD block.
func ParseDocument(r io.Reader, sourceURL string) (*Document, error) {
	dom, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromDOM(dom, sourceURL), nil
}

// FromDOM builds a Document from an already parsed page
func FromDOM(dom *goquery.Document, sourceURL string) *Document {
	doc := &Document{
		DOM:       dom,
		SourceURL: sourceURL,
		RawText:   VisibleText(dom.Selection),
	}

	var ldBlocks []string
	dom.Find("script").Each(func(_ int, s *goquery.Selection) {
		body := s.Text()
		if strings.TrimSpace(body) == "" {
			return
		}
		doc.Scripts = append(doc.Scripts, body)
		if t, _ := s.Attr("type"); strings.EqualFold(strings.TrimSpace(t), "application/ld+json") {
			ldBlocks = append(ldBlocks, body)
		}
	})
	doc.StructuredData = pickJSONLD(ldBlocks)

	return doc
}

// NewDocument assembles a Document from parts supplied by a fetch layer that
// already has the rendered text (a headless browser, for instance).
func NewDocument(rawText, pageHTML, sourceURL string) (*Document, error) {
	doc, err := ParseDocument(strings.NewReader(pageHTML), sourceURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rawText) != "" {
		doc.RawText = plainSpaces(rawText)
	}
	return doc, nil
}

// plainSpaces maps every Unicode space except the newline to an ASCII space,
// so that text patterns written against " " and \s also match NBSP-grouped
// numbers.
func plainSpaces(text string) string {
	return strings.Map(func(r rune) rune {
		if r != ' ' && r != '\n' && unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, text)
}

// Empty reports whether the document carries nothing to extract from
func (d *Document) Empty() bool {
	if d == nil {
		return true
	}
	if strings.TrimSpace(d.RawText) != "" || len(d.Scripts) > 0 || d.StructuredData != nil {
		return false
	}
	return d.DOM == nil || strings.TrimSpace(VisibleText(d.DOM.Selection)) == ""
}

// VisibleText joins the text nodes under sel with newlines, skipping
// script-like elements and the document head.
func VisibleText(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}

// eachText calls fn with the visible text of every element matching
// selector, in document order, until fn returns true.
func (d *Document) eachText(selector string, fn func(text string) bool) {
	if d.DOM == nil {
		return
	}
	d.DOM.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(VisibleText(s))
		if text == "" {
			return true
		}
		return !fn(text)
	})
}

// jsonLD walks StructuredData along path. Arrays step into their first element.
func (d *Document) jsonLD(path ...string) (any, bool) {
	var cur any = d.StructuredData
	if d.StructuredData == nil {
		return nil, false
	}
	for _, key := range path {
		if arr, ok := cur.([]any); ok {
			if len(arr) == 0 {
				return nil, false
			}
			cur = arr[0]
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// scalarText renders a decoded JSON value as text for the normalizer.
// QuantitativeValue objects yield their "value".
func scalarText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		if len(val) > 0 {
			return scalarText(val[0])
		}
	case map[string]any:
		if inner, ok := val["value"]; ok {
			return scalarText(inner)
		}
	}
	return ""
}

var ignoredLDTypes = map[string]bool{
	"BreadcrumbList": true,
	"Organization":   true,
	"WebSite":        true,
	"SearchAction":   true,
}

// pickJSONLD returns the first well-formed JSON-LD object that describes
// the offer itself rather than site chrome.
func pickJSONLD(blocks []string) map[string]any {
	var fallback map[string]any
	for _, block := range blocks {
		var raw any
		if err := json.Unmarshal([]byte(block), &raw); err != nil {
			continue
		}
		for _, obj := range ldObjects(raw) {
			if fallback == nil {
				fallback = obj
			}
			if t, _ := obj["@type"].(string); !ignoredLDTypes[t] {
				return obj
			}
		}
	}
	return fallback
}

func ldObjects(raw any) []map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			return ldObjects(graph)
		}
		return []map[string]any{v}
	case []any:
		var out []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
