package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"flat_scrooper/config"
	"flat_scrooper/extract"
	"flat_scrooper/httputil"
	"flat_scrooper/identity"
)

// Offer is one listing link found on a search page
type Offer struct {
	URL        string
	ExternalID string
}

// Handler fetches search and offer pages for one site
type Handler interface {
	ID() string
	Search(ctx context.Context, searchURL string) ([]Offer, error)
	Fetch(ctx context.Context, offerURL string) (*extract.Document, error)
}

var defaultOfferPattern = regexp.MustCompile(`/sale/(?:flat|newbuilding)/\d+/?$`)

func NewHandler(siteCfg *config.SiteConfig, clients *httputil.Clients) (Handler, error) {
	pattern := defaultOfferPattern
	if siteCfg.OfferPath != "" {
		var err error
		if pattern, err = regexp.Compile(siteCfg.OfferPath); err != nil {
			return nil, fmt.Errorf("site %s: offer_pattern: %w", siteCfg.ID, err)
		}
	}

	switch siteCfg.Handler {
	case "browser":
		return NewBrowserHandler(siteCfg, pattern), nil
	case "http", "":
		return NewHTTPHandler(siteCfg, clients.Scraping, pattern), nil
	default:
		return nil, fmt.Errorf("site %s: unknown handler %q", siteCfg.ID, siteCfg.Handler)
	}
}

// offerLinks collects distinct offer links from a search page in document
// order. Relative links resolve against base.
func offerLinks(dom *goquery.Document, base *url.URL, pattern *regexp.Regexp) []Offer {
	seen := make(map[string]bool)
	var offers []Offer

	dom.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		abs.RawQuery = ""
		abs.Fragment = ""
		if !pattern.MatchString(abs.Path) {
			return
		}

		link := identity.NormalizeURL(abs.String())
		id := identity.ExternalID(link)
		if seen[id] {
			return
		}
		seen[id] = true
		offers = append(offers, Offer{URL: link, ExternalID: id})
	})

	return offers
}
