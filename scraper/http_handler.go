package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"flat_scrooper/config"
	"flat_scrooper/extract"
)

const maxPageBytes = 8 << 20

// HTTPHandler fetches server-rendered pages with a plain HTTP client
type HTTPHandler struct {
	cfg     *config.SiteConfig
	client  *http.Client
	pattern *regexp.Regexp
}

func NewHTTPHandler(cfg *config.SiteConfig, client *http.Client, pattern *regexp.Regexp) *HTTPHandler {
	return &HTTPHandler{cfg: cfg, client: client, pattern: pattern}
}

func (h *HTTPHandler) ID() string {
	return h.cfg.ID
}

func (h *HTTPHandler) Search(ctx context.Context, searchURL string) ([]Offer, error) {
	body, finalURL, err := h.get(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dom, err := goquery.NewDocumentFromReader(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	return offerLinks(dom, finalURL, h.pattern), nil
}

func (h *HTTPHandler) Fetch(ctx context.Context, offerURL string) (*extract.Document, error) {
	body, _, err := h.get(ctx, offerURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return extract.ParseDocument(io.LimitReader(body, maxPageBytes), offerURL)
}

func (h *HTTPHandler) get(ctx context.Context, rawURL string) (io.ReadCloser, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, resp.Request.URL, nil
}
