package scraper

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"flat_scrooper/config"
	"flat_scrooper/extract"
)

const navigationTimeoutMS = 45000

// BrowserHandler renders pages in a persistent Chromium profile. Offer
// documents carry both the rendered HTML and the page's innerText.
type BrowserHandler struct {
	cfg     *config.SiteConfig
	pattern *regexp.Regexp

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
}

func NewBrowserHandler(cfg *config.SiteConfig, pattern *regexp.Regexp) *BrowserHandler {
	return &BrowserHandler{cfg: cfg, pattern: pattern}
}

func (h *BrowserHandler) ID() string {
	return h.cfg.ID
}

func (h *BrowserHandler) Search(ctx context.Context, searchURL string) ([]Offer, error) {
	page, err := h.open(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read search page: %w", err)
	}
	dom, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	base, _ := url.Parse(page.URL())
	return offerLinks(dom, base, h.pattern), nil
}

func (h *BrowserHandler) Fetch(ctx context.Context, offerURL string) (*extract.Document, error) {
	page, err := h.open(ctx, offerURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read offer page: %w", err)
	}
	text, err := page.Locator("body").InnerText()
	if err != nil {
		text = ""
	}
	return extract.NewDocument(text, content, offerURL)
}

// open navigates a fresh tab; the caller closes it
func (h *BrowserHandler) open(ctx context.Context, target string) (playwright.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := h.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	resp, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(navigationTimeoutMS),
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}
	if resp != nil && resp.Status() >= 400 {
		page.Close()
		return nil, fmt.Errorf("GET %s: status %d", target, resp.Status())
	}
	return page, nil
}

func (h *BrowserHandler) ensureBrowser() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return nil
	}

	var err error
	h.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	headless := true
	if h.cfg.Headless != nil {
		headless = *h.cfg.Headless
	}

	cwd, _ := os.Getwd()
	userDataDir := filepath.Join(cwd, "browser_data", h.cfg.ID)
	h.context, err = h.pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(headless),
		Locale:   playwright.String("ru-RU"),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		h.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	h.initialized = true
	return nil
}

func (h *BrowserHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.context != nil {
		h.context.Close()
	}
	if h.pw != nil {
		h.pw.Stop()
	}
	h.initialized = false
}
