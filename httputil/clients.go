package httputil

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"flat_scrooper/config"
)

type Clients struct {
	Scraping *http.Client // target sites, follows redirects
	Liveness *http.Client // target sites, never follows redirects
}

func NewClients(proxyCfg config.ProxyConfig, scraperCfg config.ScraperConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			log.Printf("HTTP clients using proxy: %s", proxyURL.Host)
		} else {
			log.Printf("Warning: ignoring invalid PROXY_URL: %v", err)
		}
	}

	timeout := scraperCfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rt := &userAgentTransport{base: transport, userAgent: scraperCfg.UserAgent}

	return &Clients{
		Scraping: &http.Client{Timeout: timeout, Transport: rt},
		Liveness: &http.Client{
			Timeout:   timeout,
			Transport: rt,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// userAgentTransport sets a User-Agent and Accept-Language on requests
// that don't carry one
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
		if req.Header.Get("Accept-Language") == "" {
			req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
		}
	}
	return t.base.RoundTrip(req)
}
