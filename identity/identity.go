package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var (
	digitsOnly      = regexp.MustCompile(`^\d+$`)
	multiSlashRegex = regexp.MustCompile(`/{2,}`)
)

// ExternalID derives a stable identifier for a listing URL: the last
// all-digit path segment ("/sale/flat/301245678/" -> "301245678"), or a
// hash of the normalized URL when the path carries no numeric id.
func ExternalID(sourceURL string) string {
	normalized := NormalizeURL(sourceURL)

	if u, err := url.Parse(normalized); err == nil {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := len(segments) - 1; i >= 0; i-- {
			if digitsOnly.MatchString(segments[i]) {
				return segments[i]
			}
		}
	}

	hash := sha256.Sum256([]byte(normalized))
	return "url-" + hex.EncodeToString(hash[:8])
}

// NormalizeURL lowercases scheme and host, drops the fragment and collapses
// duplicate slashes, so trivially different spellings hash the same.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = multiSlashRegex.ReplaceAllString(u.Path, "/")
	return u.String()
}
