package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// buyeeOrigin is prefixed onto relative listing hrefs.
const buyeeOrigin = "https://buyee.jp"

// SearchURL builds the Buyee Mercari search page URL for a watch code.
func SearchURL(baseURL, code string) string {
	return fmt.Sprintf("%s?keyword=%s", strings.TrimRight(baseURL, "?"), url.QueryEscape(code))
}

// AbsoluteListingURL resolves a listing href against the Buyee origin.
// Absolute hrefs pass through unchanged.
func AbsoluteListingURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return buyeeOrigin + href
}
