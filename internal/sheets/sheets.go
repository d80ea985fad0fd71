// Package sheets reads the watchlist from and writes new listings to the
// shared Google Sheet. The `code` worksheet holds keyword codes and optional
// price ceilings; the `list` worksheet accumulates discovered listings.
package sheets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

// noResultTitle is the placeholder row title written when a keyword returns
// nothing. Kept verbatim from the sheet's original Korean wording.
const noResultTitle = "결과 없음"

// sheetDateLayout matches the date format already present in the list sheet.
const sheetDateLayout = "2006-01-02 15:04:05"

// listingRow converts a listing into the six-column list sheet layout:
// code, title, price, image formula, url, date.
func listingRow(l crawler.Listing) []any {
	imageCell := ""
	if l.ImageURL != "" {
		imageCell = fmt.Sprintf("=IMAGE(%q,1)", l.ImageURL)
	}
	return []any{l.Code, l.Title, l.Price, imageCell, l.URL, l.FetchedAt.Format(sheetDateLayout)}
}

// NoResultListing builds the placeholder listing recorded for a keyword with
// zero live results.
func NoResultListing(code string, fetchedAt time.Time) crawler.Listing {
	return crawler.Listing{
		Code:      code,
		Title:     noResultTitle,
		FetchedAt: fetchedAt,
	}
}

// IsNoResult reports whether a listing is the zero-results placeholder.
func IsNoResult(l crawler.Listing) bool {
	return l.Title == noResultTitle && l.URL == ""
}

// parseWatchRow converts one row of the code sheet into a WatchEntry.
// Column A is the keyword; column B, when parseable, is the yen ceiling.
// Comma grouping ("12,000") is tolerated; anything unparseable means no limit.
func parseWatchRow(row []any) (crawler.WatchEntry, bool) {
	if len(row) == 0 {
		return crawler.WatchEntry{}, false
	}
	code := strings.TrimSpace(cellString(row[0]))
	if code == "" {
		return crawler.WatchEntry{}, false
	}
	entry := crawler.WatchEntry{Code: code}
	if len(row) > 1 {
		raw := strings.ReplaceAll(strings.TrimSpace(cellString(row[1])), ",", "")
		if max, err := strconv.Atoi(raw); err == nil {
			entry.MaxPriceYen = &max
		}
	}
	return entry, true
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
