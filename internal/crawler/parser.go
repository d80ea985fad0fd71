package crawler

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Default selectors for the Buyee Mercari search results iframe. The class
// suffixes are CSS-module hashes and rotate when Buyee redeploys; keeping them
// in config lets operators patch without a rebuild.
const (
	DefaultItemSelector   = "a.simple_container__llX1q"
	DefaultSoldSelector   = "span.sold_text__yvzaS"
	DefaultTitleSelector  = "span.simple_name__XMcbt"
	DefaultPriceSelector  = "span.simple_price__h13DP"
	DefaultIframeSelector = `iframe[src*="asf.buyee.jp/mercari"]`
)

// ListingParser extracts listings from a rendered search page.
type ListingParser struct {
	itemSelector  string
	soldSelector  string
	titleSelector string
	priceSelector string
}

// NewListingParser builds a parser, falling back to the default Buyee
// selectors for any left empty.
func NewListingParser(cfg Config) *ListingParser {
	p := &ListingParser{
		itemSelector:  cfg.ItemSelector,
		soldSelector:  cfg.SoldSelector,
		titleSelector: cfg.TitleSelector,
		priceSelector: cfg.PriceSelector,
	}
	if p.itemSelector == "" {
		p.itemSelector = DefaultItemSelector
	}
	if p.soldSelector == "" {
		p.soldSelector = DefaultSoldSelector
	}
	if p.titleSelector == "" {
		p.titleSelector = DefaultTitleSelector
	}
	if p.priceSelector == "" {
		p.priceSelector = DefaultPriceSelector
	}
	return p
}

// Parse walks the item anchors in the snapshot body and returns every
// non-sold listing. Sold items are filtered here; price ceilings and URL
// dedup belong to the caller.
func (p *ListingParser) Parse(snap Snapshot, fetchedAt time.Time) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(snap.Body))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	var listings []Listing
	doc.Find(p.itemSelector).Each(func(_ int, sel *goquery.Selection) {
		if sel.Find(p.soldSelector).Length() > 0 {
			return
		}
		href, _ := sel.Attr("href")
		image, _ := sel.Find("img").First().Attr("src")
		price := strings.TrimSpace(sel.Find(p.priceSelector).First().Text())
		listings = append(listings, Listing{
			Code:      snap.Code,
			Title:     strings.TrimSpace(sel.Find(p.titleSelector).First().Text()),
			Price:     price,
			PriceYen:  ParseYen(price),
			ImageURL:  image,
			URL:       AbsoluteListingURL(href),
			FetchedAt: fetchedAt,
		})
	})
	return listings, nil
}

// IframeSrc extracts the Mercari results iframe src from the outer search
// page, if present.
func IframeSrc(body []byte, selector string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	src, ok := doc.Find(selector).First().Attr("src")
	return src, ok && src != ""
}
