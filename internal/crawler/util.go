package crawler

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

// firstSelectorMatch returns the first node matching selector, if any.
func firstSelectorMatch(body []byte, selector string) (*goquery.Selection, bool) {
	if selector == "" {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	sel := doc.Find(selector).First()
	return sel, sel.Length() > 0
}
