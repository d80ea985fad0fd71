package crawler

import "regexp"

var nonDigits = regexp.MustCompile(`[^\d]`)

// ParseYen extracts the integer yen amount from a display price such as
// "1,200円" or "¥3 500". An empty or digit-free string parses to zero.
func ParseYen(display string) int {
	digits := nonDigits.ReplaceAllString(display, "")
	if digits == "" {
		return 0
	}
	// Prices never approach the int64 range; accumulate manually so a stray
	// huge string cannot panic strconv paths.
	total := 0
	for _, r := range digits {
		total = total*10 + int(r-'0')
		if total > 1<<40 {
			return total
		}
	}
	return total
}

// WithinCeiling reports whether a listing price is at or under the entry's
// ceiling. A nil ceiling admits everything.
func (e WatchEntry) WithinCeiling(priceYen int) bool {
	if e.MaxPriceYen == nil {
		return true
	}
	return priceYen <= *e.MaxPriceYen
}
