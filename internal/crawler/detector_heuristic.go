package crawler

import (
	"bytes"
	"context"
)

// HeuristicDetector implements PageDetector using simple HTML signals.
type HeuristicDetector struct {
	minHTMLBytes int
	itemSelector string
	keywords     [][]byte
}

// NewHeuristicDetector constructs a detector with the configured thresholds.
func NewHeuristicDetector(cfg Config) *HeuristicDetector {
	lowerKeywords := make([][]byte, 0, len(cfg.DetectorKeywords))
	for _, kw := range cfg.DetectorKeywords {
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	itemSelector := cfg.ItemSelector
	if itemSelector == "" {
		itemSelector = DefaultItemSelector
	}
	return &HeuristicDetector{
		minHTMLBytes: cfg.DetectorMinHTMLBytes,
		itemSelector: itemSelector,
		keywords:     lowerKeywords,
	}
}

// NeedsJS inspects the probe snapshot for signals that the search results are
// only populated client-side. Buyee search pages practically always need the
// renderer; the probe exists to catch blocks and to keep the fast path for a
// future server-rendered variant.
func (d *HeuristicDetector) NeedsJS(_ context.Context, snap Snapshot) bool {
	if d == nil {
		return false
	}
	switch {
	case d.bodyBelowThreshold(snap.Body):
		return true
	case d.containsKeywords(snap.Body):
		return true
	default:
		return d.missingItems(snap.Body)
	}
}

func (d *HeuristicDetector) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *HeuristicDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if len(kw) == 0 {
			continue
		}
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *HeuristicDetector) missingItems(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	_, ok := firstSelectorMatch(body, d.itemSelector)
	return !ok
}
