// Package crawler contains the core types and pipeline pieces for watching
// Buyee Mercari search results: the watch entries pulled from the sheet, the
// listings scraped out of the rendered search page, and the interfaces the
// worker pipeline is assembled from.
package crawler
