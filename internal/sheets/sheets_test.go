package sheets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

func TestParseWatchRow(t *testing.T) {
	t.Parallel()

	entry, ok := parseWatchRow([]any{" pokemon card ", "12,000"})
	require.True(t, ok)
	require.Equal(t, "pokemon card", entry.Code)
	require.NotNil(t, entry.MaxPriceYen)
	require.Equal(t, 12000, *entry.MaxPriceYen)

	// Unparseable ceiling means no limit, not a dropped row.
	entry, ok = parseWatchRow([]any{"yugioh", "無制限"})
	require.True(t, ok)
	require.Nil(t, entry.MaxPriceYen)

	entry, ok = parseWatchRow([]any{"onepiece"})
	require.True(t, ok)
	require.Nil(t, entry.MaxPriceYen)

	_, ok = parseWatchRow([]any{"   "})
	require.False(t, ok)

	_, ok = parseWatchRow(nil)
	require.False(t, ok)
}

func TestListingRow(t *testing.T) {
	t.Parallel()

	fetchedAt := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	row := listingRow(crawler.Listing{
		Code:      "pokemon",
		Title:     "Charizard Card",
		Price:     "1,200円",
		ImageURL:  "https://static.mercdn.net/m111.jpg",
		URL:       "https://buyee.jp/mercari/item/m111",
		FetchedAt: fetchedAt,
	})

	require.Equal(t, []any{
		"pokemon",
		"Charizard Card",
		"1,200円",
		`=IMAGE("https://static.mercdn.net/m111.jpg",1)`,
		"https://buyee.jp/mercari/item/m111",
		"2026-08-25 09:30:00",
	}, row)
}

func TestListingRow_NoImage(t *testing.T) {
	t.Parallel()

	row := listingRow(crawler.Listing{Code: "pokemon", FetchedAt: time.Now()})
	require.Equal(t, "", row[3], "no image formula without an image URL")
}

func TestNoResultListing(t *testing.T) {
	t.Parallel()

	fetchedAt := time.Now()
	l := NoResultListing("pokemon", fetchedAt)
	require.True(t, IsNoResult(l))
	require.Equal(t, "pokemon", l.Code)
	require.Equal(t, fetchedAt, l.FetchedAt)

	require.False(t, IsNoResult(crawler.Listing{Title: "Charizard Card", URL: "https://buyee.jp/x"}))
}

func TestMemoryWatchboard(t *testing.T) {
	t.Parallel()

	ceiling := 3000
	board := NewMemoryWatchboard([]crawler.WatchEntry{
		{Code: "pokemon", MaxPriceYen: &ceiling},
	})
	ctx := context.Background()

	entries, err := board.Watchlist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	urls, err := board.ExistingURLs(ctx)
	require.NoError(t, err)
	require.Empty(t, urls)

	require.NoError(t, board.AppendListings(ctx, []crawler.Listing{
		{Code: "pokemon", URL: "https://buyee.jp/mercari/item/m1"},
	}))

	urls, err = board.ExistingURLs(ctx)
	require.NoError(t, err)
	require.Contains(t, urls, "https://buyee.jp/mercari/item/m1")
	require.Len(t, board.Listings(), 1)
}
