package database

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	submitted := time.Now().UTC()

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "queued", "manual", submitted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateRun(context.Background(), crawler.Run{
		ID:        "run-1",
		Status:    crawler.RunStatusQueued,
		Trigger:   crawler.TriggerManual,
		Submitted: submitted,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	counters := crawler.RunCounters{CodesCrawled: 3, ListingsAdded: 7, ListingsSeen: 2}

	mock.ExpectExec("UPDATE runs SET").
		WithArgs("run-1", "succeeded", "", 3, 0, 7, 2, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateRunStatus(context.Background(), "run-1", crawler.RunStatusSucceeded, "", counters)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE runs SET").
		WithArgs("missing", "failed", "boom", 0, 0, 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateRunStatus(context.Background(), "missing", crawler.RunStatusFailed, "boom", crawler.RunCounters{})
	require.ErrorContains(t, err, "not found")
}

func TestPostgresStore_SeenAndMark(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	url := "https://buyee.jp/mercari/item/m1"

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(url).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	seen, err := store.SeenURL(context.Background(), url)
	require.NoError(t, err)
	require.True(t, seen)

	mock.ExpectExec("INSERT INTO seen_urls").
		WithArgs(url).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.MarkSeen(context.Background(), url))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	submitted := time.Now().UTC()
	started := submitted.Add(time.Second)

	rows := pgxmock.NewRows([]string{
		"id", "status", "trigger", "submitted_at", "started_at", "finished_at", "error_text",
		"codes_crawled", "codes_failed", "listings_added", "listings_seen", "listings_priced_out",
	}).AddRow("run-1", "running", "schedule", submitted, &started, (*time.Time)(nil), "", 1, 0, 2, 0, 1)

	mock.ExpectQuery("SELECT id, status, trigger").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusRunning, run.Status)
	require.Equal(t, crawler.TriggerSchedule, run.Trigger)
	require.NotNil(t, run.Started)
	require.Nil(t, run.Finished)
	require.Equal(t, 1, run.Counters.CodesCrawled)
	require.Equal(t, 1, run.Counters.ListingsPriced)
}

func TestPostgresStore_ListListings(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fetchedAt := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"code", "title", "price", "price_yen", "image_url", "url", "fetched_at",
	}).AddRow("pokemon", "Charizard Card", "1,200円", 1200,
		"https://static.mercdn.net/m1.jpg", "https://buyee.jp/mercari/item/m1", fetchedAt)

	mock.ExpectQuery("SELECT code, title, price").
		WithArgs("run-1").
		WillReturnRows(rows)

	listings, err := store.ListListings(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "Charizard Card", listings[0].Title)
	require.Equal(t, 1200, listings[0].PriceYen)
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
}
