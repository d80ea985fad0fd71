package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/config"
	"github.com/buyeewatch/buyee-watcher/internal/crawler"
	"github.com/buyeewatch/buyee-watcher/internal/database"
	"github.com/buyeewatch/buyee-watcher/internal/dispatcher"
	queuememory "github.com/buyeewatch/buyee-watcher/internal/queue/memory"
)

type fakeIDGen struct {
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	id := f.ids[0]
	if len(f.ids) > 1 {
		f.ids = f.ids[1:]
	}
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, TimeoutSeconds: 30},
		Sheets:  config.SheetsConfig{Provider: "memory"},
		Storage: config.StorageConfig{Provider: "memory"},
		DB:      config.DBConfig{Provider: "memory"},
		Worker:  config.WorkerConfig{Count: 1, QueueDepth: 4},
	}
}

func newTestServer(store crawler.RunStore, q *queuememory.Queue, cfg config.Config) *Server {
	return NewServer(
		store,
		dispatcher.New(q, nil),
		&fakeIDGen{ids: []string{"run-test"}},
		&fakeClock{now: time.Unix(100, 0)},
		cfg,
		zap.NewNop(),
	)
}

func TestServer_SubmitRun(t *testing.T) {
	t.Parallel()

	store := database.NewMemoryStore()
	q := queuememory.NewQueue(4)
	server := newTestServer(store, q, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "run-test")

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-test", item.RunID)
	require.Equal(t, crawler.TriggerManual, item.Trigger)

	run, err := store.GetRun(context.Background(), "run-test")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusQueued, run.Status)
}

func TestServer_SubmitRun_FromScheduler(t *testing.T) {
	t.Parallel()

	store := database.NewMemoryStore()
	q := queuememory.NewQueue(4)
	server := newTestServer(store, q, testConfig())

	runID, err := server.SubmitRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-test", runID)

	run, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, crawler.TriggerSchedule, run.Trigger)
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	store := database.NewMemoryStore()
	require.NoError(t, store.CreateRun(context.Background(), crawler.Run{
		ID: "run-1", Status: crawler.RunStatusSucceeded, Submitted: time.Now(),
	}))
	server := newTestServer(store, queuememory.NewQueue(1), testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "succeeded")

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetRunListings(t *testing.T) {
	t.Parallel()

	store := database.NewMemoryStore()
	require.NoError(t, store.CreateRun(context.Background(), crawler.Run{
		ID: "run-1", Status: crawler.RunStatusSucceeded, Submitted: time.Now(),
	}))
	require.NoError(t, store.RecordListing(context.Background(), "run-1", crawler.Listing{
		Code: "pokemon", Title: "Charizard Card", URL: "https://buyee.jp/mercari/item/m1",
	}))
	server := newTestServer(store, queuememory.NewQueue(1), testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/listings", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Charizard Card")
}

func TestServer_CancelRun(t *testing.T) {
	t.Parallel()

	store := database.NewMemoryStore()
	require.NoError(t, store.CreateRun(context.Background(), crawler.Run{
		ID: "run-1", Status: crawler.RunStatusQueued, Submitted: time.Now(),
	}))
	server := newTestServer(store, queuememory.NewQueue(1), testConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/run-1/cancel", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusCanceled, run.Status)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(database.NewMemoryStore(), queuememory.NewQueue(1), testConfig())

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(database.NewMemoryStore(), queuememory.NewQueue(1), testConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "sekrit"}
	server := newTestServer(database.NewMemoryStore(), queuememory.NewQueue(4), cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}
