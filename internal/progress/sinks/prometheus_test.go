package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/buyeewatch/buyee-watcher/internal/progress"
)

func TestPrometheusSink_RunLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart},
		{RunID: "run-1", TS: now, Stage: progress.StageCodeDone, Code: "pokemon", Listings: 3, Dur: time.Second},
		{RunID: "run-1", TS: now, Stage: progress.StageCodeError, Code: "yugioh"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.codesCrawled.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.codesCrawled.WithLabelValues("error")))
	require.Equal(t, float64(3), testutil.ToFloat64(sink.listingsFound))

	done := []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunDone, Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), done))

	require.Equal(t, float64(0), testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
}

func TestPrometheusSink_DuplicateEventsDoNotSkewGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	start := progress.Event{RunID: "run-1", TS: now, Stage: progress.StageRunStart}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start}))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsRunning))

	stop := progress.Event{RunID: "run-1", TS: now, Stage: progress.StageRunError}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{stop, stop}))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}

func TestPrometheusSink_DuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
