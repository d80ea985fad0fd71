package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), s.closed
}

func TestHub_EmitAndClose(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	now := time.Now()
	hub.Emit(Event{RunID: "run-1", TS: now, Stage: StageRunStart})
	hub.Emit(Event{RunID: "run-1", TS: now, Stage: StageCodeDone, Code: "pokemon", Listings: 2})
	hub.Emit(Event{RunID: "run-1", TS: now, Stage: StageRunDone, Dur: time.Second})

	require.NoError(t, hub.Close(context.Background()))

	events, closed := sink.snapshot()
	require.Len(t, events, 3)
	require.Equal(t, StageRunStart, events[0].Stage)
	require.Equal(t, StageRunDone, events[2].Stage)
	require.True(t, closed)

	// Emitting after close is a silent no-op.
	hub.Emit(Event{RunID: "run-1", TS: now, Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageRunStart}) // missing run id and timestamp
	require.NoError(t, hub.Close(context.Background()))

	events, _ := sink.snapshot()
	require.Empty(t, events)
}

func TestHub_NilSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(Event{RunID: "run-1", TS: time.Now(), Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))
}
