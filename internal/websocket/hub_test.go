package websocket

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
}

func receive(t *testing.T, sub *Subscription) (model.StreamEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.StreamEvent{}, false
	}
}

func TestHub_ReplaysBacklogInOrder(t *testing.T) {
	h := newTestHub()
	h.Open("s1")

	require.NoError(t, h.Publish(model.StatusEvent("s1", model.PhaseThinking)))
	require.NoError(t, h.Publish(model.ToolStartEvent("s1", "add")))

	sub, err := h.Subscribe("s1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, h.Publish(model.ToolResultEvent("s1", "add", true)))
	require.NoError(t, h.Publish(model.CompleteEvent("s1", "done")))
	require.NoError(t, h.Publish(model.FinalizedEvent("s1")))

	var got []model.EventType
	for {
		ev, ok := receive(t, sub)
		if !ok {
			break
		}
		got = append(got, ev.Type)
	}
	assert.Equal(t, []model.EventType{
		model.EventStatus, model.EventToolStart, model.EventToolResult, model.EventComplete, model.EventFinalized,
	}, got)
	assert.False(t, h.Has("s1"), "stream is dropped after finalized is delivered")
}

func TestHub_SingleSubscriber(t *testing.T) {
	h := newTestHub()
	h.Open("s1")

	sub, err := h.Subscribe("s1")
	require.NoError(t, err)

	_, err = h.Subscribe("s1")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	sub.Close()
	// the pump notices the close asynchronously
	require.Eventually(t, func() bool {
		s, err := h.Subscribe("s1")
		if err != nil {
			return false
		}
		s.Close()
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestHub_StreamsAreScopedToSession(t *testing.T) {
	h := newTestHub()
	h.Open("s1")
	h.Open("s2")

	require.NoError(t, h.Publish(model.StatusEvent("s2", model.PhaseThinking)))
	require.NoError(t, h.Publish(model.StatusEvent("s1", model.PhaseBuilding)))

	sub, err := h.Subscribe("s1")
	require.NoError(t, err)
	defer sub.Close()

	ev, ok := receive(t, sub)
	require.True(t, ok)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, model.PhaseBuilding, ev.Status)
}

func TestHub_RejectsUnknownAndClosedStreams(t *testing.T) {
	h := newTestHub()
	assert.ErrorIs(t, h.Publish(model.StatusEvent("nope", model.PhaseThinking)), ErrUnknownSession)
	_, err := h.Subscribe("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)

	h.Open("s1")
	require.NoError(t, h.Publish(model.FinalizedEvent("s1")))
	assert.ErrorIs(t, h.Publish(model.StatusEvent("s1", model.PhaseThinking)), ErrStreamClosed)
}

func TestHub_EvictsUnclaimedStreams(t *testing.T) {
	h := newTestHub()
	h.Open("s1")
	h.evict(time.Now().Add(2 * time.Minute))
	assert.False(t, h.Has("s1"))
}
