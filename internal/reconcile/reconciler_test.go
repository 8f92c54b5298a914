package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

type fakeSource struct {
	scenes []model.Scene
	err    error
	calls  int
}

func (f *fakeSource) FetchScenes(_ context.Context, _ string) ([]model.Scene, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return model.Normalize(f.scenes), nil
}

func baseScenes() []model.Scene {
	return model.Normalize([]model.Scene{
		{ID: "a", ProjectID: "p1", Name: "Intro", Duration: 90, Content: "intro"},
		{ID: "b", ProjectID: "p1", Name: "Product", Duration: 150, Content: "product"},
	})
}

type harness struct {
	rec      *Reconciler
	source   *fakeSource
	notified [][]model.Scene
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cache := NewClientSceneCache("p1")
	cache.Replace(baseScenes())
	h := &harness{source: &fakeSource{}}
	h.rec = New(cache, h.source, func(s []model.Scene) { h.notified = append(h.notified, s) }, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.rec.Begin("s1", "m1")
	return h
}

func (h *harness) apply(t *testing.T, events ...model.StreamEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, h.rec.Apply(context.Background(), ev))
	}
}

func upsertResult(scene model.Scene) model.StreamEvent {
	ev := model.ToolResultEvent("s1", "edit", true)
	ev.FinalContent = scene.ID
	ev.SceneID = scene.ID
	ev.Mutation = &model.SceneMutation{Upserted: []model.Scene{scene}}
	return ev
}

func TestReconciler_ResyncElidedWhenVerified(t *testing.T) {
	h := newHarness(t)
	edited := baseScenes()[1]
	edited.Content = "product, but bolder"

	h.apply(t,
		model.StatusEvent("s1", model.PhaseThinking),
		model.ToolStartEvent("s1", "edit"),
		upsertResult(edited),
	)
	assert.True(t, h.rec.Cache().Provisional("b"))
	assert.Empty(t, h.notified, "notify waits for finalized")

	h.apply(t, model.CompleteEvent("s1", "1 scene updated"), model.FinalizedEvent("s1"))

	assert.Equal(t, 0, h.source.calls)
	assert.False(t, h.rec.Cache().Provisional("b"))
	require.Len(t, h.notified, 1)
	assert.Equal(t, "product, but bolder", h.notified[0][1].Content)
	assert.Equal(t, model.MessageSuccess, h.rec.Message().Status)
	assert.Equal(t, "1 scene updated", h.rec.Message().Content)
	assert.False(t, h.rec.Streaming())
}

func TestReconciler_DuplicateEventsApplyOnce(t *testing.T) {
	h := newHarness(t)
	delta := model.DeltaEvent("s1", "Plan: delete scene 1")

	h.apply(t, model.StatusEvent("s1", model.PhaseThinking), delta, delta)
	assert.Equal(t, "Plan: delete scene 1", h.rec.Message().Content)

	added := model.Scene{ID: "n", ProjectID: "p1", OrderIndex: 2, Duration: 60, Name: "New", Content: "new"}
	result := upsertResult(added)
	result.Name = "add"
	h.apply(t, model.ToolStartEvent("s1", "add"), result, result)

	tools := h.rec.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, 1, tools[0].Succeeded)
	assert.False(t, tools[0].Running)
	assert.Len(t, h.rec.Cache().Scenes(), 3)
}

func TestReconciler_NewSceneIsSelected(t *testing.T) {
	h := newHarness(t)
	added := model.Scene{ID: "n", ProjectID: "p1", OrderIndex: 2, Duration: 60, Name: "New", Content: "new"}

	h.apply(t, model.StatusEvent("s1", model.PhaseToolCalling), model.ToolStartEvent("s1", "add"), upsertResult(added))
	assert.Equal(t, "n", h.rec.Cache().Selected())
}

func TestReconciler_ReorderForcesOneResync(t *testing.T) {
	h := newHarness(t)
	h.source.scenes = []model.Scene{
		{ID: "b", ProjectID: "p1", Name: "Product", Duration: 150, Content: "product"},
		{ID: "a", ProjectID: "p1", Name: "Intro", Duration: 90, Content: "intro"},
	}
	moved := h.source.scenes[0]
	ev := upsertResult(moved)
	ev.Name = "reorder"
	ev.Mutation.Reordered = true

	h.apply(t,
		model.StatusEvent("s1", model.PhaseToolCalling),
		model.ToolStartEvent("s1", "reorder"),
		ev,
		model.CompleteEvent("s1", "done"),
		model.FinalizedEvent("s1"),
		model.FinalizedEvent("s1"),
	)

	assert.Equal(t, 1, h.source.calls)
	scenes := h.rec.Cache().Scenes()
	assert.Equal(t, "b", scenes[0].ID)
	assert.Equal(t, 150, scenes[1].Start)
	assert.Len(t, h.notified, 1)
}

func TestReconciler_DeleteThenResync(t *testing.T) {
	h := newHarness(t)
	h.rec.Cache().Select("a")
	ev := model.ToolResultEvent("s1", "delete", true)
	ev.FinalContent = "a"
	ev.Mutation = &model.SceneMutation{Deleted: []string{"a"}}

	h.apply(t, model.StatusEvent("s1", model.PhaseToolCalling), model.ToolStartEvent("s1", "delete"), ev)
	// the selection of a deleted scene falls back to nothing
	assert.Empty(t, h.rec.Cache().Selected())

	h.apply(t, model.CompleteEvent("s1", "1 scene updated"), model.FinalizedEvent("s1"))
	assert.Equal(t, 0, h.source.calls)
	require.Len(t, h.notified, 1)
	assert.Len(t, h.notified[0], 1)
}

func TestReconciler_ResultWithoutMutationResyncs(t *testing.T) {
	h := newHarness(t)
	h.source.scenes = baseScenes()[:1]
	ev := model.ToolResultEvent("s1", "delete", true)
	ev.FinalContent = "b"

	h.apply(t, model.StatusEvent("s1", model.PhaseToolCalling), model.ToolStartEvent("s1", "delete"), ev,
		model.CompleteEvent("s1", "ok"), model.FinalizedEvent("s1"))

	assert.Equal(t, 1, h.source.calls)
	assert.Len(t, h.rec.Cache().Scenes(), 1)
}

func TestReconciler_NoChangeNoNotify(t *testing.T) {
	h := newHarness(t)

	h.apply(t, model.StatusEvent("s1", model.PhaseThinking), model.CompleteEvent("s1", "Which scene?"), model.FinalizedEvent("s1"))

	assert.Empty(t, h.notified)
	assert.Equal(t, 0, h.source.calls)
	assert.Equal(t, "Which scene?", h.rec.Message().Content)
}

func TestReconciler_ErrorEvent(t *testing.T) {
	h := newHarness(t)

	h.apply(t, model.StatusEvent("s1", model.PhaseThinking), model.ErrorEvent("s1", "boom", ""), model.FinalizedEvent("s1"))

	msg := h.rec.Message()
	assert.Equal(t, model.MessageError, msg.Status)
	assert.Equal(t, model.KindError, msg.Kind)
	assert.Equal(t, "Error: boom", msg.Content)
}

func TestReconciler_FinalizedWithoutResult(t *testing.T) {
	h := newHarness(t)

	h.apply(t, model.StatusEvent("s1", model.PhaseThinking), model.FinalizedEvent("s1"))
	assert.Equal(t, model.MessageError, h.rec.Message().Status)
}

func TestReconciler_ResyncFailureKeepsOptimisticState(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("offline")
	ev := model.ToolResultEvent("s1", "delete", true)
	ev.FinalContent = "a"
	ev.Mutation = &model.SceneMutation{Deleted: []string{"a"}, Reordered: true}

	h.apply(t, model.StatusEvent("s1", model.PhaseToolCalling), model.ToolStartEvent("s1", "delete"), ev, model.CompleteEvent("s1", "ok"))
	err := h.rec.Apply(context.Background(), model.FinalizedEvent("s1"))

	require.Error(t, err)
	assert.Len(t, h.rec.Cache().Scenes(), 1)
	assert.Len(t, h.notified, 1)
}

func TestReconciler_RejectsForeignAndUnstartedSessions(t *testing.T) {
	rec := New(NewClientSceneCache("p1"), &fakeSource{}, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, rec.Apply(context.Background(), model.StatusEvent("s1", model.PhaseThinking)), ErrNoSession)

	rec.Begin("s1", "m1")
	assert.ErrorIs(t, rec.Apply(context.Background(), model.StatusEvent("s2", model.PhaseThinking)), ErrForeignSession)
	assert.True(t, rec.Streaming())
}

func TestFileCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p1.json")

	fc, err := OpenFileCache(path)
	require.NoError(t, err)

	_, err = OpenFileCache(path)
	require.ErrorIs(t, err, ErrCacheBusy)

	cache, err := fc.Load("p1")
	require.NoError(t, err)
	assert.Empty(t, cache.Scenes())
	cache.Replace(baseScenes())
	cache.Select("b")
	require.NoError(t, fc.Save(cache))
	require.NoError(t, fc.Close())

	fc, err = OpenFileCache(path)
	require.NoError(t, err)
	defer fc.Close()

	loaded, err := fc.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, "b", loaded.Selected())
	assert.Len(t, loaded.Scenes(), 2)

	other, err := fc.Load("p2")
	require.NoError(t, err)
	assert.Empty(t, other.Scenes())
}
