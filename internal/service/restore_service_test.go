package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

// lastOperation returns the id of the most recent operation of the turn.
func lastOperation(t *testing.T, p *pipeline) string {
	t.Helper()
	results := p.events.ofType(model.EventToolResult)
	require.NotEmpty(t, results)
	return results[len(results)-1].JobID
}

func TestRestore_DeletedSceneComesBack(t *testing.T) {
	p := newPipeline(t, fakeGenerator{}, threeScenes()...)
	restore := NewRestoreService(p.ledger, p.scenes, p.lock, testLogger())
	ctx := context.Background()

	p.turn(t, "delete scene 2", "")
	opID := lastOperation(t, p)

	resp, err := restore.Restore(ctx, "p1", opID)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Restored)
	assert.Equal(t, []string{"a", "b", "c"}, sceneIDs(resp.Scenes))
	assert.Equal(t, "Product", resp.Scenes[1].Name)

	_, err = restore.Restore(ctx, "p1", opID)
	assert.ErrorIs(t, err, model.ErrAlreadyRestored)
}

func TestRestore_EditPutsPriorContentBack(t *testing.T) {
	p := newPipeline(t, fakeGenerator{}, threeScenes()...)
	restore := NewRestoreService(p.ledger, p.scenes, p.lock, testLogger())

	p.turn(t, "make it blue", "a")
	scenes, err := p.scenes.FetchScenes(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, "make it blue for Intro", scenes[0].Content)

	resp, err := restore.Restore(context.Background(), "p1", lastOperation(t, p))
	require.NoError(t, err)
	assert.Equal(t, threeScenes()[0].Content, resp.Scenes[0].Content)
}

func TestRestore_BatchDeleteRestoresPositions(t *testing.T) {
	p := newPipeline(t, fakeGenerator{}, threeScenes()...)
	restore := NewRestoreService(p.ledger, p.scenes, p.lock, testLogger())

	p.turn(t, "delete all scenes shorter than 6 seconds", "")
	scenes, err := p.scenes.FetchScenes(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, sceneIDs(scenes))

	resp, err := restore.Restore(context.Background(), "p1", lastOperation(t, p))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Restored)
	assert.Equal(t, []string{"a", "b", "c"}, sceneIDs(resp.Scenes))
}

func TestRestore_AddedSceneIsRemoved(t *testing.T) {
	p := newPipeline(t, fakeGenerator{}, threeScenes()...)
	restore := NewRestoreService(p.ledger, p.scenes, p.lock, testLogger())

	p.turn(t, "add an intro at the start", "")
	scenes, err := p.scenes.FetchScenes(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, scenes, 4)

	resp, err := restore.Restore(context.Background(), "p1", lastOperation(t, p))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, sceneIDs(resp.Scenes))
}

func TestRestore_Unsupported(t *testing.T) {
	p := newPipeline(t, fakeGenerator{}, threeScenes()...)
	restore := NewRestoreService(p.ledger, p.scenes, p.lock, testLogger())

	p.turn(t, "set scene 1 duration to 2 seconds", "")
	_, err := restore.Restore(context.Background(), "p1", lastOperation(t, p))
	require.ErrorIs(t, err, model.ErrRestoreUnsupported)
	assert.Contains(t, err.Error(), "adjust_duration")

	held, err := p.lock.Held(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRestore_UnknownOperation(t *testing.T) {
	p := newPipeline(t, fakeGenerator{}, threeScenes()...)
	restore := NewRestoreService(p.ledger, p.scenes, p.lock, testLogger())

	_, err := restore.Restore(context.Background(), "p1", "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRestore_RefusedWhileSessionRuns(t *testing.T) {
	p := newPipeline(t, fakeGenerator{}, threeScenes()...)
	restore := NewRestoreService(p.ledger, p.scenes, p.lock, testLogger())
	ctx := context.Background()

	p.turn(t, "delete scene 2", "")
	opID := lastOperation(t, p)

	_, err := p.svc.Start(ctx, "p1", "u1", model.GenerateRequest{Message: "delete scene 1"})
	require.NoError(t, err)
	_, err = restore.Restore(ctx, "p1", opID)
	assert.ErrorIs(t, err, model.ErrSessionLocked)
}
