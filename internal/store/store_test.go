package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func newSQLiteStore(t *testing.T) *SQLSceneStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "scenes.db")
	s, err := OpenSQLSceneStore(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// sceneStores runs the same contract against every SceneStore implementation.
func sceneStores(t *testing.T) map[string]SceneStore {
	rdb, _ := newTestRedis(t)
	return map[string]SceneStore{
		"redis":  NewRedisSceneStore(rdb),
		"sqlite": newSQLiteStore(t),
	}
}

func commit(t *testing.T, s SceneStore, projectID, id string, pos, duration int) model.Scene {
	t.Helper()
	sc, err := s.CommitScene(context.Background(), model.Scene{
		ID:         id,
		ProjectID:  projectID,
		OrderIndex: pos,
		Duration:   duration,
		Content:    "content " + id,
		Name:       "Scene " + id,
	})
	require.NoError(t, err)
	return sc
}

func ids(scenes []model.Scene) []string {
	out := make([]string, len(scenes))
	for i, s := range scenes {
		out[i] = s.ID
	}
	return out
}

func TestSceneStore_EmptyProject(t *testing.T) {
	for name, s := range sceneStores(t) {
		t.Run(name, func(t *testing.T) {
			scenes, err := s.FetchScenes(context.Background(), "empty")
			require.NoError(t, err)
			assert.NotNil(t, scenes)
			assert.Empty(t, scenes)
		})
	}
}

func TestSceneStore_CommitInsertsAndDerivesStart(t *testing.T) {
	for name, s := range sceneStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := commit(t, s, "p1", "a", 0, 0)
			assert.Equal(t, 0, first.OrderIndex)
			assert.Equal(t, 0, first.Start)
			assert.Equal(t, model.DefaultSceneDuration, first.Duration)

			commit(t, s, "p1", "c", 5, 90)
			b := commit(t, s, "p1", "b", 1, 60)
			assert.Equal(t, 1, b.OrderIndex)
			assert.Equal(t, 150, b.Start)

			scenes, err := s.FetchScenes(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, ids(scenes))
			assert.Equal(t, 210, scenes[2].Start)
			for i, sc := range scenes {
				assert.Equal(t, i, sc.OrderIndex)
			}
		})
	}
}

func TestSceneStore_CommitUpdatesInPlace(t *testing.T) {
	for name, s := range sceneStores(t) {
		t.Run(name, func(t *testing.T) {
			commit(t, s, "p1", "a", 0, 100)
			commit(t, s, "p1", "b", 1, 100)

			updated, err := s.CommitScene(context.Background(), model.Scene{
				ID: "a", ProjectID: "p1", OrderIndex: 7, Duration: 40, Content: "new", Name: "Intro",
			})
			require.NoError(t, err)
			assert.Equal(t, 0, updated.OrderIndex, "updates never move a scene")
			assert.Equal(t, "new", updated.Content)
			assert.Equal(t, 40, updated.Duration)

			scenes, err := s.FetchScenes(context.Background(), "p1")
			require.NoError(t, err)
			assert.Equal(t, 40, scenes[1].Start)
		})
	}
}

func TestSceneStore_CommitRejectsForeignScene(t *testing.T) {
	for name, s := range sceneStores(t) {
		t.Run(name, func(t *testing.T) {
			commit(t, s, "p1", "a", 0, 100)
			_, err := s.CommitScene(context.Background(), model.Scene{ID: "a", ProjectID: "p2", Content: "x"})
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestSceneStore_DeleteRenumbers(t *testing.T) {
	for name, s := range sceneStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			commit(t, s, "p1", "a", 0, 100)
			commit(t, s, "p1", "b", 1, 250)
			commit(t, s, "p1", "c", 2, 300)

			require.NoError(t, s.DeleteScene(ctx, "p1", "b"))
			scenes, err := s.FetchScenes(ctx, "p1")
			require.NoError(t, err)
			require.Equal(t, []string{"a", "c"}, ids(scenes))
			assert.Equal(t, 1, scenes[1].OrderIndex)
			assert.Equal(t, 100, scenes[1].Start)

			assert.ErrorIs(t, s.DeleteScene(ctx, "p1", "b"), model.ErrSceneNotFound)
		})
	}
}

func TestSceneStore_Move(t *testing.T) {
	for name, s := range sceneStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, id := range []string{"a", "b", "c", "d"} {
				commit(t, s, "p1", id, i, 30)
			}

			require.NoError(t, s.MoveScene(ctx, "p1", "d", 0))
			scenes, err := s.FetchScenes(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, []string{"d", "a", "b", "c"}, ids(scenes))

			require.NoError(t, s.MoveScene(ctx, "p1", "d", 99))
			scenes, err = s.FetchScenes(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c", "d"}, ids(scenes))
			assert.Equal(t, 90, scenes[3].Start)

			assert.ErrorIs(t, s.MoveScene(ctx, "p1", "zz", 0), model.ErrSceneNotFound)
		})
	}
}

func TestSceneStore_ProjectsAreIsolated(t *testing.T) {
	for name, s := range sceneStores(t) {
		t.Run(name, func(t *testing.T) {
			commit(t, s, "p1", "a", 0, 100)
			commit(t, s, "p2", "b", 0, 100)

			scenes, err := s.FetchScenes(context.Background(), "p2")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids(scenes))
			assert.ErrorIs(t, s.DeleteScene(context.Background(), "p2", "a"), model.ErrSceneNotFound)
		})
	}
}

func TestRedisSceneStore_Unavailable(t *testing.T) {
	rdb, mr := newTestRedis(t)
	s := NewRedisSceneStore(rdb)
	mr.Close()

	_, err := s.FetchScenes(context.Background(), "p1")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestMoveID(t *testing.T) {
	out, err := moveID([]string{"a", "b", "c"}, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, out)

	out, err = moveID([]string{"a", "b", "c"}, "c", -3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, out)
}

func TestSQLSceneStore_Rebind(t *testing.T) {
	pg := &SQLSceneStore{driver: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLSceneStore{driver: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSessionStore_Lifecycle(t *testing.T) {
	rdb, _ := newTestRedis(t)
	s := NewSessionStore(rdb, time.Minute)
	ctx := context.Background()

	session := &model.GenerationSession{ID: "s1", ProjectID: "p1", LockHeld: true, StartedAt: time.Now()}
	require.NoError(t, s.Save(ctx, session))

	active, err := s.Active(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "s1", active.ID)

	cancelled, err := s.CancelRequested(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, s.RequestCancel(ctx, "s1"))
	cancelled, err = s.CancelRequested(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, s.Delete(ctx, session))
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Active(ctx, "p1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSessionStore_DeleteKeepsNewerActivePointer(t *testing.T) {
	rdb, _ := newTestRedis(t)
	s := NewSessionStore(rdb, time.Minute)
	ctx := context.Background()

	old := &model.GenerationSession{ID: "old", ProjectID: "p1"}
	require.NoError(t, s.Save(ctx, old))
	require.NoError(t, s.Save(ctx, &model.GenerationSession{ID: "new", ProjectID: "p1"}))
	require.NoError(t, s.Delete(ctx, old))

	active, err := s.Active(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "new", active.ID)
}

func TestMessageStore_SaveAndList(t *testing.T) {
	rdb, _ := newTestRedis(t)
	s := NewMessageStore(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, &model.Message{
			ID: fmt.Sprintf("m%d", i), ProjectID: "p1", Role: model.RoleUser,
			Content: "hi", Status: model.MessagePending, Kind: model.KindText,
		}))
	}

	msg, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	msg.Status = model.MessageSuccess
	require.NoError(t, s.Save(ctx, msg))

	all, err := s.List(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "updating a message does not append it again")
	assert.Equal(t, model.MessageSuccess, all[1].Status)

	last, err := s.List(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, "m1", last[0].ID)
	assert.Equal(t, "m2", last[1].ID)
}

func TestRedisLedger_RecordAndLoad(t *testing.T) {
	rdb, _ := newTestRedis(t)
	l := NewRedisLedger(rdb, time.Hour)
	ctx := context.Background()

	_, err := l.Load(ctx, "p1", "op1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	before := model.Scene{ID: "a", ProjectID: "p1", Content: "old"}
	require.NoError(t, l.Record(ctx, &model.OperationResult{
		OperationID: "op1", ProjectID: "p1", Type: model.OpEdit, Restorable: true,
		Committed: []string{"a"}, Snapshots: []model.SceneSnapshot{{SceneID: "a", Before: &before}},
	}))

	got, err := l.Load(ctx, "p1", "op1")
	require.NoError(t, err)
	assert.True(t, got.Restorable)
	require.Len(t, got.Snapshots, 1)
	assert.Equal(t, "old", got.Snapshots[0].Before.Content)

	_, err = l.Load(ctx, "p2", "op1")
	assert.ErrorIs(t, err, model.ErrNotFound, "operations are scoped to their project")
}

func TestPlanCache(t *testing.T) {
	rdb, mr := newTestRedis(t)
	c := NewPlanCache(rdb, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "p1", "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	ops := []model.Operation{{Type: model.OpDelete, Target: model.NthScene(0)}}
	require.NoError(t, c.Put(ctx, "p1", "fp", ops))

	got, ok, err := c.Get(ctx, "p1", "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ops, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "p1", "fp")
	require.NoError(t, err)
	assert.False(t, ok)
}
