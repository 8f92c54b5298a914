package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-it/bazaar-sub000/internal/client"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

// seed commits scenes in order and returns the stored list.
func seed(t *testing.T, s store.SceneStore, projectID string, scenes ...model.Scene) []model.Scene {
	t.Helper()
	ctx := context.Background()
	for i, sc := range scenes {
		sc.ProjectID = projectID
		sc.OrderIndex = i
		_, err := s.CommitScene(ctx, sc)
		require.NoError(t, err)
	}
	out, err := s.FetchScenes(ctx, projectID)
	require.NoError(t, err)
	return out
}

func sceneIDs(scenes []model.Scene) []string {
	out := make([]string, len(scenes))
	for i, s := range scenes {
		out[i] = s.ID
	}
	return out
}

func planningContext(text, selected string, scenes ...model.Scene) *GenerationContext {
	return &GenerationContext{
		ProjectID: "p1",
		Scenes:    model.Normalize(scenes),
		Trigger:   Trigger{Text: text, SelectedSceneID: selected},
	}
}

// fakeChat is a scripted ChatClient.
type fakeChat struct {
	mu         sync.Mutex
	configured bool
	replies    []string
	err        error
	calls      int
}

func (f *fakeChat) ChatCompletion(_ context.Context, _, _ string, _ ...client.ChatOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

func (f *fakeChat) IsConfigured() bool { return f.configured }

// fakeGenerator produces "<prompt> for <name>" and fails or stalls for the
// scene names it is told to.
type fakeGenerator struct {
	failFor  map[string]bool
	stallFor map[string]bool
}

func (g fakeGenerator) Generate(ctx context.Context, req ContentRequest) (string, error) {
	if g.failFor[req.Name] {
		return "", errors.New("generator exploded")
	}
	if g.stallFor[req.Name] {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return req.Prompt + " for " + req.Name, nil
}

// failingStore fails every call after being switched off.
type failingStore struct {
	store.SceneStore
	mu   sync.Mutex
	down bool
}

var errStoreDown = errors.New("connection refused")

func (s *failingStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *failingStore) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *failingStore) FetchScenes(ctx context.Context, projectID string) ([]model.Scene, error) {
	if s.isDown() {
		return nil, errStoreDown
	}
	return s.SceneStore.FetchScenes(ctx, projectID)
}

func (s *failingStore) CommitScene(ctx context.Context, scene model.Scene) (model.Scene, error) {
	if s.isDown() {
		return model.Scene{}, errStoreDown
	}
	return s.SceneStore.CommitScene(ctx, scene)
}
