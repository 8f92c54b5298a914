// Package store holds the authoritative scene store and the Redis-backed
// records the generation pipeline keeps between requests.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

// SceneStore is the authoritative record of a project's scenes.
//
// FetchScenes returns scenes in order with contiguous OrderIndex and derived
// Start. CommitScene writes one scene's content and metadata as a single
// atomic unit; a scene that does not exist yet is inserted at its OrderIndex
// (clamped to the end of the list). DeleteScene and MoveScene return
// model.ErrSceneNotFound for unknown ids.
type SceneStore interface {
	FetchScenes(ctx context.Context, projectID string) ([]model.Scene, error)
	CommitScene(ctx context.Context, scene model.Scene) (model.Scene, error)
	DeleteScene(ctx context.Context, projectID, sceneID string) error
	MoveScene(ctx context.Context, projectID, sceneID string, position int) error
}

// unavailable marks infrastructure failures so callers can tell them apart
// from domain errors.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, model.ErrStoreUnavailable, err)
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func clampPosition(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n {
		return n
	}
	return pos
}
