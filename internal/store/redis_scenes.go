package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 10

// RedisSceneStore keeps each scene as a JSON document and the project's order
// as a list of scene ids. Writes run under WATCH/MULTI so one scene commit is
// applied entirely or not at all.
type RedisSceneStore struct {
	redis *redis.Client
}

// NewRedisSceneStore creates a new RedisSceneStore
func NewRedisSceneStore(redisClient *redis.Client) *RedisSceneStore {
	return &RedisSceneStore{redis: redisClient}
}

func orderKey(projectID string) string {
	return fmt.Sprintf("project:%s:scenes", projectID)
}

func sceneKey(sceneID string) string {
	return fmt.Sprintf("scene:%s", sceneID)
}

// FetchScenes implements SceneStore.
func (s *RedisSceneStore) FetchScenes(ctx context.Context, projectID string) ([]model.Scene, error) {
	ids, err := s.redis.LRange(ctx, orderKey(projectID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("fetch scene order", err)
	}
	if len(ids) == 0 {
		return []model.Scene{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sceneKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("fetch scenes", err)
	}

	scenes := make([]model.Scene, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// order list points at a scene document that is gone
			continue
		}
		var scene model.Scene
		if err := json.Unmarshal([]byte(raw), &scene); err != nil {
			return nil, fmt.Errorf("decode scene %s: %w", ids[i], err)
		}
		scenes = append(scenes, scene)
	}
	return model.Normalize(scenes), nil
}

// CommitScene implements SceneStore.
func (s *RedisSceneStore) CommitScene(ctx context.Context, scene model.Scene) (model.Scene, error) {
	if scene.ID == "" || scene.ProjectID == "" {
		return model.Scene{}, errors.New("commit scene: id and project id are required")
	}
	scene.Duration = scene.EffectiveDuration()
	scene.UpdatedAt = time.Now().UTC()

	oKey := orderKey(scene.ProjectID)
	sKey := sceneKey(scene.ID)

	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, sKey).Result()
		if err != nil && !isNil(err) {
			return err
		}
		if err == nil {
			var prev model.Scene
			if err := json.Unmarshal([]byte(existing), &prev); err != nil {
				return fmt.Errorf("decode scene %s: %w", scene.ID, err)
			}
			if prev.ProjectID != scene.ProjectID {
				return fmt.Errorf("scene %s in project %s: %w", scene.ID, scene.ProjectID, model.ErrNotFound)
			}
		}
		inserting := isNil(err)

		var ids []string
		if inserting {
			ids, err = tx.LRange(ctx, oKey, 0, -1).Result()
			if err != nil {
				return err
			}
		}

		data, err := json.Marshal(scene)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sKey, data, 0)
			if inserting {
				pos := clampPosition(scene.OrderIndex, len(ids))
				if pos == len(ids) {
					pipe.RPush(ctx, oKey, scene.ID)
				} else {
					pipe.LInsertBefore(ctx, oKey, ids[pos], scene.ID)
				}
			}
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, oKey, sKey); err != nil {
		return model.Scene{}, unavailable("commit scene", err)
	}
	return s.reload(ctx, scene.ProjectID, scene.ID)
}

// DeleteScene implements SceneStore.
func (s *RedisSceneStore) DeleteScene(ctx context.Context, projectID, sceneID string) error {
	oKey := orderKey(projectID)
	sKey := sceneKey(sceneID)

	txf := func(tx *redis.Tx) error {
		ids, err := tx.LRange(ctx, oKey, 0, -1).Result()
		if err != nil {
			return err
		}
		if !containsID(ids, sceneID) {
			return model.ErrSceneNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, oKey, 0, sceneID)
			pipe.Del(ctx, sKey)
			return nil
		})
		return err
	}
	return unavailable("delete scene", s.watch(ctx, txf, oKey, sKey))
}

// MoveScene implements SceneStore.
func (s *RedisSceneStore) MoveScene(ctx context.Context, projectID, sceneID string, position int) error {
	oKey := orderKey(projectID)

	txf := func(tx *redis.Tx) error {
		ids, err := tx.LRange(ctx, oKey, 0, -1).Result()
		if err != nil {
			return err
		}
		reordered, err := moveID(ids, sceneID, position)
		if err != nil {
			return err
		}
		args := make([]interface{}, len(reordered))
		for i, id := range reordered {
			args[i] = id
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, oKey)
			pipe.RPush(ctx, oKey, args...)
			return nil
		})
		return err
	}
	return unavailable("move scene", s.watch(ctx, txf, oKey))
}

func (s *RedisSceneStore) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transaction retries exhausted: %w", redis.TxFailedErr)
}

func (s *RedisSceneStore) reload(ctx context.Context, projectID, sceneID string) (model.Scene, error) {
	scenes, err := s.FetchScenes(ctx, projectID)
	if err != nil {
		return model.Scene{}, err
	}
	i := model.FindScene(scenes, sceneID)
	if i < 0 {
		return model.Scene{}, model.ErrSceneNotFound
	}
	return scenes[i], nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// moveID returns ids with id moved to position (clamped).
func moveID(ids []string, id string, position int) ([]string, error) {
	from := -1
	for i, v := range ids {
		if v == id {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, model.ErrSceneNotFound
	}
	rest := make([]string, 0, len(ids))
	rest = append(rest, ids[:from]...)
	rest = append(rest, ids[from+1:]...)

	pos := clampPosition(position, len(rest))
	out := make([]string, 0, len(ids))
	out = append(out, rest[:pos]...)
	out = append(out, id)
	return append(out, rest[pos:]...), nil
}
