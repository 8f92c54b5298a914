package service

import (
	"context"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
)

// SceneService serves the authoritative scene list.
type SceneService struct {
	scenes store.SceneStore
}

// NewSceneService creates a new SceneService
func NewSceneService(scenes store.SceneStore) *SceneService {
	return &SceneService{scenes: scenes}
}

// List returns a project's scenes in order.
func (s *SceneService) List(ctx context.Context, projectID string) (*model.ScenesResponse, error) {
	scenes, err := s.scenes.FetchScenes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if scenes == nil {
		scenes = []model.Scene{}
	}
	return &model.ScenesResponse{
		ProjectID:     projectID,
		Scenes:        scenes,
		TotalDuration: model.TotalDuration(scenes),
	}, nil
}
