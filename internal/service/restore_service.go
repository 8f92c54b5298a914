package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bazaar-it/bazaar-sub000/internal/lock"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
)

// RestoreService undoes recorded operations from their snapshots.
type RestoreService struct {
	ledger store.OperationLedger
	scenes store.SceneStore
	lock   *lock.ProjectLock
	logger *slog.Logger
}

// NewRestoreService creates a new RestoreService
func NewRestoreService(ledger store.OperationLedger, scenes store.SceneStore, projectLock *lock.ProjectLock, logger *slog.Logger) *RestoreService {
	return &RestoreService{ledger: ledger, scenes: scenes, lock: projectLock, logger: logger}
}

// Restore re-applies the pre-mutation state of an operation. Operations that
// kept no snapshot are refused with model.ErrRestoreUnsupported.
func (s *RestoreService) Restore(ctx context.Context, projectID, operationID string) (*model.RestoreResponse, error) {
	result, err := s.ledger.Load(ctx, projectID, operationID)
	if err != nil {
		return nil, err
	}
	if !result.Restorable {
		name := string(result.Type)
		if result.Type == model.OpBatch {
			name += ":" + string(result.Action)
		}
		return nil, fmt.Errorf("%w: %s keeps no snapshot", model.ErrRestoreUnsupported, name)
	}
	if result.Restored {
		return nil, model.ErrAlreadyRestored
	}
	if len(result.Snapshots) == 0 {
		return nil, fmt.Errorf("%w: the operation changed no scenes", model.ErrRestoreUnsupported)
	}

	token, err := s.lock.Acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := s.lock.Release(context.WithoutCancel(ctx), projectID, token); err != nil {
			s.logger.Error("failed to release lock", "project_id", projectID, "error", err)
		}
	}()

	restored, err := s.apply(ctx, projectID, result.Snapshots)
	if err != nil {
		return nil, err
	}

	result.Restored = true
	if err := s.ledger.Record(ctx, result); err != nil {
		return nil, err
	}

	scenes, err := s.scenes.FetchScenes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("operation restored", "project_id", projectID, "operation_id", operationID, "scenes", restored)
	return &model.RestoreResponse{OperationID: operationID, Restored: restored, Scenes: scenes}, nil
}

// apply removes scenes the operation created, then puts prior states back
// in ascending original index so each lands where it was.
func (s *RestoreService) apply(ctx context.Context, projectID string, snapshots []model.SceneSnapshot) (int, error) {
	restored := 0
	var prior []model.SceneSnapshot
	for _, snap := range snapshots {
		if snap.Before != nil {
			prior = append(prior, snap)
			continue
		}
		err := s.scenes.DeleteScene(ctx, projectID, snap.SceneID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return restored, err
		}
		restored++
	}

	sort.SliceStable(prior, func(i, j int) bool { return prior[i].Index < prior[j].Index })
	for _, snap := range prior {
		scene := *snap.Before
		scene.ProjectID = projectID
		scene.OrderIndex = snap.Index
		if _, err := s.scenes.CommitScene(ctx, scene); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}
