package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/stream"

	"github.com/bazaar-it/bazaar-sub000/internal/metrics"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
)

// ItemResult is the outcome for one scene of an operation. Index is the
// scene's position in the matched set.
type ItemResult struct {
	Index    int
	SceneID  string
	Scene    *model.Scene
	Deleted  bool
	Err      error
	Mutation *model.SceneMutation
}

// ExecOptions carries per-call inputs of Execute. OnItem is called once per
// matched scene, in enumeration order, from a single goroutine.
type ExecOptions struct {
	SessionID string
	Style     *StyleSummary
	OnItem    func(ItemResult)
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	OperationTimeout time.Duration
	BatchConcurrency int
	DefaultDuration  int
}

// Executor runs one operation at a time against the scene store.
type Executor struct {
	scenes    store.SceneStore
	generator ContentGenerator
	cfg       ExecutorConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewExecutor creates a new Executor
func NewExecutor(scenes store.SceneStore, generator ContentGenerator, cfg ExecutorConfig, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = model.DefaultSceneDuration
	}
	return &Executor{
		scenes:    scenes,
		generator: generator,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// itemOutcome is what applying an operation to one scene produced.
type itemOutcome struct {
	scene    *model.Scene
	deleted  bool
	snapshot *model.SceneSnapshot
	mutation *model.SceneMutation
}

// Execute runs op against a fresh read of the project's scenes.
//
// The returned result is never nil. A non-nil error means the operation
// failed as a whole; per-scene batch failures are reported in result.Failed
// only, and committed siblings are never rolled back.
func (e *Executor) Execute(ctx context.Context, op model.Operation, projectID string, opts ExecOptions) (*model.OperationResult, error) {
	started := time.Now()
	result := &model.OperationResult{
		OperationID: op.ID,
		ProjectID:   projectID,
		SessionID:   opts.SessionID,
		Type:        op.Type,
		Restorable:  op.Restorable(),
		Committed:   []string{},
	}
	if op.Type == model.OpBatch {
		result.Action = op.Params.Action
	}

	if e.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.OperationTimeout)
		defer cancel()
	}

	var err error
	if verr := op.Validate(); verr != nil {
		err = &model.OperationError{Type: op.Type, Err: verr}
		result.Failed = append(result.Failed, model.SceneFailure{Error: verr.Error()})
	} else if op.Type == model.OpBatch {
		err = e.executeBatch(ctx, op, result, opts)
	} else {
		err = e.executeSingle(ctx, op, projectID, result, opts)
	}

	result.CompletedAt = time.Now().UTC()
	e.metrics.OperationDone(op.ToolName(), err == nil && result.Success(), time.Since(started))
	if err != nil {
		e.logger.Warn("operation failed", "project_id", projectID, "operation_id", op.ID, "type", op.ToolName(), "error", err)
	}
	return result, err
}

func (e *Executor) executeSingle(ctx context.Context, op model.Operation, projectID string, result *model.OperationResult, opts ExecOptions) error {
	scenes, err := e.scenes.FetchScenes(ctx, projectID)
	if err != nil {
		result.Failed = append(result.Failed, model.SceneFailure{SceneID: op.Target.SceneID, Error: err.Error()})
		return &model.OperationError{Type: op.Type, SceneID: op.Target.SceneID, Err: err}
	}

	var target model.Scene
	if op.Type != model.OpAdd {
		matched := op.Target.Evaluate(scenes)
		if len(matched) == 0 {
			result.Matched = 1
			id := op.Target.SceneID
			if id == "" {
				id = op.Target.Describe()
			}
			return e.fail(result, opts, op.Type, 0, id, model.ErrSceneNotFound)
		}
		target = matched[0]
	}
	result.Matched = 1

	out, err := e.apply(ctx, op, projectID, target, scenes, opts.Style)
	sceneID := target.ID
	if out.scene != nil {
		sceneID = out.scene.ID
	}
	if err != nil {
		return e.fail(result, opts, op.Type, 0, sceneID, err)
	}
	e.record(result, op.Restorable(), sceneID, out)
	if opts.OnItem != nil {
		opts.OnItem(ItemResult{SceneID: sceneID, Scene: out.scene, Deleted: out.deleted, Mutation: out.mutation})
	}
	return nil
}

func (e *Executor) fail(result *model.OperationResult, opts ExecOptions, t model.OperationType, index int, sceneID string, err error) error {
	opErr := &model.OperationError{Type: t, SceneID: sceneID, Err: err}
	result.Failed = append(result.Failed, model.SceneFailure{SceneID: sceneID, Error: errorText(err)})
	if opts.OnItem != nil {
		opts.OnItem(ItemResult{Index: index, SceneID: sceneID, Err: opErr})
	}
	return opErr
}

// executeBatch evaluates the filter against a fresh snapshot and applies the
// batch action to every match. Items run concurrently; outcomes are folded in
// enumeration order.
func (e *Executor) executeBatch(ctx context.Context, op model.Operation, result *model.OperationResult, opts ExecOptions) error {
	scenes, err := e.scenes.FetchScenes(ctx, result.ProjectID)
	if err != nil {
		result.Failed = append(result.Failed, model.SceneFailure{Error: err.Error()})
		return &model.OperationError{Type: op.Type, Err: err}
	}
	matched := op.Target.Evaluate(scenes)
	result.Matched = len(matched)

	s := stream.New().WithMaxGoroutines(e.cfg.BatchConcurrency)
	for i, scene := range matched {
		item := op.ItemOperation(scene.ID)
		s.Go(func() stream.Callback {
			out, err := e.apply(ctx, item, result.ProjectID, scene, scenes, opts.Style)
			return func() {
				if err != nil {
					result.Failed = append(result.Failed, model.SceneFailure{SceneID: scene.ID, Error: errorText(err)})
					if opts.OnItem != nil {
						opts.OnItem(ItemResult{Index: i, SceneID: scene.ID, Err: &model.OperationError{Type: item.Type, SceneID: scene.ID, Err: err}})
					}
					return
				}
				e.record(result, op.Restorable(), scene.ID, out)
				if opts.OnItem != nil {
					opts.OnItem(ItemResult{Index: i, SceneID: scene.ID, Scene: out.scene, Deleted: out.deleted, Mutation: out.mutation})
				}
			}
		})
	}
	s.Wait()
	return nil
}

func (e *Executor) record(result *model.OperationResult, restorable bool, sceneID string, out itemOutcome) {
	result.Committed = append(result.Committed, sceneID)
	if out.deleted {
		result.DeletedIDs = append(result.DeletedIDs, sceneID)
	} else if out.scene != nil {
		result.Scenes = append(result.Scenes, *out.scene)
	}
	if restorable && out.snapshot != nil {
		result.Snapshots = append(result.Snapshots, *out.snapshot)
	}
}

// apply performs one single-scene operation. scenes is the snapshot target
// was resolved from; each store write is one atomic scene-level commit.
func (e *Executor) apply(ctx context.Context, op model.Operation, projectID string, target model.Scene, scenes []model.Scene, style *StyleSummary) (itemOutcome, error) {
	before := target
	switch op.Type {
	case model.OpAdd:
		return e.add(ctx, op, projectID, scenes, style)

	case model.OpEdit:
		content, err := e.generator.Generate(ctx, ContentRequest{
			ProjectID: projectID,
			Prompt:    op.Params.Prompt,
			Name:      target.Name,
			Duration:  target.EffectiveDuration(),
			Current:   &before,
			Style:     style,
		})
		if err != nil {
			return itemOutcome{}, err
		}
		target.Content = content
		committed, err := e.scenes.CommitScene(ctx, target)
		if err != nil {
			return itemOutcome{}, err
		}
		return itemOutcome{
			scene:    &committed,
			snapshot: &model.SceneSnapshot{SceneID: target.ID, Index: before.OrderIndex, Before: &before},
			mutation: &model.SceneMutation{Upserted: []model.Scene{committed}},
		}, nil

	case model.OpDelete:
		if err := e.scenes.DeleteScene(ctx, projectID, target.ID); err != nil {
			return itemOutcome{}, err
		}
		return itemOutcome{
			deleted:  true,
			snapshot: &model.SceneSnapshot{SceneID: target.ID, Index: before.OrderIndex, Before: &before},
			mutation: &model.SceneMutation{Deleted: []string{target.ID}, Reordered: before.OrderIndex < len(scenes)-1},
		}, nil

	case model.OpPaste:
		pos := target.OrderIndex + 1
		if op.Params.Position != nil {
			pos = *op.Params.Position
		}
		dup := model.Scene{
			ID:         uuid.New().String(),
			ProjectID:  projectID,
			OrderIndex: pos,
			Duration:   target.EffectiveDuration(),
			Content:    target.Content,
			Name:       copyName(target.Name),
		}
		committed, err := e.scenes.CommitScene(ctx, dup)
		if err != nil {
			return itemOutcome{}, err
		}
		return itemOutcome{
			scene:    &committed,
			snapshot: &model.SceneSnapshot{SceneID: committed.ID, Index: committed.OrderIndex},
			mutation: &model.SceneMutation{Upserted: []model.Scene{committed}, Reordered: committed.OrderIndex < len(scenes)},
		}, nil

	case model.OpAdjustDuration:
		target.Duration = op.Params.Duration
		committed, err := e.scenes.CommitScene(ctx, target)
		if err != nil {
			return itemOutcome{}, err
		}
		return itemOutcome{
			scene:    &committed,
			mutation: &model.SceneMutation{Upserted: []model.Scene{committed}, Reordered: before.OrderIndex < len(scenes)-1},
		}, nil

	case model.OpRename:
		target.Name = op.Params.Name
		committed, err := e.scenes.CommitScene(ctx, target)
		if err != nil {
			return itemOutcome{}, err
		}
		return itemOutcome{
			scene:    &committed,
			mutation: &model.SceneMutation{Upserted: []model.Scene{committed}},
		}, nil

	case model.OpReorder:
		if err := e.scenes.MoveScene(ctx, projectID, target.ID, *op.Params.Position); err != nil {
			return itemOutcome{}, err
		}
		moved := target
		after, err := e.scenes.FetchScenes(ctx, projectID)
		if err == nil {
			if i := model.FindScene(after, target.ID); i >= 0 {
				moved = after[i]
			}
		}
		return itemOutcome{
			scene:    &moved,
			mutation: &model.SceneMutation{Upserted: []model.Scene{moved}, Reordered: true},
		}, nil
	}
	return itemOutcome{}, fmt.Errorf("unsupported operation type %q", op.Type)
}

func (e *Executor) add(ctx context.Context, op model.Operation, projectID string, scenes []model.Scene, style *StyleSummary) (itemOutcome, error) {
	pos := len(scenes)
	if op.Params.Position != nil && *op.Params.Position < pos {
		pos = *op.Params.Position
	}
	duration := op.Params.Duration
	if duration <= 0 {
		duration = e.cfg.DefaultDuration
	}
	name := op.Params.Name
	if name == "" {
		name = fmt.Sprintf("Scene %d", len(scenes)+1)
	}

	content, err := e.generator.Generate(ctx, ContentRequest{
		ProjectID: projectID,
		Prompt:    op.Params.Prompt,
		Name:      name,
		Duration:  duration,
		Style:     style,
	})
	if err != nil {
		return itemOutcome{}, err
	}

	committed, err := e.scenes.CommitScene(ctx, model.Scene{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		OrderIndex: pos,
		Duration:   duration,
		Content:    content,
		Name:       name,
	})
	if err != nil {
		return itemOutcome{}, err
	}
	return itemOutcome{
		scene:    &committed,
		snapshot: &model.SceneSnapshot{SceneID: committed.ID, Index: committed.OrderIndex},
		mutation: &model.SceneMutation{Upserted: []model.Scene{committed}, Reordered: committed.OrderIndex < len(scenes)},
	}, nil
}

func copyName(name string) string {
	if name == "" {
		return "Copy"
	}
	return name + " (copy)"
}

// errorText renders an error for user-facing failure lists.
func errorText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, model.ErrNotFound):
		return "scene not found"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "scene store unavailable"
	}
	return err.Error()
}
