package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/service"
)

// GenerationWorker runs generation sessions dequeued by asynq.
type GenerationWorker struct {
	runner *service.SessionRunner
	logger *slog.Logger
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(runner *service.SessionRunner, logger *slog.Logger) *GenerationWorker {
	return &GenerationWorker{runner: runner, logger: logger}
}

// ProcessTask handles generation task processing
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// a malformed payload will never succeed
		return fmt.Errorf("failed to unmarshal generation payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.SessionID == "" || payload.ProjectID == "" {
		return fmt.Errorf("generation payload missing ids: %w", asynq.SkipRetry)
	}

	w.logger.Info("starting generation session", "session_id", payload.SessionID, "project_id", payload.ProjectID)
	if err := w.runner.Run(ctx, payload); err != nil {
		return fmt.Errorf("generation session %s: %v: %w", payload.SessionID, err, asynq.SkipRetry)
	}
	return nil
}
