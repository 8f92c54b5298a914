package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

// Task types
const (
	TaskTypeGeneration = "generation:run"
	QueueGeneration    = "generation"
)

// Dispatcher hands an accepted session to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload model.GenerationPayload) error
}

// NewGenerationTask builds the asynq task for a session.
func NewGenerationTask(payload model.GenerationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGeneration, data), nil
}

// AsynqDispatcher enqueues sessions for the asynq worker. Sessions are not
// retried: a second run would replay already committed operations.
type AsynqDispatcher struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewAsynqDispatcher creates a new AsynqDispatcher
func NewAsynqDispatcher(client *asynq.Client, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, timeout: timeout}
}

// Dispatch implements Dispatcher.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, payload model.GenerationPayload) error {
	task, err := NewGenerationTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueGeneration),
		asynq.TaskID(payload.SessionID),
		asynq.MaxRetry(0),
		asynq.Timeout(d.timeout),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// RunFunc runs one generation session to completion.
type RunFunc func(ctx context.Context, payload model.GenerationPayload) error

// InlineDispatcher runs sessions on a goroutine of the current process.
type InlineDispatcher struct {
	run     RunFunc
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewInlineDispatcher creates a new InlineDispatcher
func NewInlineDispatcher(run RunFunc, timeout time.Duration) *InlineDispatcher {
	return &InlineDispatcher{run: run, timeout: timeout}
}

// Dispatch implements Dispatcher. The session outlives ctx.
func (d *InlineDispatcher) Dispatch(_ context.Context, payload model.GenerationPayload) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		_ = d.run(ctx, payload)
	}()
	return nil
}

// Wait blocks until every dispatched session returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
