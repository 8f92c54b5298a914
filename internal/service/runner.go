package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazaar-it/bazaar-sub000/internal/lock"
	"github.com/bazaar-it/bazaar-sub000/internal/metrics"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
	"github.com/bazaar-it/bazaar-sub000/internal/stream"
)

const cleanupTimeout = 5 * time.Second

// SessionRunner plans and executes one accepted session while holding the
// project lock, and drives its event stream to finalized.
type SessionRunner struct {
	sessions *store.SessionStore
	messages *store.MessageStore
	lock     *lock.ProjectLock
	builder  *ContextBuilder
	planner  Planner
	executor *Executor
	ledger   store.OperationLedger
	sink     stream.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// RunnerDeps groups the collaborators of a SessionRunner.
type RunnerDeps struct {
	Sessions *store.SessionStore
	Messages *store.MessageStore
	Lock     *lock.ProjectLock
	Builder  *ContextBuilder
	Planner  Planner
	Executor *Executor
	Ledger   store.OperationLedger
	Sink     stream.Sink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewSessionRunner creates a new SessionRunner
func NewSessionRunner(deps RunnerDeps) *SessionRunner {
	return &SessionRunner{
		sessions: deps.Sessions,
		messages: deps.Messages,
		lock:     deps.Lock,
		builder:  deps.Builder,
		planner:  deps.Planner,
		executor: deps.Executor,
		ledger:   deps.Ledger,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// turn is the state of one running session.
type turn struct {
	session   *model.GenerationSession
	emitter   *stream.Emitter
	assistant *model.Message
	once      sync.Once
}

// Run executes the session named by payload. Operations already committed
// stay committed whatever happens afterwards.
func (r *SessionRunner) Run(ctx context.Context, payload model.GenerationPayload) error {
	session, err := r.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		r.logger.Error("generation session not found", "session_id", payload.SessionID, "error", err)
		em := stream.NewEmitter(payload.SessionID, r.bestEffort(payload.SessionID))
		_ = em.Fail(err.Error(), "")
		_ = em.Finalize()
		return err
	}

	t := &turn{
		session:   session,
		emitter:   stream.NewEmitter(session.ID, r.bestEffort(session.ID)),
		assistant: r.loadAssistant(ctx, session),
	}
	defer r.finish(ctx, t)

	if session.ProjectID != payload.ProjectID {
		err := fmt.Errorf("session %s belongs to project %s, not %s", session.ID, session.ProjectID, payload.ProjectID)
		r.fail(ctx, t, err, "")
		return err
	}

	r.metrics.SessionRunning()
	defer r.metrics.SessionFinished()

	r.emit(t, t.emitter.Status(model.PhaseThinking))
	r.setStatus(ctx, t, model.MessageThinking)
	if r.cancelled(ctx, t) {
		r.fail(ctx, t, model.ErrCancelled, "")
		return nil
	}

	gc, err := r.builder.Build(ctx, session.ProjectID, Trigger{Text: session.Text, SelectedSceneID: session.SelectedSceneID})
	if err != nil {
		r.fail(ctx, t, err, "")
		return nil
	}

	ops, err := r.planner.Plan(ctx, gc)
	var ambiguous *model.AmbiguousRequestError
	switch {
	case errors.As(err, &ambiguous):
		r.complete(ctx, t, ambiguous.Question)
		return nil
	case err != nil:
		r.fail(ctx, t, err, "")
		return nil
	case len(ops) == 0:
		r.complete(ctx, t, "Nothing to do.")
		return nil
	}

	r.emit(t, t.emitter.Delta(describePlan(ops)))
	r.emit(t, t.emitter.Status(model.PhaseToolCalling))
	r.setStatus(ctx, t, model.MessageToolCalling)

	summaries := make([]string, 0, len(ops))
	committed, failed := 0, 0
	for _, op := range ops {
		if r.cancelled(ctx, t) {
			r.fail(ctx, t, model.ErrCancelled, "")
			return nil
		}
		if err := ctx.Err(); err != nil {
			r.fail(ctx, t, err, strings.Join(summaries, "\n"))
			return nil
		}
		if _, err := r.lock.Extend(ctx, session.ProjectID, session.LockToken); err != nil {
			r.logger.Warn("failed to extend lock", "project_id", session.ProjectID, "error", err)
		}

		result, execErr := r.runOperation(ctx, t, gc, op)
		committed += len(result.Committed)
		if execErr != nil || !result.Success() {
			failed++
		}
		summaries = append(summaries, summarize(op, result, execErr))

		// a cancel during the operation keeps its commits but ends the turn
		if r.cancelled(ctx, t) {
			r.fail(ctx, t, model.ErrCancelled, strings.Join(summaries, "\n"))
			return nil
		}
	}

	final := strings.Join(summaries, "\n")
	if committed == 0 && failed > 0 {
		r.fail(ctx, t, errors.New("no changes were applied"), final)
		return nil
	}
	r.complete(ctx, t, final)
	return nil
}

// runOperation executes one planned operation and reports it on the stream,
// in the ledger and in the conversation.
func (r *SessionRunner) runOperation(ctx context.Context, t *turn, gc *GenerationContext, op model.Operation) (*model.OperationResult, error) {
	// cached plans repeat ids, each execution gets its own
	op.ID = uuid.New().String()
	name := op.ToolName()
	sid := t.session.ID
	r.emit(t, t.emitter.ToolStart(name))

	items := 0
	result, execErr := r.executor.Execute(ctx, op, t.session.ProjectID, ExecOptions{
		SessionID: sid,
		Style:     gc.Style,
		OnItem: func(it ItemResult) {
			items++
			ev := model.ToolResultEvent(sid, name, it.Err == nil)
			ev.JobID = op.ID
			ev.SceneID = it.SceneID
			if it.Err == nil {
				ev.FinalContent = it.SceneID
				ev.Mutation = it.Mutation
			}
			r.emit(t, t.emitter.ToolResult(ev))
		},
	})
	if items == 0 {
		// nothing matched, or the operation failed before touching a scene
		ev := model.ToolResultEvent(sid, name, execErr == nil && result.Success())
		ev.JobID = op.ID
		r.emit(t, t.emitter.ToolResult(ev))
	}

	if err := r.ledger.Record(ctx, result); err != nil {
		r.logger.Warn("failed to record operation", "operation_id", op.ID, "error", err)
	}

	status := model.MessageSuccess
	if execErr != nil || !result.Success() {
		status = model.MessageError
	}
	msg := &model.Message{
		ID:           uuid.New().String(),
		ProjectID:    t.session.ProjectID,
		SessionID:    sid,
		Role:         model.RoleAssistant,
		Content:      summarize(op, result, execErr),
		Status:       status,
		Kind:         model.KindToolResult,
		OperationRef: op.ID,
		ToolName:     name,
	}
	if err := r.messages.Save(ctx, msg); err != nil {
		r.logger.Warn("failed to save tool message", "operation_id", op.ID, "error", err)
	}
	return result, execErr
}

func (r *SessionRunner) complete(ctx context.Context, t *turn, content string) {
	r.emit(t, t.emitter.Complete(content))
	t.assistant.Status = model.MessageSuccess
	t.assistant.Kind = model.KindText
	t.assistant.Content = content
	r.saveAssistant(ctx, t)
}

func (r *SessionRunner) fail(ctx context.Context, t *turn, cause error, finalContent string) {
	msg := cause.Error()
	r.emit(t, t.emitter.Fail(msg, finalContent))
	t.assistant.Status = model.MessageError
	t.assistant.Kind = model.KindError
	if finalContent != "" {
		t.assistant.Content = finalContent
	} else {
		t.assistant.Content = "Error: " + msg
	}
	r.saveAssistant(ctx, t)
	r.logger.Warn("generation session failed", "project_id", t.session.ProjectID, "session_id", t.session.ID, "error", cause)
}

// finish runs once per session: the lock is released before finalized is
// emitted, so a client reacting to finalized can start the next turn.
func (r *SessionRunner) finish(ctx context.Context, t *turn) {
	t.once.Do(func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		if !t.assistant.Status.Terminal() {
			t.assistant.Status = model.MessageError
			t.assistant.Kind = model.KindError
			t.assistant.Content = "Error: session ended unexpectedly"
			r.saveAssistant(cctx, t)
		}
		if _, err := r.lock.Release(cctx, t.session.ProjectID, t.session.LockToken); err != nil {
			r.logger.Error("failed to release lock", "project_id", t.session.ProjectID, "error", err)
		}
		if err := r.sessions.Delete(cctx, t.session); err != nil {
			r.logger.Warn("failed to delete session", "session_id", t.session.ID, "error", err)
		}
		r.emit(t, t.emitter.Finalize())
		r.logger.Info("generation session finalized", "project_id", t.session.ProjectID, "session_id", t.session.ID)
	})
}

func (r *SessionRunner) cancelled(ctx context.Context, t *turn) bool {
	ok, err := r.sessions.CancelRequested(ctx, t.session.ID)
	if err != nil {
		r.logger.Warn("failed to check cancel flag", "session_id", t.session.ID, "error", err)
		return false
	}
	return ok
}

func (r *SessionRunner) loadAssistant(ctx context.Context, session *model.GenerationSession) *model.Message {
	msg, err := r.messages.Get(ctx, session.ActiveMessageID)
	if err == nil {
		return msg
	}
	r.logger.Warn("assistant message missing", "message_id", session.ActiveMessageID, "error", err)
	return &model.Message{
		ID:        session.ActiveMessageID,
		ProjectID: session.ProjectID,
		SessionID: session.ID,
		Role:      model.RoleAssistant,
		Status:    model.MessagePending,
		Kind:      model.KindText,
	}
}

func (r *SessionRunner) setStatus(ctx context.Context, t *turn, status model.MessageStatus) {
	t.assistant.Status = status
	r.saveAssistant(ctx, t)
}

// saveAssistant outlives an expired session context.
func (r *SessionRunner) saveAssistant(ctx context.Context, t *turn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := r.messages.Save(ctx, t.assistant); err != nil {
		r.logger.Warn("failed to save assistant message", "message_id", t.assistant.ID, "error", err)
	}
}

// bestEffort adapts the transport so a missing subscriber or stream never
// stalls the state machine.
func (r *SessionRunner) bestEffort(sessionID string) stream.Sink {
	return stream.SinkFunc(func(ev model.StreamEvent) error {
		if err := r.sink.Publish(ev); err != nil {
			r.logger.Warn("failed to publish stream event", "session_id", sessionID, "type", ev.Type, "error", err)
		}
		return nil
	})
}

func (r *SessionRunner) emit(t *turn, err error) {
	if err != nil {
		r.logger.Error("stream protocol violation", "session_id", t.session.ID, "error", err)
	}
}

func describePlan(ops []model.Operation) string {
	steps := make([]string, len(ops))
	for i, op := range ops {
		steps[i] = op.Describe()
	}
	return "Plan: " + strings.Join(steps, ", then ")
}

// summarize renders one operation outcome for the conversation.
func summarize(op model.Operation, result *model.OperationResult, err error) string {
	if err != nil && len(result.Committed) == 0 {
		cause := err
		var opErr *model.OperationError
		if errors.As(err, &opErr) && opErr.Err != nil {
			cause = opErr.Err
		}
		return fmt.Sprintf("Could not %s: %s", op.Describe(), errorText(cause))
	}
	return result.Summary()
}
