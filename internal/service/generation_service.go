package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bazaar-it/bazaar-sub000/internal/lock"
	"github.com/bazaar-it/bazaar-sub000/internal/metrics"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
)

// StreamOpener prepares the event stream of a new session.
type StreamOpener interface {
	Open(sessionID string)
}

// GenerationService is the session coordinator. It accepts at most one live
// session per project; a request for a locked project is rejected with
// model.ErrSessionLocked before any stream exists.
type GenerationService struct {
	builder    *ContextBuilder
	lock       *lock.ProjectLock
	sessions   *store.SessionStore
	messages   *store.MessageStore
	streams    StreamOpener
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewGenerationService creates a new GenerationService
func NewGenerationService(
	builder *ContextBuilder,
	projectLock *lock.ProjectLock,
	sessions *store.SessionStore,
	messages *store.MessageStore,
	streams StreamOpener,
	dispatcher Dispatcher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *GenerationService {
	return &GenerationService{
		builder:    builder,
		lock:       projectLock,
		sessions:   sessions,
		messages:   messages,
		streams:    streams,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
	}
}

// Start accepts one user message for a project and dispatches its session.
func (s *GenerationService) Start(ctx context.Context, projectID, userID string, req model.GenerateRequest) (*model.GenerateResponse, error) {
	gc, err := s.builder.Build(ctx, projectID, Trigger{Text: req.Message, SelectedSceneID: req.SelectedSceneID})
	if err != nil {
		return nil, err
	}

	token, err := s.lock.Acquire(ctx, projectID)
	if err != nil {
		if errors.Is(err, model.ErrSessionLocked) {
			s.metrics.LockRejected()
		}
		return nil, err
	}

	now := time.Now().UTC()
	session := &model.GenerationSession{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		UserID:          userID,
		UserMessageID:   uuid.New().String(),
		ActiveMessageID: uuid.New().String(),
		Text:            req.Message,
		SelectedSceneID: gc.Trigger.SelectedSceneID,
		LockHeld:        true,
		LockToken:       token,
		StartedAt:       now,
	}

	userMsg := &model.Message{
		ID:        session.UserMessageID,
		ProjectID: projectID,
		SessionID: session.ID,
		Role:      model.RoleUser,
		Content:   req.Message,
		Status:    model.MessageSuccess,
		Kind:      model.KindText,
	}
	assistantMsg := &model.Message{
		ID:        session.ActiveMessageID,
		ProjectID: projectID,
		SessionID: session.ID,
		Role:      model.RoleAssistant,
		Status:    model.MessagePending,
		Kind:      model.KindText,
	}

	if err := s.messages.Save(ctx, userMsg); err != nil {
		s.abort(ctx, session, nil, err)
		return nil, err
	}
	if err := s.messages.Save(ctx, assistantMsg); err != nil {
		s.abort(ctx, session, nil, err)
		return nil, err
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		s.abort(ctx, session, assistantMsg, err)
		return nil, err
	}

	s.streams.Open(session.ID)
	if err := s.dispatcher.Dispatch(ctx, model.GenerationPayload{SessionID: session.ID, ProjectID: projectID}); err != nil {
		s.abort(ctx, session, assistantMsg, err)
		return nil, fmt.Errorf("failed to dispatch session: %w", err)
	}

	s.metrics.SessionStarted()
	s.logger.Info("generation session started", "project_id", projectID, "session_id", session.ID)
	return &model.GenerateResponse{
		SessionID: session.ID,
		MessageID: assistantMsg.ID,
		StreamURL: "/ws/sessions/" + session.ID,
	}, nil
}

// abort undoes a partially started session.
func (s *GenerationService) abort(ctx context.Context, session *model.GenerationSession, assistant *model.Message, cause error) {
	if _, err := s.lock.Release(ctx, session.ProjectID, session.LockToken); err != nil {
		s.logger.Error("failed to release lock", "project_id", session.ProjectID, "error", err)
	}
	if err := s.sessions.Delete(ctx, session); err != nil {
		s.logger.Warn("failed to delete session", "session_id", session.ID, "error", err)
	}
	if assistant != nil {
		assistant.Status = model.MessageError
		assistant.Kind = model.KindError
		assistant.Content = "Error: " + cause.Error()
		if err := s.messages.Save(ctx, assistant); err != nil {
			s.logger.Warn("failed to mark message failed", "message_id", assistant.ID, "error", err)
		}
	}
	s.logger.Error("generation session aborted", "project_id", session.ProjectID, "session_id", session.ID, "error", cause)
}

// Cancel asks the project's live session to stop before its next operation.
func (s *GenerationService) Cancel(ctx context.Context, projectID string) (*model.CancelResponse, error) {
	session, err := s.sessions.Active(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RequestCancel(ctx, session.ID); err != nil {
		return nil, err
	}
	s.logger.Info("generation session cancel requested", "project_id", projectID, "session_id", session.ID)
	return &model.CancelResponse{SessionID: session.ID, Cancelled: true}, nil
}

// Session returns the project's live session.
func (s *GenerationService) Session(ctx context.Context, projectID string) (*model.GenerationSession, error) {
	session, err := s.sessions.Active(ctx, projectID)
	if err != nil {
		return nil, err
	}
	public := session.Public()
	return &public, nil
}

// Messages returns the project's conversation, oldest first.
func (s *GenerationService) Messages(ctx context.Context, projectID string, limit int) (*model.MessagesResponse, error) {
	messages, err := s.messages.List(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	return &model.MessagesResponse{Messages: messages}, nil
}
