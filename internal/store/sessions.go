package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps the record of each project's live generation session
// and its cancel flag.
type SessionStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSessionStore creates a new SessionStore. ttl bounds how long a record
// survives a crashed worker.
func NewSessionStore(redisClient *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{redis: redisClient, ttl: ttl}
}

func sessionKey(id string) string              { return fmt.Sprintf("session:%s", id) }
func sessionCancelKey(id string) string        { return fmt.Sprintf("session:%s:cancel", id) }
func activeSessionKey(projectID string) string { return fmt.Sprintf("project:%s:session", projectID) }

// Save stores the session and marks it active for its project.
func (s *SessionStore) Save(ctx context.Context, session *model.GenerationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
		pipe.Set(ctx, activeSessionKey(session.ProjectID), session.ID, s.ttl)
		return nil
	})
	return unavailable("save session", err)
}

// Get loads a session by id.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*model.GenerationSession, error) {
	data, err := s.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if isNil(err) {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	var session model.GenerationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Active returns the live session of a project.
func (s *SessionStore) Active(ctx context.Context, projectID string) (*model.GenerationSession, error) {
	id, err := s.redis.Get(ctx, activeSessionKey(projectID)).Result()
	if isNil(err) {
		return nil, fmt.Errorf("active session for %s: %w", projectID, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get active session", err)
	}
	return s.Get(ctx, id)
}

// Delete removes the session record. The project's active pointer is only
// cleared when it still points at this session.
func (s *SessionStore) Delete(ctx context.Context, session *model.GenerationSession) error {
	err := deleteIfEquals.Run(ctx, s.redis,
		[]string{activeSessionKey(session.ProjectID)}, session.ID).Err()
	if err != nil && !isNil(err) {
		return unavailable("clear active session", err)
	}
	return unavailable("delete session", s.redis.Del(ctx, sessionKey(session.ID), sessionCancelKey(session.ID)).Err())
}

// RequestCancel flags a session for cancellation.
func (s *SessionStore) RequestCancel(ctx context.Context, sessionID string) error {
	return unavailable("request cancel", s.redis.Set(ctx, sessionCancelKey(sessionID), "1", s.ttl).Err())
}

// CancelRequested reports whether cancellation was requested.
func (s *SessionStore) CancelRequested(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Exists(ctx, sessionCancelKey(sessionID)).Result()
	if err != nil {
		return false, unavailable("check cancel", err)
	}
	return n > 0, nil
}

// deleteIfEquals deletes KEYS[1] only when it holds ARGV[1].
var deleteIfEquals = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
