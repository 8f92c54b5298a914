package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

const messageTTL = 30 * 24 * time.Hour

// MessageStore persists a project's conversation.
type MessageStore struct {
	redis *redis.Client
}

// NewMessageStore creates a new MessageStore
func NewMessageStore(redisClient *redis.Client) *MessageStore {
	return &MessageStore{redis: redisClient}
}

func messageKey(id string) string            { return fmt.Sprintf("message:%s", id) }
func messageListKey(projectID string) string { return fmt.Sprintf("project:%s:messages", projectID) }

// Save creates or updates a message. New messages are appended to the
// project's conversation.
func (s *MessageStore) Save(ctx context.Context, msg *model.Message) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	created, err := s.redis.SetNX(ctx, messageKey(msg.ID), data, messageTTL).Result()
	if err != nil {
		return unavailable("save message", err)
	}
	if created {
		return unavailable("append message", s.redis.RPush(ctx, messageListKey(msg.ProjectID), msg.ID).Err())
	}
	return unavailable("update message", s.redis.Set(ctx, messageKey(msg.ID), data, messageTTL).Err())
}

// Get loads one message.
func (s *MessageStore) Get(ctx context.Context, id string) (*model.Message, error) {
	data, err := s.redis.Get(ctx, messageKey(id)).Bytes()
	if isNil(err) {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get message", err)
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// List returns the last limit messages of a project, oldest first.
// limit <= 0 returns all of them.
func (s *MessageStore) List(ctx context.Context, projectID string, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := s.redis.LRange(ctx, messageListKey(projectID), start, -1).Result()
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	messages := make([]model.Message, 0, len(ids))
	if len(ids) == 0 {
		return messages, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var msg model.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
