package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

// OperationLedger records executed operations so they can be restored later.
// Non-restorable results are recorded too, so a restore attempt can be
// refused with a specific error instead of looking like an unknown id.
type OperationLedger interface {
	Record(ctx context.Context, result *model.OperationResult) error
	Load(ctx context.Context, projectID, operationID string) (*model.OperationResult, error)
}

// RedisLedger keeps operation results in Redis for a bounded time.
type RedisLedger struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisLedger creates a new RedisLedger
func NewRedisLedger(redisClient *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{redis: redisClient, ttl: ttl}
}

func ledgerKey(projectID, operationID string) string {
	return fmt.Sprintf("operation:%s:%s", projectID, operationID)
}

// Record implements OperationLedger.
func (l *RedisLedger) Record(ctx context.Context, result *model.OperationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal operation result: %w", err)
	}
	return unavailable("record operation", l.redis.Set(ctx, ledgerKey(result.ProjectID, result.OperationID), data, l.ttl).Err())
}

// Load implements OperationLedger.
func (l *RedisLedger) Load(ctx context.Context, projectID, operationID string) (*model.OperationResult, error) {
	data, err := l.redis.Get(ctx, ledgerKey(projectID, operationID)).Bytes()
	if isNil(err) {
		return nil, fmt.Errorf("operation %s: %w", operationID, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("load operation", err)
	}
	var result model.OperationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation result: %w", err)
	}
	return &result, nil
}

// ObjectStorage is the subset of an object store the ledger needs.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// ErrObjectNotFound is returned by ObjectStorage.Download for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ObjectLedger archives operation results as JSON objects, e.g. in R2.
type ObjectLedger struct {
	storage ObjectStorage
	prefix  string
}

// NewObjectLedger creates a new ObjectLedger
func NewObjectLedger(storage ObjectStorage, prefix string) *ObjectLedger {
	if prefix == "" {
		prefix = "operations"
	}
	return &ObjectLedger{storage: storage, prefix: prefix}
}

func (l *ObjectLedger) key(projectID, operationID string) string {
	return fmt.Sprintf("%s/%s/%s.json", l.prefix, projectID, operationID)
}

// Record implements OperationLedger.
func (l *ObjectLedger) Record(ctx context.Context, result *model.OperationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal operation result: %w", err)
	}
	if _, err := l.storage.Upload(ctx, l.key(result.ProjectID, result.OperationID), bytes.NewReader(data), "application/json"); err != nil {
		return unavailable("archive operation", err)
	}
	return nil
}

// Load implements OperationLedger.
func (l *ObjectLedger) Load(ctx context.Context, projectID, operationID string) (*model.OperationResult, error) {
	data, err := l.storage.Download(ctx, l.key(projectID, operationID))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("operation %s: %w", operationID, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("load archived operation", err)
	}
	var result model.OperationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation result: %w", err)
	}
	return &result, nil
}
