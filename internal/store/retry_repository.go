package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/redis/go-redis/v9"
)

// RetryPayloadRepository persists the last payment attempt of a room so a
// retry survives a gateway restart
type RetryPayloadRepository interface {
	Save(ctx context.Context, room string, payload *models.RetryPayload) error
	// Load returns nil, nil when nothing was saved
	Load(ctx context.Context, room string) (*models.RetryPayload, error)
	Delete(ctx context.Context, room string) error
}

// ============================================================================
// REDIS
// ============================================================================

const retryKeyPrefix = "retry_payload:"

// RedisRetryRepository stores payloads as JSON strings under retry_payload:<room>
type RedisRetryRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRetryRepository creates a repository; ttl <= 0 keeps payloads forever
func NewRedisRetryRepository(rdb *redis.Client, ttl time.Duration) *RedisRetryRepository {
	return &RedisRetryRepository{rdb: rdb, ttl: ttl}
}

func retryKey(room string) string {
	return retryKeyPrefix + room
}

// Save writes the payload
func (r *RedisRetryRepository) Save(ctx context.Context, room string, payload *models.RetryPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal retry payload: %w", err)
	}
	if err := r.rdb.Set(ctx, retryKey(room), body, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save retry payload: %w", err)
	}
	return nil
}

// Load reads the payload
func (r *RedisRetryRepository) Load(ctx context.Context, room string) (*models.RetryPayload, error) {
	body, err := r.rdb.Get(ctx, retryKey(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load retry payload: %w", err)
	}

	var payload models.RetryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode retry payload: %w", err)
	}
	return &payload, nil
}

// Delete removes the payload; deleting a missing key is not an error
func (r *RedisRetryRepository) Delete(ctx context.Context, room string) error {
	if err := r.rdb.Del(ctx, retryKey(room)).Err(); err != nil {
		return fmt.Errorf("failed to delete retry payload: %w", err)
	}
	return nil
}

// ============================================================================
// IN-MEMORY
// ============================================================================

// MemoryRetryRepository keeps payloads in process; used when Redis is not configured
type MemoryRetryRepository struct {
	mu       sync.Mutex
	payloads map[string]*models.RetryPayload
}

// NewMemoryRetryRepository creates an empty repository
func NewMemoryRetryRepository() *MemoryRetryRepository {
	return &MemoryRetryRepository{payloads: make(map[string]*models.RetryPayload)}
}

func (r *MemoryRetryRepository) Save(_ context.Context, room string, payload *models.RetryPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads[room] = payload.Clone()
	return nil
}

func (r *MemoryRetryRepository) Load(_ context.Context, room string) (*models.RetryPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[room].Clone(), nil
}

func (r *MemoryRetryRepository) Delete(_ context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.payloads, room)
	return nil
}
