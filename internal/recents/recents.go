// Package recents tracks session-spanning activity state: the
// most-recently-active thread and the outcome of the last sync pass. A
// Redis backend survives restarts; the memory backend covers setups
// without Redis.
package recents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"muse/api/internal/store"
)

// SyncRecord is the persisted outcome of a sync pass.
type SyncRecord struct {
	At        time.Time `json:"at"`
	Synced    int       `json:"synced"`
	Conflicts int       `json:"conflicts"`
}

// Tracker is the activity-state surface the service writes through.
type Tracker interface {
	SetActiveThread(ctx context.Context, threadID string) error
	ActiveThread(ctx context.Context) (string, error)
	RecordSync(ctx context.Context, result store.SyncResult, at time.Time) error
	LastSync(ctx context.Context) (SyncRecord, bool, error)
}

const (
	keyActiveThread = "muse:active_thread"
	keyLastSync     = "muse:last_sync"
)

// RedisTracker keeps activity state in Redis.
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker connects and pings before returning.
func NewRedisTracker(redisURL string) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisTracker{client: client}, nil
}

func (t *RedisTracker) SetActiveThread(ctx context.Context, threadID string) error {
	if err := t.client.Set(ctx, keyActiveThread, threadID, 0).Err(); err != nil {
		return fmt.Errorf("save active thread: %w", err)
	}
	return nil
}

func (t *RedisTracker) ActiveThread(ctx context.Context) (string, error) {
	id, err := t.client.Get(ctx, keyActiveThread).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active thread: %w", err)
	}
	return id, nil
}

func (t *RedisTracker) RecordSync(ctx context.Context, result store.SyncResult, at time.Time) error {
	data, err := json.Marshal(SyncRecord{At: at, Synced: result.Synced, Conflicts: result.Conflicts})
	if err != nil {
		return fmt.Errorf("marshal sync record: %w", err)
	}
	if err := t.client.Set(ctx, keyLastSync, data, 0).Err(); err != nil {
		return fmt.Errorf("save sync record: %w", err)
	}
	return nil
}

func (t *RedisTracker) LastSync(ctx context.Context) (SyncRecord, bool, error) {
	data, err := t.client.Get(ctx, keyLastSync).Result()
	if err == redis.Nil {
		return SyncRecord{}, false, nil
	}
	if err != nil {
		return SyncRecord{}, false, fmt.Errorf("read sync record: %w", err)
	}
	var rec SyncRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return SyncRecord{}, false, fmt.Errorf("unmarshal sync record: %w", err)
	}
	return rec, true, nil
}

// Ping checks Redis reachability.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

// MemoryTracker keeps activity state for the current process only.
type MemoryTracker struct {
	mu       sync.Mutex
	active   string
	lastSync SyncRecord
	hasSync  bool
}

func NewMemoryTracker() *MemoryTracker { return &MemoryTracker{} }

func (t *MemoryTracker) SetActiveThread(ctx context.Context, threadID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = threadID
	return nil
}

func (t *MemoryTracker) ActiveThread(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, nil
}

func (t *MemoryTracker) RecordSync(ctx context.Context, result store.SyncResult, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSync = SyncRecord{At: at, Synced: result.Synced, Conflicts: result.Conflicts}
	t.hasSync = true
	return nil
}

func (t *MemoryTracker) LastSync(ctx context.Context) (SyncRecord, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSync, t.hasSync, nil
}
