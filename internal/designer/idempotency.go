package designer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/designer/model"
)

// DefaultIdempotencyTTL is how long a submit result is remembered when no
// TTL is configured.
const DefaultIdempotencyTTL = 24 * time.Hour

// SubmitResult is what a successful submit leaves behind for replays.
type SubmitResult struct {
	SessionID string    `json:"session_id"`
	DomainID  string    `json:"domain_id"`
	Version   int       `json:"version"`
	SavedAt   time.Time `json:"saved_at"`
}

// IdempotencyStore deduplicates submits. Keys have the form
// "idem:designer:{tenantId}:{key}".
type IdempotencyStore interface {
	// Check looks up a previous result by key. If the key exists and the
	// owner hash matches, it returns the cached result. If the key exists
	// but the hash differs, it returns a CONFLICT error.
	Check(ctx context.Context, key, ownerHash string) (result *SubmitResult, found bool, err error)

	// Store saves a submit result keyed by the idempotency key with a TTL.
	Store(ctx context.Context, key, ownerHash string, result SubmitResult, ttl time.Duration) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

type idempotencyEntry struct {
	OwnerHash string       `json:"owner_hash"`
	Result    SubmitResult `json:"result"`
}

func keyReusedError(key string) error {
	return model.NewConflictError(
		fmt.Sprintf("idempotency key %q already used by another designer session", key),
	)
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Check looks up a cached result.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key, ownerHash string) (*SubmitResult, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.OwnerHash != ownerHash {
		return nil, true, keyReusedError(key)
	}

	result := entry.data.Result
	return &result, true, nil
}

// Store saves a result with TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key, ownerHash string, result SubmitResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		data:      idempotencyEntry{OwnerHash: ownerHash, Result: result},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryIdempotencyStore) HealthCheck(context.Context) error {
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore is a Redis-backed IdempotencyStore with TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached result in Redis.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key, ownerHash string) (*SubmitResult, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if entry.OwnerHash != ownerHash {
		return nil, true, keyReusedError(key)
	}

	return &entry.Result, true, nil
}

// Store saves a result in Redis with TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key, ownerHash string, result SubmitResult, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{OwnerHash: ownerHash, Result: result})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FormatIdempotencyKey builds the standard idempotency key.
func FormatIdempotencyKey(tenantID, key string) string {
	return fmt.Sprintf("idem:designer:%s:%s", tenantID, key)
}
