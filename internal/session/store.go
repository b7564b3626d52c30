// Package session manages per-user conversation state with bounded history and TTL expiry.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hyperjump/nyaya/internal/models"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when a session existed but its TTL has passed.
	ErrExpired = errors.New("session expired")
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store persists sessions. Implementations must be safe for concurrent use; the Manager
// serializes writes to any single session.
type Store interface {
	Load(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Sweeper is implemented by stores that need active expiry.
type Sweeper interface {
	// ExpiredIDs returns the ids of sessions whose expiry is at or before now.
	ExpiredIDs(now time.Time) []string
}

type memoryShard struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// MemoryStore keeps sessions in process, partitioned into shards so sessions do not
// contend on a single lock.
type MemoryStore struct {
	shards []*memoryShard
}

// NewMemoryStore creates a memory store with n shards (minimum 1).
func NewMemoryStore(n int) *MemoryStore {
	if n < 1 {
		n = 1
	}
	m := &MemoryStore{shards: make([]*memoryShard, n)}
	for i := range m.shards {
		m.shards[i] = &memoryShard{sessions: make(map[string]*models.Session)}
	}
	return m
}

func (m *MemoryStore) shard(id string) *memoryShard {
	return m.shards[shardIndex(id, len(m.shards))]
}

func shardIndex(id string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load(_ context.Context, id string) (*models.Session, error) {
	sh := m.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Save stores a copy of s, wiping the previous copy.
func (m *MemoryStore) Save(_ context.Context, s *models.Session) error {
	sh := m.shard(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if old, ok := sh.sessions[s.ID]; ok {
		// The new copy owns fresh buffers; scrub the old ones before release.
		old.Wipe()
	}
	sh.sessions[s.ID] = s.Clone()
	return nil
}

// Delete wipes and removes a session.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	sh := m.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.sessions[id]; ok {
		s.Wipe()
		delete(sh.sessions, id)
	}
	return nil
}

// ExpiredIDs lists sessions whose expiry has passed.
func (m *MemoryStore) ExpiredIDs(now time.Time) []string {
	var ids []string
	for _, sh := range m.shards {
		sh.mu.RLock()
		for id, s := range sh.sessions {
			if s.Expired(now) {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}
	return ids
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Close wipes all sessions.
func (m *MemoryStore) Close() error {
	for _, sh := range m.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			s.Wipe()
			delete(sh.sessions, id)
		}
		sh.mu.Unlock()
	}
	return nil
}

// RedisStore keeps sessions as JSON values whose Redis TTL tracks the session expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "session:"}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

// Load fetches and decodes a session.
func (r *RedisStore) Load(ctx context.Context, id string) (*models.Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	clear(raw)
	return &s, nil
}

// Save encodes s and sets its TTL to the remaining session lifetime.
func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, s.ID)
	}
	err = r.client.Set(ctx, r.key(s.ID), raw, ttl).Err()
	clear(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes a session.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close does not close the shared client; its owner does.
func (r *RedisStore) Close() error {
	return nil
}
