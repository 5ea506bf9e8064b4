// Package dedup drops inbound messages that were already handled, e.g. when
// the bridge replays a watch window after a reconnect.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a message id is remembered.
	DefaultTTL = 10 * time.Minute

	DefaultKeyPrefix = "imsgclaw:dedup:"

	maxMemoryEntries = 10000
)

// Filter reports whether a message id is seen for the first time.
// An empty id is always new.
type Filter interface {
	IsNew(ctx context.Context, id string) bool
}

// MemoryFilter is an in-process TTL set.
type MemoryFilter struct {
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (f *MemoryFilter) IsNew(_ context.Context, id string) bool {
	if id == "" {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if exp, ok := f.seen[id]; ok && now.Before(exp) {
		return false
	}
	if len(f.seen) >= maxMemoryEntries {
		f.prune(now)
	}
	f.seen[id] = now.Add(f.ttl)
	return true
}

// Len returns the number of remembered ids, expired ones included.
func (f *MemoryFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *MemoryFilter) prune(now time.Time) {
	for id, exp := range f.seen {
		if !now.Before(exp) {
			delete(f.seen, id)
		}
	}
	// Still full: evict arbitrarily rather than grow without bound.
	for id := range f.seen {
		if len(f.seen) < maxMemoryEntries {
			break
		}
		delete(f.seen, id)
	}
}

// RedisFilter shares the seen set across processes with SET NX + TTL.
// Redis errors fail open so an outage never drops messages.
type RedisFilter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisFilter(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisFilter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFilter{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (f *RedisFilter) key(id string) string { return f.prefix + id }

func (f *RedisFilter) IsNew(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}
	set, err := f.rdb.SetNX(ctx, f.key(id), 1, f.ttl).Result()
	if err != nil {
		f.logger.Warn("dedup: redis SETNX failed, treating message as new", "error", err)
		return true
	}
	return set
}

// Close releases the Redis client.
func (f *RedisFilter) Close() error { return f.rdb.Close() }
