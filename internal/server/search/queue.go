// Package search queues saved items for full-text indexing.
package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Entry identifies one item waiting for the indexer.
type Entry struct {
	LibraryID int64
	Key       string
}

func (e Entry) String() string {
	return fmt.Sprintf("%d/%s", e.LibraryID, e.Key)
}

type Queue interface {
	Enqueue(ctx context.Context, libraryID int64, key string) error
}

// RedisQueue appends entries to a redis list consumed by the indexer.
type RedisQueue struct {
	client redis.Cmdable
	list   string
}

func NewRedisQueue(client redis.Cmdable, list string) *RedisQueue {
	return &RedisQueue{client: client, list: list}
}

func (q *RedisQueue) Enqueue(ctx context.Context, libraryID int64, key string) error {
	return q.client.RPush(ctx, q.list, Entry{LibraryID: libraryID, Key: key}.String()).Err()
}

// MemoryQueue keeps entries in process. Duplicates collapse until drained.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
	seen    map[Entry]struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{seen: make(map[Entry]struct{})}
}

func (q *MemoryQueue) Enqueue(_ context.Context, libraryID int64, key string) error {
	e := Entry{LibraryID: libraryID, Key: key}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.seen[e]; ok {
		return nil
	}
	q.seen[e] = struct{}{}
	q.entries = append(q.entries, e)
	return nil
}

// Drain returns and clears the pending entries in arrival order.
func (q *MemoryQueue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	q.seen = make(map[Entry]struct{})
	return out
}
