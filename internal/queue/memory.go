package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue — внутрипроцессная замена RedisQueue для тестов.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []string
	retries map[string]int64
	active  map[string]struct{}
	notify  chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		retries: make(map[string]int64),
		active:  make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, payload string) error {
	q.mu.Lock()
	q.items = append(q.items, payload)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) PopBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) Increment(ctx context.Context, jobID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries[jobID]++
	return q.retries[jobID], nil
}

func (q *MemoryQueue) Clear(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.retries, jobID)
	return nil
}

func (q *MemoryQueue) Add(ctx context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active[userID] = struct{}{}
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, userID)
	return nil
}

func (q *MemoryQueue) Members(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	members := make([]string, 0, len(q.active))
	for id := range q.active {
		members = append(members, id)
	}
	return members, nil
}

func (q *MemoryQueue) Contains(ctx context.Context, userID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.active[userID]
	return ok, nil
}
