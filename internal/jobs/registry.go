package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WorkItem is one currently running invocation of a work unit.
type WorkItem struct {
	WorkerID  string
	Class     string
	Args      []any
	StartedAt time.Time
	// Owner is the lock owner token held by the run, empty for units that
	// do not lock.
	Owner string
}

// Registry enumerates running work items.
type Registry interface {
	Running(ctx context.Context) ([]WorkItem, error)
}

// Tracker is a Registry that runners can record into.
type Tracker interface {
	Registry
	Track(ctx context.Context, item WorkItem) error
	Untrack(ctx context.Context, workerID string) error
}

// MemoryRegistry tracks the work items running in this process.
type MemoryRegistry struct {
	mu    sync.RWMutex
	items map[string]WorkItem
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{items: make(map[string]WorkItem)}
}

// Track implements Tracker.
func (r *MemoryRegistry) Track(ctx context.Context, item WorkItem) error {
	r.mu.Lock()
	r.items[item.WorkerID] = item
	r.mu.Unlock()
	return nil
}

// Untrack implements Tracker.
func (r *MemoryRegistry) Untrack(ctx context.Context, workerID string) error {
	r.mu.Lock()
	delete(r.items, workerID)
	r.mu.Unlock()
	return nil
}

// Running implements Registry, oldest first.
func (r *MemoryRegistry) Running(ctx context.Context) ([]WorkItem, error) {
	r.mu.RLock()
	items := make([]WorkItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].StartedAt.Before(items[j].StartedAt) })
	return items, nil
}
