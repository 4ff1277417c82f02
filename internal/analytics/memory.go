package analytics

import (
	"context"
	"sync"
)

// MemoryBackend keeps events in a bounded ring buffer. Oldest events are
// evicted first. Intended for local development and tests.
type MemoryBackend struct {
	mu     sync.RWMutex
	events []*Event
	max    int
}

// NewMemoryBackend creates a backend holding at most max events
// (default 10 000 when max <= 0).
func NewMemoryBackend(max int) *MemoryBackend {
	if max <= 0 {
		max = 10_000
	}
	return &MemoryBackend{max: max}
}

func (b *MemoryBackend) Append(_ context.Context, events []*Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	if excess := len(b.events) - b.max; excess > 0 {
		b.events = append([]*Event(nil), b.events[excess:]...)
	}
	return nil
}

func (b *MemoryBackend) Query(_ context.Context, start, end int64, limit int) ([]*Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Event
	for _, e := range b.events {
		if e.Timestamp >= start && e.Timestamp <= end {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Stats(_ context.Context) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]any{
		"backend":      "memory",
		"total_events": len(b.events),
		"max_events":   b.max,
	}, nil
}

func (b *MemoryBackend) Close() error { return nil }
