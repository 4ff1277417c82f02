package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	channelBuffer = 10_000
	batchSize     = 64
	flushInterval = time.Second
)

// Backend is the storage abstraction. Implementations must tolerate
// concurrent Append/Query.
type Backend interface {
	Append(ctx context.Context, events []*Event) error
	Query(ctx context.Context, start, end int64, limit int) ([]*Event, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close() error
}

// Manager is the async analytics pipeline: Record enqueues without blocking,
// a background goroutine batches writes to the backend, and events are
// dropped (counted) when the buffer is full.
type Manager struct {
	backend Backend
	pricing *PricingConfig

	ch        chan *Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Int64

	baseCtx context.Context
	log     *slog.Logger
}

// NewManager starts the pipeline. pricing may be nil to skip cost
// computation.
func NewManager(ctx context.Context, backend Backend, pricing *PricingConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		backend: backend,
		pricing: pricing,
		ch:      make(chan *Event, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     log,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Record computes cost and enqueues the event. Never blocks; on
// backpressure the event is dropped and counted.
func (m *Manager) Record(e *Event) {
	if e.Cost == nil && e.Usage != nil && m.pricing != nil {
		if cost := m.pricing.CostFor(e.Request.Model, e.Usage); cost != nil {
			e.Cost = cost
		}
	}
	if e.Cost == nil {
		e.Cost = &Cost{}
	}
	select {
	case m.ch <- e:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many events were lost to backpressure.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

// Query returns events in [start, end], newest last, up to limit (0 = all).
func (m *Manager) Query(ctx context.Context, start, end int64, limit int) ([]*Event, error) {
	return m.backend.Query(ctx, start, end, limit)
}

// Aggregate summarizes the window.
func (m *Manager) Aggregate(ctx context.Context, start, end int64) (*Aggregation, error) {
	events, err := m.backend.Query(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	return Aggregate(events, start, end), nil
}

// Clear wipes the backend.
func (m *Manager) Clear(ctx context.Context) error {
	return m.backend.Clear(ctx)
}

// Stats reports backend statistics plus pipeline counters.
func (m *Manager) Stats(ctx context.Context) (map[string]any, error) {
	stats, err := m.backend.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats["dropped_events"] = m.Dropped()
	return stats, nil
}

// Close flushes pending events and releases the backend.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return m.backend.Close()
}

func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.backend.Append(ctx, batch); err != nil {
			m.log.Warn("analytics_append_failed",
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case e := <-m.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.done:
			// Drain whatever is queued, then a final flush.
			for {
				select {
				case e := <-m.ch:
					batch = append(batch, e)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case <-m.baseCtx.Done():
			flush()
			return
		}
	}
}
