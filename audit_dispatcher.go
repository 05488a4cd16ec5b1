package storeauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditQueue delivers audit events to the sink from a single worker so the
// account flows never wait on audit I/O, unless the queue is configured to
// apply backpressure instead of dropping.
type auditQueue struct {
	sink       AuditSink
	dropIfFull bool

	mu       sync.RWMutex
	stopped  bool
	events   chan AuditEvent
	stop     chan struct{}
	stopOnce sync.Once
	drained  chan struct{}
	dropped  atomic.Uint64
}

func newAuditQueue(cfg AuditConfig, sink AuditSink) *auditQueue {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = discardAudit
	}
	q := &auditQueue{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		events:     make(chan AuditEvent, size),
		stop:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	go q.deliver()
	return q
}

func (q *auditQueue) deliver() {
	defer close(q.drained)
	for event := range q.events {
		q.sink.Emit(context.Background(), event)
	}
}

// publish queues event. A full queue drops and counts the event when
// dropIfFull is set and otherwise waits for room, ctx or shutdown.
func (q *auditQueue) publish(ctx context.Context, event AuditEvent) {
	if q == nil {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return
	}

	if q.dropIfFull {
		select {
		case q.events <- event:
		default:
			q.dropped.Add(1)
		}
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.events <- event:
	case <-ctx.Done():
	case <-q.stop:
	}
}

// shutdown stops intake and returns once the sink has seen every queued event.
func (q *auditQueue) shutdown() {
	if q == nil {
		return
	}
	// Release publishers waiting for room before taking the write lock.
	q.stopOnce.Do(func() { close(q.stop) })
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.events)
	}
	q.mu.Unlock()
	<-q.drained
}

func (q *auditQueue) droppedCount() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}
