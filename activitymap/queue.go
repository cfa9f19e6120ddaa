package activitymap

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-workorder-auth"
)

// Queue takes activity off the request path. Record only enqueues, workers
// hand events to the wrapped sink. A full queue drops the event.
type Queue struct {
	sink    auth.ActivitySink
	logger  auth.Logger
	queue   chan auth.ActivityEvent
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started sync.Once
}

var _ auth.ActivitySink = (*Queue)(nil)

// QueueOption configures a Queue
type QueueOption func(*Queue)

func WithQueueLogger(logger auth.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithQueueSize(size int) QueueOption {
	return func(q *Queue) {
		if size > 0 {
			q.queue = make(chan auth.ActivityEvent, size)
		}
	}
}

func WithQueueWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithRecordTimeout bounds a single call to the wrapped sink
func WithRecordTimeout(timeout time.Duration) QueueOption {
	return func(q *Queue) {
		if timeout > 0 {
			q.timeout = timeout
		}
	}
}

func NewQueue(sink auth.ActivitySink, opts ...QueueOption) *Queue {
	q := &Queue{
		sink:    sink,
		logger:  auth.NewSlogLogger(nil),
		queue:   make(chan auth.ActivityEvent, 256),
		workers: 1,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Start launches the workers. They stop once Close drained the queue.
func (q *Queue) Start(ctx context.Context) {
	q.started.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(ctx)
		}
	})
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for event := range q.queue {
		q.deliver(ctx, event)
	}
}

func (q *Queue) deliver(ctx context.Context, event auth.ActivityEvent) {
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()

	if err := q.sink.Record(recCtx, event); err != nil {
		args := []any{"event", event.EventType, "user_id", event.UserID, "error", err}
		for _, attr := range goerrors.ToSlogAttributes(err) {
			args = append(args, attr)
		}
		q.logger.Error("activity delivery failed", args...)
	}
}

// Record enqueues event and returns at once
func (q *Queue) Record(_ context.Context, event auth.ActivityEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("activity dropped, queue closed", "event", event.EventType, "user_id", event.UserID)
		return nil
	}

	select {
	case q.queue <- event:
	default:
		q.logger.Warn("activity dropped, queue full", "event", event.EventType, "user_id", event.UserID)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled while draining activity")
	}
}
