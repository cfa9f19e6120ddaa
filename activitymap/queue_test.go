package activitymap_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-workorder-auth"
	"github.com/goliatone/go-workorder-auth/activitymap"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	events  []auth.ActivityEvent
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{})}
}

func (s *blockingSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *blockingSink) recorded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestQueueRecordDoesNotWaitForSink(t *testing.T) {
	sink := newBlockingSink()
	q := activitymap.NewQueue(sink, activitymap.WithRecordTimeout(10*time.Second))
	q.Start(context.Background())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := q.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess, UserID: int64(i + 1)}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("record waited on the sink for %s", elapsed)
	}

	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := sink.recorded(); got != 3 {
		t.Fatalf("expected 3 delivered events, got %d", got)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	sink := newBlockingSink()
	// not started: nothing drains the queue
	q := activitymap.NewQueue(sink, activitymap.WithQueueSize(2))

	for i := 0; i < 5; i++ {
		if err := q.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLoginFailure}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	close(sink.release)
	q.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := sink.recorded(); got != 2 {
		t.Fatalf("expected 2 delivered events, got %d", got)
	}
}

func TestQueueCloseHonoursContext(t *testing.T) {
	sink := newBlockingSink()
	q := activitymap.NewQueue(sink, activitymap.WithRecordTimeout(time.Minute))
	q.Start(context.Background())

	if err := q.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventUserDeleted}); err != nil {
		t.Fatalf("record: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); err == nil {
		t.Fatal("expected close to give up while the sink blocks")
	}
	close(sink.release)

	// records after close are dropped
	if err := q.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventUserDeleted}); err != nil {
		t.Fatalf("record after close: %v", err)
	}
}
