package core

import (
	"context"
	"testing"
	"time"
)

func TestQueueRunsActionsInOrder(t *testing.T) {
	q := NewQueue(8)
	ctx, cancel := context.WithCancel(context.Background())

	var order []int
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	results := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() {
			order = append(order, i)
			if i == 4 {
				close(results)
			}
		})
	}
	<-results
	cancel()
	<-done

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestTryEnqueueReportsFullQueue(t *testing.T) {
	q := NewQueue(1)
	block := make(chan struct{})
	if !q.TryEnqueue(func() { <-block }) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if q.TryEnqueue(func() {}) {
		t.Fatalf("expected second enqueue on a full, undrained queue to fail")
	}
	close(block)
}

func TestCoreRunStopsCleanlyOnCancel(t *testing.T) {
	c := New(4, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	c.Clock().Advance(1)
	if c.Clock().Now() == 0 {
		t.Fatalf("expected ticker-advanced clock to be nonzero")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Core.Run did not return after cancel")
	}
}
