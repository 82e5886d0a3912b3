package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue[string](WithCapacity(2), WithName("test"))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, "a") {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}
	item, err := q.Receive(ctx)
	if err != nil || item != "a" {
		t.Fatalf("Receive = %q, %v", item, err)
	}
	if q.Capacity() != 2 {
		t.Errorf("capacity = %d", q.Capacity())
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, 1) || !q.Enqueue(ctx, 2) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, 3) {
		t.Error("expected enqueue to fail when full")
	}
	if err := q.EnqueueWait(ctx, 3, 10*time.Millisecond); !errors.Is(err, ErrFull) {
		t.Errorf("EnqueueWait on full queue = %v, want ErrFull", err)
	}
}

func TestInMemoryQueue_EnqueueWaitUnblocks(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(1))
	ctx := context.Background()
	q.Enqueue(ctx, 1)

	done := make(chan error, 1)
	go func() { done <- q.EnqueueWait(ctx, 2, time.Second) }()

	time.Sleep(10 * time.Millisecond)
	if v, _ := q.Receive(ctx); v != 1 {
		t.Fatalf("got %d, want 1", v)
	}
	if err := <-done; err != nil {
		t.Fatalf("EnqueueWait = %v", err)
	}
	if v, _ := q.Receive(ctx); v != 2 {
		t.Fatalf("got %d, want 2", v)
	}
}

func TestInMemoryQueue_CloseReleasesWaiters(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(1))
	ctx := context.Background()
	q.Enqueue(ctx, 1)

	done := make(chan error, 1)
	go func() { done <- q.EnqueueWait(ctx, 2, 5*time.Second) }()
	time.Sleep(10 * time.Millisecond)

	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("waiter got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}

	// Items queued before Close drain, then ErrClosed.
	if v, err := q.Receive(ctx); err != nil || v != 1 {
		t.Fatalf("drain = %d, %v", v, err)
	}
	if _, err := q.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("after drain = %v, want ErrClosed", err)
	}
	if !q.IsClosed() {
		t.Error("expected closed")
	}
	if q.Enqueue(ctx, 3) {
		t.Error("enqueue after close should fail")
	}
	if err := q.EnqueueWait(ctx, 3, time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("EnqueueWait after close = %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close = %v", err)
	}
}

func TestInMemoryQueue_ContextCancellation(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Receive = %v, want context.Canceled", err)
	}
	q.Enqueue(context.Background(), 1)
	if err := q.EnqueueWait(ctx, 2, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("EnqueueWait = %v, want context.Canceled", err)
	}
}

func TestInMemoryQueue_OrderUnderConcurrency(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = q.EnqueueWait(ctx, i, time.Second)
			}
		}()
	}
	wg.Wait()
	if q.Len() != 400 {
		t.Fatalf("len = %d", q.Len())
	}
	_ = q.Close()
	n := 0
	for {
		if _, err := q.Receive(ctx); err != nil {
			break
		}
		n++
	}
	if n != 400 {
		t.Errorf("received %d items, want 400", n)
	}
}

func TestInMemoryQueue_ReadyChannel(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(2), WithName("ready"))
	ctx := context.Background()

	if !q.Enqueue(ctx, 7) {
		t.Fatal("expected enqueue to succeed")
	}
	select {
	case v := <-q.Ready():
		q.Took()
		if v != 7 {
			t.Fatalf("got %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("ready channel did not deliver")
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	_ = q.Close()
	if _, ok := <-q.Ready(); ok {
		t.Error("expected ready channel to be closed")
	}
}
