package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSignalIsMonotone(t *testing.T) {
	s := NewSignal()
	if s.IsSet() {
		t.Fatal("new signal should not be set")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Set()
		}()
	}
	wg.Wait()

	if !s.IsSet() {
		t.Fatal("signal should be set")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestRegistryTracksRunningTasks(t *testing.T) {
	c := New()
	release := make(chan struct{})

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := c.Go(context.Background(), "task", func(ctx context.Context) {
			<-release
		}); err != nil {
			t.Fatalf("Go: %v", err)
		}
	}

	if got := c.Len(); got != n {
		t.Errorf("Len() = %d, want %d", got, n)
	}

	close(release)
	if !c.AwaitAll(time.Second) {
		t.Fatal("tasks did not finish")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("Len() after completion = %d, want 0", got)
	}
}

func TestRemovedTaskNeverReenters(t *testing.T) {
	c := New()
	task, err := c.Go(context.Background(), "once", func(ctx context.Context) {})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	<-task.Done()

	if err := c.Register(task); !errors.Is(err, ErrFinished) {
		t.Errorf("Register(finished) = %v, want ErrFinished", err)
	}

	pending := NewTask(context.Background(), "pending")
	if err := c.Register(pending); err != nil {
		t.Fatalf("Register: %v", err)
	}
	c.Unregister(pending)
	if err := c.Register(pending); !errors.Is(err, ErrFinished) {
		t.Errorf("Register(unregistered) = %v, want ErrFinished", err)
	}
}

func TestRegisterAfterShutdown(t *testing.T) {
	c := New()
	c.SignalShutdown()

	if _, err := c.Go(context.Background(), "late", func(ctx context.Context) {}); !errors.Is(err, ErrShutdown) {
		t.Errorf("Go after shutdown = %v, want ErrShutdown", err)
	}
}

func TestAwaitAllRespectsTimeout(t *testing.T) {
	c := New()
	stuck := make(chan struct{})
	defer close(stuck)

	task, err := c.Go(context.Background(), "stuck", func(ctx context.Context) {
		<-stuck
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}

	start := time.Now()
	if c.AwaitAll(50 * time.Millisecond) {
		t.Fatal("AwaitAll should report a timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("AwaitAll blocked for %v", elapsed)
	}

	pending := c.CancelAll()
	if len(pending) != 1 || pending[0] != task {
		t.Errorf("CancelAll returned %d tasks", len(pending))
	}
	if task.Context().Err() == nil {
		t.Error("task context should be cancelled")
	}
}

func TestCancelUnblocksCooperativeTask(t *testing.T) {
	c := New()
	task, err := c.Go(context.Background(), "ctx", func(ctx context.Context) {
		<-ctx.Done()
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}

	c.CancelAll()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}
