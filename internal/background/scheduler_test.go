package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsQueuedTask(t *testing.T) {
	s := New(2, 8)
	defer s.Stop()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule(func(ctx context.Context) error {
		ran.Store(true)
		wg.Done()
		return nil
	})

	wg.Wait()
	if !ran.Load() {
		t.Fatal("expected task to run")
	}
}

func TestScheduler_FullQueueDropsRatherThanBlocks(t *testing.T) {
	s := New(1, 1)
	defer s.Stop()

	block := make(chan struct{})
	s.Schedule(func(ctx context.Context) error {
		<-block
		return nil
	})

	// give the single worker time to pick up the blocking task so the
	// queue below is actually empty-but-occupied, not racing the worker.
	time.Sleep(10 * time.Millisecond)

	s.Schedule(func(ctx context.Context) error { return nil })

	done := make(chan struct{})
	go func() {
		s.Schedule(func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Schedule blocked instead of dropping the task on a full queue")
	}

	close(block)
}

func TestScheduler_StopWaitsForInFlightTask(t *testing.T) {
	s := New(1, 4)

	var finished atomic.Bool
	s.Schedule(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	time.Sleep(5 * time.Millisecond)
	s.Stop()

	if !finished.Load() {
		t.Fatal("expected Stop to wait for the in-flight task to finish")
	}
}

func TestScheduler_ErrorIsLoggedNotPropagated(t *testing.T) {
	s := New(1, 4)
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule(func(ctx context.Context) error {
		defer wg.Done()
		return errors.New("boom")
	})

	wg.Wait()
}
