package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testBackoff() *Backoff {
	return &Backoff{Base: time.Millisecond, Max: 50 * time.Millisecond}
}

// sleepRecorder replaces Queue.sleep and records every requested pause.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func startQueue(t *testing.T, b *Backoff) *Queue {
	t.Helper()
	q := NewQueue("alice", b, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestQueueResolvesEachCaller(t *testing.T) {
	q := startQueue(t, testBackoff())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := Do(ctx, q, func(context.Context) (int, error) {
				return i * 10, nil
			})
			if err != nil {
				errs <- err
				return
			}
			if got != i*10 {
				errs <- errors.New("caller received another caller's result")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestQueueRunsOneOperationAtATime(t *testing.T) {
	q := startQueue(t, testBackoff())
	ctx := context.Background()

	var running, maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(ctx, func(context.Context) (any, error) {
				current := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if m := atomic.LoadInt32(&maxSeen); m != 1 {
		t.Errorf("expected exactly 1 concurrent operation, saw %d", m)
	}
}

func TestQueueRetriedOperationKeepsPrecedence(t *testing.T) {
	q := startQueue(t, testBackoff())
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var attempts int32

	doneA := q.Submit(func(context.Context) (any, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			close(started)
			<-release
			return nil, errors.New("rate limited")
		}
		record("A")
		return "a", nil
	}, WithName("A"))

	<-started
	doneB := q.Submit(func(context.Context) (any, error) {
		record("B")
		return "b", nil
	}, WithName("B"))
	close(release)

	for _, done := range []<-chan Result{doneA, doneB} {
		select {
		case res := <-done:
			if res.Err != nil {
				t.Fatal(res.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for operations")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Errorf("expected [A B], got %v", order)
	}
	if n := atomic.LoadInt32(&attempts); n != 2 {
		t.Errorf("expected 2 attempts for A, got %d", n)
	}
}

func TestQueueBackoffGrowsWithRetries(t *testing.T) {
	b := testBackoff()
	rec := &sleepRecorder{}
	q := NewQueue("alice", b, nil)
	q.sleep = rec.sleep
	q.Start(context.Background())
	defer q.Stop()

	var calls int32
	_, err := q.Enqueue(context.Background(), func(context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, errors.New("connection reset")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	delays := rec.recorded()
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %v", delays)
	}
	if delays[1] < delays[0] {
		t.Errorf("second backoff %v shorter than first %v", delays[1], delays[0])
	}
	if delays[0] != b.Delay(1) {
		t.Errorf("expected first backoff %v, got %v", b.Delay(1), delays[0])
	}
}

func TestQueueBackoffTracksPendingWork(t *testing.T) {
	b := testBackoff()
	rec := &sleepRecorder{}
	q := NewQueue("alice", b, nil)
	q.sleep = rec.sleep
	q.Start(context.Background())
	defer q.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	doneA := q.Submit(func(context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
			return nil, errors.New("timeout")
		}
		return nil, nil
	})
	<-started
	doneB := q.Submit(func(context.Context) (any, error) { return nil, nil })
	doneC := q.Submit(func(context.Context) (any, error) { return nil, nil })
	close(release)

	for _, done := range []<-chan Result{doneA, doneB, doneC} {
		<-done
	}

	delays := rec.recorded()
	if len(delays) == 0 {
		t.Fatal("expected a backoff sleep")
	}
	if delays[0] != b.Delay(3) {
		t.Errorf("expected backoff for 3 pending operations (%v), got %v", b.Delay(3), delays[0])
	}
}

func TestQueueStopFailsPendingOperations(t *testing.T) {
	q := NewQueue("alice", testBackoff(), nil)
	q.Start(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	doneA := q.Submit(func(context.Context) (any, error) {
		close(started)
		<-release
		return "finished", nil
	})
	<-started
	doneB := q.Submit(func(context.Context) (any, error) { return "never", nil })

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	for q.ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if res := <-doneA; res.Err != nil || res.Value != "finished" {
		t.Errorf("expected in-flight operation to finish, got %+v", res)
	}
	if res := <-doneB; !errors.Is(res.Err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped for pending operation, got %+v", res)
	}
}

func TestQueueSubmitBeforeStart(t *testing.T) {
	q := NewQueue("alice", testBackoff(), nil)
	res := <-q.Submit(func(context.Context) (any, error) { return nil, nil })
	if !errors.Is(res.Err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped, got %v", res.Err)
	}
}

func TestQueueEnqueueCallerContext(t *testing.T) {
	q := startQueue(t, testBackoff())

	release := make(chan struct{})
	defer close(release)
	q.Submit(func(context.Context) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Enqueue(ctx, func(context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestWithTimeoutReturnsFallback(t *testing.T) {
	var timedOut atomic.Bool
	op := WithTimeout(20*time.Millisecond, func(context.Context) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}, func() any {
		timedOut.Store(true)
		return "fallback"
	})

	start := time.Now()
	v, err := op(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "fallback" {
		t.Errorf("expected fallback, got %v", v)
	}
	if !timedOut.Load() {
		t.Error("expected onTimeout to run")
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("timeout did not cut the wait short")
	}
}

func TestWithTimeoutPassesThroughErrors(t *testing.T) {
	op := WithTimeout(time.Second, func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, nil)
	if _, err := op(context.Background()); err == nil {
		t.Error("expected error to pass through")
	}
}

func TestDoSettledReturnsPermanentErrors(t *testing.T) {
	q := startQueue(t, testBackoff())
	ctx := context.Background()
	errDenied := errors.New("denied")
	isDenied := func(err error) bool { return errors.Is(err, errDenied) }

	var attempts atomic.Int32
	_, err := DoSettled(ctx, q, func(context.Context) (string, error) {
		attempts.Add(1)
		return "", errDenied
	}, isDenied, WithName("post"))
	if !errors.Is(err, errDenied) {
		t.Fatalf("expected errDenied, got %v", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("permanent failure ran %d times, want 1", n)
	}

	// Transient failures are still retried, and the lane keeps serving.
	var flaky atomic.Int32
	got, err := DoSettled(ctx, q, func(context.Context) (string, error) {
		if flaky.Add(1) < 3 {
			return "", errors.New("busy")
		}
		return "ok", nil
	}, isDenied)
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if n := flaky.Load(); n != 3 {
		t.Errorf("transient failure ran %d times, want 3", n)
	}
}
