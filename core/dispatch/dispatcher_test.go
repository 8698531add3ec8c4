package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := New(zap.NewNop())
	t.Cleanup(d.Shutdown)
	return d
}

func TestRunWorker(t *testing.T) {
	d := newTestDispatcher(t)

	done := make(chan struct{})
	d.RunWorker(func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker task never ran")
	}
}

func TestWorkersRunConcurrently(t *testing.T) {
	d := newTestDispatcher(t)

	var wg sync.WaitGroup
	barrier := make(chan struct{})
	wg.Add(2)

	// Two tasks that each wait for the other; only concurrent execution
	// lets both pass the barrier.
	for i := 0; i < 2; i++ {
		d.RunWorker(func(ctx context.Context) {
			defer wg.Done()
			select {
			case barrier <- struct{}{}:
			case <-barrier:
			}
		})
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("worker tasks did not run concurrently")
	}
}

func TestAuthoritativeOrder(t *testing.T) {
	d := newTestDispatcher(t)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		d.RunAuthoritative(func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v, "authoritative tasks must run in submission order")
	}
}

func TestRunWorkerDelayed(t *testing.T) {
	d := newTestDispatcher(t)

	start := time.Now()
	done := make(chan struct{})
	d.RunWorkerDelayed(func(ctx context.Context) {
		close(done)
	}, 30*time.Millisecond)

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestCancelDelayed(t *testing.T) {
	d := newTestDispatcher(t)

	var ran atomic.Bool
	h := d.RunWorkerDelayed(func(ctx context.Context) {
		ran.Store(true)
	}, 30*time.Millisecond)
	h.Cancel()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, ran.Load(), "cancelled delayed task must not run")
	assert.True(t, h.Cancelled())
}

func TestRepeatingAndCancel(t *testing.T) {
	d := newTestDispatcher(t)

	var runs atomic.Int32
	h := d.RunWorkerRepeating(func(ctx context.Context) {
		runs.Add(1)
	}, 0, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 },
		time.Second, 5*time.Millisecond)

	h.Cancel()
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), settled+1, "cancel must stop future repeats")
}

func TestCancelAll(t *testing.T) {
	d := newTestDispatcher(t)

	var runs atomic.Int32
	for i := 0; i < 4; i++ {
		d.RunWorkerRepeating(func(ctx context.Context) {
			runs.Add(1)
		}, 0, 10*time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)

	d.CancelAll()
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), settled+4)
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	d := newTestDispatcher(t)

	d.RunAuthoritative(func(ctx context.Context) {
		panic("boom")
	})

	done := make(chan struct{})
	d.RunAuthoritative(func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("authoritative loop died after a panic")
	}
}

func TestSupplyWorker(t *testing.T) {
	d := newTestDispatcher(t)

	f := SupplyWorker(d, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := f.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSupplyWorkerError(t *testing.T) {
	d := newTestDispatcher(t)

	boom := errors.New("store down")
	f := SupplyWorker(d, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSupplyWorkerPanic(t *testing.T) {
	d := newTestDispatcher(t)

	f := SupplyWorker(d, func(ctx context.Context) (int, error) {
		panic("boom")
	})
	_, err := f.Await(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestSupplyAuthoritativeReentrant(t *testing.T) {
	d := newTestDispatcher(t)

	// From inside an authoritative task, SupplyAuthoritative must resolve
	// inline instead of enqueueing onto the loop it is blocking.
	outer := SupplyAuthoritative(d, context.Background(), func(ctx context.Context) (int, error) {
		inner := SupplyAuthoritative(d, ctx, func(ctx context.Context) (int, error) {
			return 7, nil
		})
		v, err, resolved := inner.TryGet()
		if !resolved {
			return 0, errors.New("inner future was scheduled, not run inline")
		}
		return v, err
	})

	v, err := outer.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestAwaitTimeout(t *testing.T) {
	d := newTestDispatcher(t)

	release := make(chan struct{})
	f := SupplyWorker(d, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	_, err := f.AwaitTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// The abandoned task still completes and resolves the future.
	close(release)
	v, err := f.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestShutdownIdempotent(t *testing.T) {
	d := New(zap.NewNop())

	var ran atomic.Bool
	d.RunAuthoritative(func(ctx context.Context) {
		ran.Store(true)
	})

	d.Shutdown()
	d.Shutdown()

	assert.True(t, ran.Load(), "queued one-shot must survive shutdown")

	h := d.RunWorker(func(ctx context.Context) {})
	assert.True(t, h.Cancelled(), "no new work after shutdown")
}

func TestShutdownExcludesRacingSubmissions(t *testing.T) {
	d := New(zap.NewNop())

	// Hammer submissions from many goroutines while Shutdown runs. Every
	// accepted task must have finished by the time Shutdown returns; late
	// submissions must be cancelled rather than half-started.
	var started, finished atomic.Int32
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				d.RunWorker(func(ctx context.Context) {
					started.Add(1)
					finished.Add(1)
				})
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	d.Shutdown()
	assert.Equal(t, started.Load(), finished.Load(),
		"every task accepted before shutdown ran to completion")

	afterWait := started.Load()
	close(stop)
	wg.Wait()
	assert.Equal(t, afterWait, started.Load(), "no task started after Shutdown returned")
}

func TestFutureResolvesOnce(t *testing.T) {
	f := NewFuture[int]()
	f.Complete(1)
	f.Complete(2)
	f.Fail(errors.New("late"))

	v, err := f.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}
