package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeResult struct {
	err error
}

func (r *fakeResult) GetError() error { return r.err }

// fakeJob sleeps for delay (or until cancelled) and fails with err.
type fakeJob struct {
	delay  time.Duration
	err    error
	before func()
	after  func()
}

func (j *fakeJob) Execute(ctx context.Context) Result {
	if j.before != nil {
		j.before()
	}
	if j.after != nil {
		defer j.after()
	}
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return &fakeResult{err: ctx.Err()}
		}
	}
	return &fakeResult{err: j.err}
}

func TestNewPool_Workers(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{requested: 5, want: 5},
		{requested: 0, want: 1},
		{requested: -3, want: 1},
	}
	for _, tt := range tests {
		if got := NewPool(context.Background(), tt.requested).workers; got != tt.want {
			t.Errorf("NewPool(%d): workers = %d, want %d", tt.requested, got, tt.want)
		}
	}

	if p := NewPool(nil, 1); p.ctx == nil { //nolint:staticcheck // nil parent is allowed
		t.Error("nil parent should fall back to a background context")
	}
}

func TestPool_CollectsEveryResult(t *testing.T) {
	errApp := errors.New("statement file unreadable")

	tests := []struct {
		name     string
		workers  int
		jobs     []Job
		wantErrs int
	}{
		{
			name:    "all succeed",
			workers: 2,
			jobs:    []Job{&fakeJob{}, &fakeJob{}, &fakeJob{}, &fakeJob{}},
		},
		{
			name:     "failures are results",
			workers:  2,
			jobs:     []Job{&fakeJob{err: errApp}, &fakeJob{}, &fakeJob{err: errApp}},
			wantErrs: 2,
		},
		{
			name:    "single worker",
			workers: 1,
			jobs:    []Job{&fakeJob{delay: time.Millisecond}, &fakeJob{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(context.Background(), tt.workers)
			pool.Start()
			for _, job := range tt.jobs {
				if !pool.Submit(job) {
					t.Fatal("Submit rejected a job on a live pool")
				}
			}

			results := pool.Wait()
			if len(results) != len(tt.jobs) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.jobs))
			}
			errs := 0
			for _, r := range results {
				if r.GetError() != nil {
					errs++
				}
			}
			if errs != tt.wantErrs {
				t.Errorf("got %d failed results, want %d", errs, tt.wantErrs)
			}
		})
	}
}

func TestPool_ManyMoreJobsThanBuffer(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	pool.Start()

	const count = 200
	done := make(chan []Result)
	go func() {
		for i := 0; i < count; i++ {
			pool.Submit(&fakeJob{})
		}
		done <- pool.Wait()
	}()

	select {
	case results := <-done:
		if len(results) != count {
			t.Errorf("expected %d results, got %d", count, len(results))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pool stalled with unread results")
	}
}

func TestPool_OnResult(t *testing.T) {
	pool := NewPool(context.Background(), 3)

	var seen atomic.Int32
	pool.OnResult(func(Result) { seen.Add(1) })
	pool.Start()

	for i := 0; i < 7; i++ {
		pool.Submit(&fakeJob{})
	}
	pool.Wait()

	if got := seen.Load(); got != 7 {
		t.Errorf("expected 7 callbacks, got %d", got)
	}
}

func TestPool_NeverExceedsWorkers(t *testing.T) {
	const workers = 4
	pool := NewPool(context.Background(), workers)
	pool.Start()

	var running, peak atomic.Int32
	for i := 0; i < 30; i++ {
		pool.Submit(&fakeJob{
			delay: 5 * time.Millisecond,
			before: func() {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
			},
			after: func() { running.Add(-1) },
		})
	}
	pool.Wait()

	if got := peak.Load(); got > workers {
		t.Errorf("peak concurrency %d exceeded %d workers", got, workers)
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()
	pool.Shutdown()

	done := make(chan bool)
	go func() {
		done <- pool.Submit(&fakeJob{})
	}()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Submit to report a cancelled pool")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Submit after shutdown blocked")
	}
}

func TestPool_Shutdown(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	started := make(chan struct{})
	pool.Submit(&fakeJob{
		before: func() { close(started) },
		delay:  5 * time.Second,
	})
	<-started

	done := make(chan []Result)
	go func() { done <- pool.Shutdown() }()

	select {
	case results := <-done:
		if len(results) != 1 || !errors.Is(results[0].GetError(), context.Canceled) {
			t.Errorf("expected one cancelled result, got %v", results)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Shutdown timed out")
	}
}

func TestPool_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()
	cancel()

	if pool.Submit(&fakeJob{}) {
		t.Error("expected Submit to fail once the parent is cancelled")
	}

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Wait blocked after parent cancel")
	}
}
