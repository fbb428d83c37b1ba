package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eugener/eventsync/internal/ingest"
)

type fakeExecutor struct {
	mu          sync.Mutex
	batches     []ingest.WriteBatch
	inFlight    int32
	maxInFlight int32
	delay       time.Duration
	failOn      func(ingest.WriteBatch) error
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, batch ingest.WriteBatch) (int64, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&f.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxInFlight, cur, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failOn != nil {
		if err := f.failOn(batch); err != nil {
			return 0, err
		}
	}

	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
	return int64(len(batch.Events)), nil
}

func TestEnqueueReturnsInsertedCount(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	q := New(exec, Config{Concurrency: 2, Backlog: 4})

	batch := ingest.WriteBatch{Events: []ingest.IngestionEvent{{EventID: "a"}, {EventID: "b"}}}
	inserted, err := q.Enqueue(t.Context(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
	q.Drain(t.Context())
}

func TestEnqueueRespectsConcurrencyBound(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{delay: 30 * time.Millisecond}
	q := New(exec, Config{Concurrency: 2, Backlog: 10})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(t.Context(), ingest.WriteBatch{})
		}()
	}
	wg.Wait()
	q.Drain(t.Context())

	if got := atomic.LoadInt32(&exec.maxInFlight); got > 2 {
		t.Errorf("maxInFlight = %d, want <= 2", got)
	}
}

func TestEnqueuePropagatesExecutorError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("tx failed")
	exec := &fakeExecutor{failOn: func(ingest.WriteBatch) error { return wantErr }}
	q := New(exec, Config{Concurrency: 1, Backlog: 4})

	_, err := q.Enqueue(t.Context(), ingest.WriteBatch{})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	q.Drain(t.Context())
}

func TestDrainAwaitsInFlightTasks(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{delay: 50 * time.Millisecond}
	q := New(exec, Config{Concurrency: 1, Backlog: 4})

	go q.Enqueue(context.Background(), ingest.WriteBatch{})
	time.Sleep(5 * time.Millisecond)

	start := time.Now()
	q.Drain(t.Context())
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Drain returned before the in-flight task completed")
	}
}
