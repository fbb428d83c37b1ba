// Package writequeue implements ingest.WriteQueue: bounded-concurrency,
// bounded-backlog transactional persistence with backpressure instead of
// drop-on-full, mirroring the teacher's buffer-then-flush worker loops.
package writequeue

import (
	"context"
	"sync"

	"github.com/eugener/eventsync/internal/ingest"
)

// defaultConcurrency and defaultBacklog are the spec's documented
// defaults: 2 concurrent writers, 100 pending tasks.
const (
	defaultConcurrency = 2
	defaultBacklog     = 100
)

type task struct {
	batch  ingest.WriteBatch
	result chan<- taskResult
}

type taskResult struct {
	inserted int64
	err      error
}

// Config controls the queue's concurrency and backlog bounds.
type Config struct {
	Concurrency int
	Backlog     int
}

// Queue is the production ingest.WriteQueue, delegating each batch's
// actual persistence to a TxExecutor (the Postgres repository).
type Queue struct {
	executor ingest.TxExecutor

	tasks chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// New builds a Queue and starts its worker pool.
func New(executor ingest.TxExecutor, cfg Config) *Queue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Backlog < 1 {
		cfg.Backlog = defaultBacklog
	}

	q := &Queue{
		executor: executor,
		tasks:    make(chan task, cfg.Backlog),
	}

	for i := 0; i < cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		inserted, err := q.executor.ExecuteBatch(context.Background(), t.batch)
		t.result <- taskResult{inserted: inserted, err: err}
	}
}

// Enqueue implements ingest.WriteQueue. It blocks (applying backpressure)
// when the backlog is full, and blocks again until the task completes so
// the caller learns the inserted row count -- the concurrency bound lives
// in the worker pool, not in how many tasks may be in flight from a
// caller's perspective.
func (q *Queue) Enqueue(ctx context.Context, batch ingest.WriteBatch) (int64, error) {
	result := make(chan taskResult, 1)
	select {
	case q.tasks <- task{batch: batch, result: result}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-result:
		return r.inserted, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Len reports the number of tasks currently buffered in the backlog,
// excluding whichever task a worker has already pulled off the channel.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Drain implements ingest.WriteQueue, closing the task channel and
// awaiting every in-flight and queued task's completion.
func (q *Queue) Drain(ctx context.Context) {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
