// Package orchestrator drives the ingestion engine's startup sequence:
// partitioning the configured timeline, reconciling checkpoints against
// the configured partition count, launching one PartitionWorker per
// active chunk with a launch stagger, and logging periodic progress
// until every worker returns.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eugener/eventsync/internal/cursor"
	"github.com/eugener/eventsync/internal/ingest"
	"github.com/eugener/eventsync/internal/metrics"
	"github.com/eugener/eventsync/internal/worker"
)

// defaultWorkerStagger and defaultProgressLogInterval are the spec's
// documented defaults.
const (
	defaultWorkerStagger        = 500 * time.Millisecond
	defaultProgressLogInterval = 15 * time.Second
)

// Config parametrizes one orchestrator run.
type Config struct {
	TsMin               int64
	TsMax               int64
	PartitionCount      int
	BatchSize           int
	WorkerStagger       time.Duration
	ProgressLogInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerStagger <= 0 {
		c.WorkerStagger = defaultWorkerStagger
	}
	if c.ProgressLogInterval <= 0 {
		c.ProgressLogInterval = defaultProgressLogInterval
	}
	if c.PartitionCount < 1 {
		c.PartitionCount = 1
	}
	return c
}

// depther is satisfied by write queues that can report their current
// backlog length; used only to enrich the progress log, so its absence
// is not an error.
type depther interface {
	Len() int
}

// Orchestrator owns the worker fleet, the write queue, and the
// checkpoint repository for one ingestion run.
type Orchestrator struct {
	Config      Config
	Checkpoints ingest.CheckpointRepository
	Source      ingest.EventsSource
	Queue       ingest.WriteQueue
	Metrics     *metrics.Metrics
	Throughput  *metrics.Throughput
}

// Run executes the full startup sequence and blocks until every active
// worker returns, including after ctx is cancelled. Cancellation sets a cooperative
// stop flag observed by workers between pages rather than aborting
// their in-flight requests; the write queue is always drained before
// Run returns, even when one or more workers fail.
func (o *Orchestrator) Run(ctx context.Context) error {
	cfg := o.Config.withDefaults()

	chunks := cursor.Partition(cfg.TsMin, cfg.TsMax, cfg.PartitionCount)

	existing, err := o.Checkpoints.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: load checkpoints: %w", err)
	}
	if len(existing) > 0 && len(existing) != len(chunks) {
		slog.Warn("orchestrator: partition count changed, resetting checkpoints",
			"existing", len(existing), "configured", len(chunks))
		if err := o.Checkpoints.ResetAll(ctx); err != nil {
			return fmt.Errorf("orchestrator: reset checkpoints: %w", err)
		}
	}
	if err := o.Checkpoints.Initialize(ctx, chunks); err != nil {
		return fmt.Errorf("orchestrator: initialize checkpoints: %w", err)
	}

	all, err := o.Checkpoints.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: reload checkpoints: %w", err)
	}

	tracker := newProgressTracker(all)

	var active []ingest.WorkerCheckpoint
	for _, cp := range all {
		if cp.Status != ingest.StatusCompleted {
			active = append(active, cp)
		}
	}
	if len(active) == 0 {
		slog.Info("orchestrator: all partitions already completed, nothing to do")
		return nil
	}

	var stopFlag atomic.Bool
	stopWatch, cancelStopWatch := context.WithCancel(context.Background())
	defer cancelStopWatch()
	go func() {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator: shutdown signal received, draining in-flight workers")
			stopFlag.Store(true)
		case <-stopWatch.Done():
		}
	}()

	// Workers run against an independent, uncancelled context so that a
	// shutdown signal drains cooperatively (stop flag checked between
	// pages) instead of aborting in-flight HTTP requests and database
	// transactions mid-flight.
	workCtx := context.Background()

	progressCtx, stopProgress := context.WithCancel(context.Background())
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		o.logProgress(progressCtx, cfg.ProgressLogInterval, tracker)
	}()

	var wg sync.WaitGroup
	var errsMu sync.Mutex
	var errs []error

	for i, cp := range active {
		i, cp := i, cp
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i > 0 {
				select {
				case <-time.After(time.Duration(i) * cfg.WorkerStagger):
				case <-ctx.Done():
				}
			}
			w := &worker.PartitionWorker{
				ID:         cp.WorkerID,
				Checkpoint: cp,
				Source:     o.Source,
				Queue:      o.Queue,
				BatchSize:  cfg.BatchSize,
				Stop:       stopFlag.Load,
				OnProgress: func(updated ingest.WorkerCheckpoint) {
					tracker.update(updated)
					if o.Metrics != nil {
						o.Metrics.Observe(updated.WorkerID, updated)
					}
				},
			}
			if err := w.Run(workCtx); err != nil {
				slog.Error("orchestrator: worker failed", "worker_id", cp.WorkerID, "error", err)
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("worker %d: %w", cp.WorkerID, err))
				errsMu.Unlock()
			}
		}()
	}

	wg.Wait()
	stopProgress()
	<-progressDone

	o.Queue.Drain(context.Background())

	return errors.Join(errs...)
}

// progressTracker accumulates the latest checkpoint reported by each
// worker so the periodic log can report fleet-wide totals without
// re-querying the store.
type progressTracker struct {
	mu   sync.Mutex
	byID map[int]ingest.WorkerCheckpoint
}

func newProgressTracker(initial []ingest.WorkerCheckpoint) *progressTracker {
	t := &progressTracker{byID: make(map[int]ingest.WorkerCheckpoint, len(initial))}
	for _, cp := range initial {
		t.byID[cp.WorkerID] = cp
	}
	return t
}

func (t *progressTracker) update(cp ingest.WorkerCheckpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[cp.WorkerID] = cp
}

func (t *progressTracker) totals() (fetched, inserted int64, running int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cp := range t.byID {
		fetched += cp.FetchedCount
		inserted += cp.InsertedCount
		if cp.Status == ingest.StatusRunning {
			running++
		}
	}
	return fetched, inserted, running
}

func (o *Orchestrator) logProgress(ctx context.Context, interval time.Duration, tracker *progressTracker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetched, inserted, running := tracker.totals()
			eps, eta, etaKnown := o.Throughput.Snapshot(inserted)

			pending := queueLen(o.Queue)

			fields := []any{
				"fetched", fetched,
				"inserted", inserted,
				"workers_running", running,
				"throughput_eps", fmt.Sprintf("%.1f", eps),
				"queue_pending", pending,
			}
			if etaKnown {
				fields = append(fields, "eta", eta.Round(time.Second).String())
			}
			if o.Metrics != nil {
				o.Metrics.QueueDepth.Set(float64(pending))
				o.Metrics.ThroughputEPS.Set(eps)
				if etaKnown {
					o.Metrics.ETASeconds.Set(eta.Seconds())
				}
			}
			slog.Info("ingestion progress", fields...)
		}
	}
}

func queueLen(q ingest.WriteQueue) int {
	if d, ok := q.(depther); ok {
		return d.Len()
	}
	return 0
}
