package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eugener/eventsync/internal/cursor"
	"github.com/eugener/eventsync/internal/ingest"
	"github.com/eugener/eventsync/internal/normalize"
	"github.com/eugener/eventsync/internal/retry"
)

// PartitionWorker drives one timestamp-partition's pipelined fetch loop:
// fetch a page, filter it to the partition's half-open boundary, enqueue
// the filtered events for transactional persistence, and kick off the
// next fetch before awaiting that write.
type PartitionWorker struct {
	ID         int
	Checkpoint ingest.WorkerCheckpoint
	Source     ingest.EventsSource
	Queue      ingest.WriteQueue
	BatchSize  int
	Stop       func() bool
	OnProgress func(ingest.WorkerCheckpoint)
}

// Name implements worker.Worker.
func (w *PartitionWorker) Name() string {
	return fmt.Sprintf("partition-%d", w.ID)
}

type fetchResult struct {
	page ingest.Page
	err  error
}

// Run implements worker.Worker.
func (w *PartitionWorker) Run(ctx context.Context) error {
	cp := w.Checkpoint
	if cp.Status == ingest.StatusCompleted {
		return nil
	}

	cur := ""
	if cp.Cursor != nil {
		cur = *cp.Cursor
	} else {
		cur = cursor.Forge(cp.ChunkEndTs)
	}

	pending := w.startFetch(ctx, cur)
	done := false

	for !done {
		if w.stopRequested() {
			break
		}

		res := <-pending
		if res.err != nil {
			if retry.StatusOf(res.err) == 400 && cp.LastTs != nil {
				cur = cursor.Forge(*cp.LastTs)
				pending = w.startFetch(ctx, cur)
				continue
			}
			return fmt.Errorf("worker %d: fetch: %w", w.ID, res.err)
		}

		page := res.page
		filtered, crossedBoundary, minTs, haveMin := w.filterPage(page, cp)
		if crossedBoundary {
			done = true
		}

		cp.FetchedCount += int64(len(page.Events))
		if haveMin {
			cp.LastTs = &minTs
		}
		cur = page.NextCursor

		var next <-chan fetchResult
		if page.HasMore && !done && cur != "" {
			next = w.startFetch(ctx, cur)
		}

		if len(filtered) > 0 {
			cursorCopy := cur
			batch := ingest.WriteBatch{
				Events: filtered,
				Checkpoint: ingest.WorkerCheckpoint{
					WorkerID:      cp.WorkerID,
					ChunkStartTs:  cp.ChunkStartTs,
					ChunkEndTs:    cp.ChunkEndTs,
					Cursor:        &cursorCopy,
					LastTs:        cp.LastTs,
					FetchedCount:  cp.FetchedCount,
					InsertedCount: cp.InsertedCount,
					Status:        ingest.StatusRunning,
				},
			}
			inserted, err := w.Queue.Enqueue(ctx, batch)
			if err != nil {
				return fmt.Errorf("worker %d: enqueue: %w", w.ID, err)
			}
			cp.InsertedCount += inserted
		}

		if w.OnProgress != nil {
			w.OnProgress(cp)
		}

		if !page.HasMore || next == nil {
			done = true
		}
		pending = next
	}

	finalStatus := ingest.StatusCompleted
	if w.stopRequested() {
		finalStatus = ingest.StatusRunning
	}
	cp.Status = finalStatus
	if _, err := w.Queue.Enqueue(ctx, ingest.WriteBatch{Checkpoint: cp}); err != nil {
		return fmt.Errorf("worker %d: final checkpoint: %w", w.ID, err)
	}

	slog.Info("worker finished", "worker_id", w.ID, "status", finalStatus, "fetched", cp.FetchedCount, "inserted", cp.InsertedCount)
	return nil
}

// filterPage converts a page's events to the chunk's canonical form,
// keeping only events within [ChunkStartTs, ChunkEndTs) and reporting
// whether any event crossed below the chunk's lower boundary (a signal
// that the descending-order upstream has exhausted this partition).
func (w *PartitionWorker) filterPage(page ingest.Page, cp ingest.WorkerCheckpoint) (filtered []ingest.IngestionEvent, crossedBoundary bool, minTs int64, haveMin bool) {
	chunk := ingest.Chunk{StartTs: cp.ChunkStartTs, EndTs: cp.ChunkEndTs}
	for _, e := range page.Events {
		ts, ok := normalize.NormalizeTimestamp(e.Timestamp)
		if !ok {
			continue
		}
		if !haveMin || ts < minTs {
			minTs = ts
			haveMin = true
		}
		if ts < chunk.StartTs {
			crossedBoundary = true
			continue
		}
		if chunk.Contains(ts) {
			filtered = append(filtered, ingest.IngestionEvent{EventID: e.ID, TimestampMs: ts, Payload: e.Payload})
		}
	}
	return filtered, crossedBoundary, minTs, haveMin
}

func (w *PartitionWorker) startFetch(ctx context.Context, cur string) <-chan fetchResult {
	ch := make(chan fetchResult, 1)
	go func() {
		page, err := w.Source.FetchPage(ctx, ingest.FetchParams{Limit: w.BatchSize, Cursor: cur})
		ch <- fetchResult{page: page, err: err}
	}()
	return ch
}

func (w *PartitionWorker) stopRequested() bool {
	return w.Stop != nil && w.Stop()
}
