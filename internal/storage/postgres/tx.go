package postgres

import (
	"context"
	"fmt"

	"github.com/eugener/eventsync/internal/ingest"
)

// ExecuteBatch implements ingest.TxExecutor: bulk-insert the batch's
// events and upsert its checkpoint inside a single transaction, rolling
// back on any error.
func (s *Store) ExecuteBatch(ctx context.Context, batch ingest.WriteBatch) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	inserted, err := insertEvents(ctx, tx, batch.Events)
	if err != nil {
		return 0, err
	}
	if err := upsertCheckpoint(ctx, tx, batch.Checkpoint); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return inserted, nil
}
