package postgres

import (
	"context"
	"fmt"

	"github.com/eugener/eventsync/internal/ingest"
)

// LoadAll implements ingest.CheckpointRepository, returning rows ordered
// by worker_id.
func (s *Store) LoadAll(ctx context.Context) ([]ingest.WorkerCheckpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT worker_id, chunk_start_ts, chunk_end_ts, cursor, last_ts,
		       fetched_count, inserted_count, status, updated_at
		FROM worker_checkpoints
		ORDER BY worker_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load checkpoints: %w", err)
	}
	defer rows.Close()

	var out []ingest.WorkerCheckpoint
	for rows.Next() {
		var cp ingest.WorkerCheckpoint
		var status string
		if err := rows.Scan(&cp.WorkerID, &cp.ChunkStartTs, &cp.ChunkEndTs, &cp.Cursor, &cp.LastTs,
			&cp.FetchedCount, &cp.InsertedCount, &status, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan checkpoint: %w", err)
		}
		cp.Status = ingest.Status(status)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Initialize implements ingest.CheckpointRepository, inserting one row per
// chunk with conflict-do-nothing so a restart doesn't clobber progress.
func (s *Store) Initialize(ctx context.Context, chunks []ingest.Chunk) error {
	for i, c := range chunks {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO worker_checkpoints (worker_id, chunk_start_ts, chunk_end_ts)
			VALUES ($1, $2, $3)
			ON CONFLICT (worker_id) DO NOTHING`, i, c.StartTs, c.EndTs)
		if err != nil {
			return fmt.Errorf("postgres: initialize checkpoint %d: %w", i, err)
		}
	}
	return nil
}

// ResetAll implements ingest.CheckpointRepository by truncating the table,
// used when the configured partition count no longer matches existing rows.
func (s *Store) ResetAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE worker_checkpoints`); err != nil {
		return fmt.Errorf("postgres: reset checkpoints: %w", err)
	}
	return nil
}

// Upsert implements ingest.CheckpointRepository, updating every mutable
// column by primary key.
func (s *Store) Upsert(ctx context.Context, cp ingest.WorkerCheckpoint) error {
	return upsertCheckpoint(ctx, s.pool, cp)
}

func upsertCheckpoint(ctx context.Context, q querier, cp ingest.WorkerCheckpoint) error {
	_, err := q.Exec(ctx, `
		INSERT INTO worker_checkpoints
			(worker_id, chunk_start_ts, chunk_end_ts, cursor, last_ts, fetched_count, inserted_count, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET
			chunk_start_ts = EXCLUDED.chunk_start_ts,
			chunk_end_ts   = EXCLUDED.chunk_end_ts,
			cursor         = EXCLUDED.cursor,
			last_ts        = EXCLUDED.last_ts,
			fetched_count  = EXCLUDED.fetched_count,
			inserted_count = EXCLUDED.inserted_count,
			status         = EXCLUDED.status,
			updated_at     = NOW()`,
		cp.WorkerID, cp.ChunkStartTs, cp.ChunkEndTs, cp.Cursor, cp.LastTs,
		cp.FetchedCount, cp.InsertedCount, string(cp.Status))
	if err != nil {
		return fmt.Errorf("postgres: upsert checkpoint %d: %w", cp.WorkerID, err)
	}
	return nil
}
