package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eugener/eventsync/internal/ingest"
)

// InsertEvents implements ingest.EventRepository using the array-unnest
// bulk-insert form: one parameter each for ids, timestamps, and payloads,
// expanded server-side with unnest and cast to jsonb. Conflicting
// event_ids are silently ignored.
func (s *Store) InsertEvents(ctx context.Context, events []ingest.IngestionEvent) (int64, error) {
	return insertEvents(ctx, s.pool, events)
}

// ListEventIDs implements ingest.EventIDLister, returning up to limit
// event_ids strictly greater than after, ordered ascending so repeated
// calls can page through the full table without an OFFSET scan.
func (s *Store) ListEventIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id FROM ingested_events
		WHERE event_id > $1
		ORDER BY event_id
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the bulk
// insert run either standalone or inside a caller-managed transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvents(ctx context.Context, q querier, events []ingest.IngestionEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]string, len(events))
	timestamps := make([]int64, len(events))
	payloads := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID
		timestamps[i] = e.TimestampMs
		payloads[i] = string(e.Payload)
	}

	const query = `
		INSERT INTO ingested_events (event_id, timestamp_ms, payload)
		SELECT id, ts, payload::jsonb
		FROM unnest($1::text[], $2::bigint[], $3::text[]) AS t(id, ts, payload)
		ON CONFLICT (event_id) DO NOTHING`

	tag, err := q.Exec(ctx, query, ids, timestamps, payloads)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert events: %w", err)
	}
	return tag.RowsAffected(), nil
}
