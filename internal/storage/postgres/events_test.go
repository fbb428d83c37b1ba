package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eugener/eventsync/internal/ingest"
)

// recordingQuerier captures the SQL and arguments passed to Exec instead
// of hitting a real database, since exercising the unnest bulk-insert
// shape doesn't require one.
type recordingQuerier struct {
	sql  string
	args []any
	tag  pgconn.CommandTag
	err  error
}

func (r *recordingQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return r.tag, r.err
}

func TestInsertEventsEmptyIsNoOp(t *testing.T) {
	t.Parallel()
	q := &recordingQuerier{}
	inserted, err := insertEvents(t.Context(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 0 {
		t.Errorf("inserted = %d, want 0", inserted)
	}
	if q.sql != "" {
		t.Error("Exec should not be called for an empty batch")
	}
}

func TestInsertEventsBuildsUnnestArrays(t *testing.T) {
	t.Parallel()
	q := &recordingQuerier{tag: pgconn.NewCommandTag("INSERT 0 2")}
	events := []ingest.IngestionEvent{
		{EventID: "a", TimestampMs: 100, Payload: []byte(`{"x":1}`)},
		{EventID: "b", TimestampMs: 200, Payload: []byte(`{"x":2}`)},
	}

	inserted, err := insertEvents(t.Context(), q, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
	if len(q.args) != 3 {
		t.Fatalf("len(args) = %d, want 3 (ids, timestamps, payloads)", len(q.args))
	}

	ids := q.args[0].([]string)
	timestamps := q.args[1].([]int64)
	payloads := q.args[2].([]string)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v", ids)
	}
	if len(timestamps) != 2 || timestamps[0] != 100 || timestamps[1] != 200 {
		t.Errorf("timestamps = %v", timestamps)
	}
	if len(payloads) != 2 || payloads[0] != `{"x":1}` {
		t.Errorf("payloads = %v", payloads)
	}
}
