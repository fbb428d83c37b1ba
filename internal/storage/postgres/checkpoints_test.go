package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eugener/eventsync/internal/ingest"
)

func TestUpsertCheckpointBuildsExpectedArgs(t *testing.T) {
	t.Parallel()
	q := &recordingQuerier{tag: pgconn.NewCommandTag("INSERT 0 1")}
	cursor := "abc"
	lastTs := int64(123)
	cp := ingest.WorkerCheckpoint{
		WorkerID:      3,
		ChunkStartTs:  1000,
		ChunkEndTs:    2000,
		Cursor:        &cursor,
		LastTs:        &lastTs,
		FetchedCount:  10,
		InsertedCount: 9,
		Status:        ingest.StatusRunning,
	}

	if err := upsertCheckpoint(t.Context(), q, cp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.args) != 8 {
		t.Fatalf("len(args) = %d, want 8", len(q.args))
	}
	if q.args[0] != 3 {
		t.Errorf("worker_id arg = %v, want 3", q.args[0])
	}
	if q.args[7] != "running" {
		t.Errorf("status arg = %v, want running", q.args[7])
	}
}

func TestUpsertCheckpointPropagatesError(t *testing.T) {
	t.Parallel()
	wantErr := errContext("boom")
	q := &recordingQuerier{err: wantErr}
	if err := upsertCheckpoint(t.Context(), q, ingest.WorkerCheckpoint{}); err == nil {
		t.Fatal("expected error")
	}
}

type errContext string

func (e errContext) Error() string { return string(e) }
