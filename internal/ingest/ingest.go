// Package ingest defines domain types and interfaces for the event
// ingestion engine. This package has no project imports -- it is the
// dependency root.
package ingest

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a worker checkpoint.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event is a raw record as returned by the upstream API before normalization.
// Timestamp may be any of: ms epoch int, seconds epoch int, digit-only
// string, or an ISO-8601 string. Payload is the opaque remainder.
type Event struct {
	ID        string
	Timestamp any
	Payload   json.RawMessage
}

// IngestionEvent is the canonical, normalized record persisted to the store.
type IngestionEvent struct {
	EventID     string
	TimestampMs int64
	Payload     json.RawMessage
}

// Cursor is the decoded form of an opaque pagination token. Only Ts is
// semantically meaningful; the rest round-trips for plausibility.
type Cursor struct {
	ID  string `json:"id"`
	Ts  int64  `json:"ts"`
	V   int    `json:"v"`
	Exp int64  `json:"exp"`
}

// Chunk is a half-open timestamp interval [StartTs, EndTs) assigned to one worker.
type Chunk struct {
	StartTs int64
	EndTs   int64
}

// Contains reports whether ts falls within the chunk's half-open interval.
func (c Chunk) Contains(ts int64) bool {
	return ts >= c.StartTs && ts < c.EndTs
}

// Page is the canonical, normalized form of a paginated API response.
type Page struct {
	Events     []Event
	HasMore    bool
	NextCursor string
	Total      *int64
}

// WorkerCheckpoint is the persistent progress record for one partition worker.
type WorkerCheckpoint struct {
	WorkerID       int
	ChunkStartTs   int64
	ChunkEndTs     int64
	Cursor         *string
	LastTs         *int64
	FetchedCount   int64
	InsertedCount  int64
	Status         Status
	UpdatedAt      time.Time
}

// StreamAccess is the short-lived credential bundle returned by the
// internal stream-access endpoint.
type StreamAccess struct {
	Endpoint    string
	TokenHeader string
	Token       string
	ExpiresIn   int64 // seconds
}

// FetchParams parametrizes a single page fetch.
type FetchParams struct {
	Limit  int
	Cursor string
	Since  *int64
	Until  *int64
}

// WriteBatch is one unit of work for the write queue: a set of filtered
// events plus the checkpoint row their insertion commits alongside.
type WriteBatch struct {
	Events     []IngestionEvent
	Checkpoint WorkerCheckpoint
}

// EventsSource fetches a single page of events, abstracting over the
// primary/fallback endpoint decision and credential handling.
type EventsSource interface {
	FetchPage(ctx context.Context, params FetchParams) (Page, error)
}

// EventRepository persists ingestion events.
type EventRepository interface {
	// InsertEvents bulk-inserts events, ignoring conflicts on EventID.
	// Returns the count of rows actually inserted.
	InsertEvents(ctx context.Context, events []IngestionEvent) (int64, error)
}

// CheckpointRepository manages worker checkpoint rows.
type CheckpointRepository interface {
	LoadAll(ctx context.Context) ([]WorkerCheckpoint, error)
	Initialize(ctx context.Context, chunks []Chunk) error
	ResetAll(ctx context.Context) error
	Upsert(ctx context.Context, cp WorkerCheckpoint) error
}

// TxExecutor runs one write batch's insert-then-checkpoint-upsert inside a
// single transaction, rolling back on any error.
type TxExecutor interface {
	ExecuteBatch(ctx context.Context, batch WriteBatch) (int64, error)
}

// WriteQueue enqueues a batch for transactional persistence and returns
// the count of rows actually inserted once the batch has been committed.
type WriteQueue interface {
	Enqueue(ctx context.Context, batch WriteBatch) (int64, error)
	Drain(ctx context.Context)
}

// Submitter delivers the final list of ingested event IDs to an external
// collaborator (the bulk-upload submission step).
type Submitter interface {
	Submit(ctx context.Context, eventIDs []string) error
}

// EventIDLister paginates persisted event IDs in ascending order,
// letting the submission step stream batches instead of holding every
// id in memory at once.
type EventIDLister interface {
	ListEventIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
