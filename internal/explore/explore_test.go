package explore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/eugener/eventsync/internal/ingest"
)

type fakeSource struct {
	page ingest.Page
	err  error

	lastParams ingest.FetchParams
}

func (f *fakeSource) FetchPage(ctx context.Context, params ingest.FetchParams) (ingest.Page, error) {
	f.lastParams = params
	return f.page, f.err
}

func TestRunLogsAndSucceedsOnAPage(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		page: ingest.Page{
			Events: []ingest.Event{
				{ID: "1", Timestamp: int64(1000), Payload: json.RawMessage(`{}`)},
				{ID: "2", Timestamp: int64(2000), Payload: json.RawMessage(`{}`)},
			},
			HasMore:    true,
			NextCursor: "opaque",
		},
	}

	if err := Run(t.Context(), src, 1_700_000_000_000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.lastParams.Limit != 25 {
		t.Errorf("limit = %d, want 25", src.lastParams.Limit)
	}
	if src.lastParams.Cursor == "" {
		t.Error("expected a forged cursor to be passed")
	}
}

func TestRunPropagatesFetchError(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: errors.New("unreachable")}
	if err := Run(t.Context(), src, 1_700_000_000_000); err == nil {
		t.Fatal("expected error to propagate")
	}
}
