// Package explore implements the MODE=explore one-off probe: acquire
// stream credentials, fetch a single page anchored at "now", and log
// the decoded cursor/page shape -- a quick reachability check before
// committing to a full ingest run.
package explore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eugener/eventsync/internal/cursor"
	"github.com/eugener/eventsync/internal/ingest"
)

// Run fetches one page from source, anchored at nowMs via a forged
// cursor, and logs what came back.
func Run(ctx context.Context, source ingest.EventsSource, nowMs int64) error {
	cur := cursor.Forge(nowMs)

	start := time.Now()
	page, err := source.FetchPage(ctx, ingest.FetchParams{Limit: 25, Cursor: cur})
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("explore: fetch page: %w", err)
	}

	decodedTs, decodable := cursor.DecodeTs(cur)
	slog.Info("explore probe complete",
		"elapsed", elapsed,
		"event_count", len(page.Events),
		"has_more", page.HasMore,
		"next_cursor_present", page.NextCursor != "",
		"forged_cursor_ts", decodedTs,
		"forged_cursor_decodable", decodable,
	)

	for i, ev := range page.Events {
		if i >= 3 {
			slog.Info("explore probe: additional events truncated from log", "remaining", len(page.Events)-i)
			break
		}
		slog.Info("explore probe event sample", "index", i, "id", ev.ID, "timestamp", ev.Timestamp)
	}

	return nil
}
