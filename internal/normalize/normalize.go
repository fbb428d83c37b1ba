// Package normalize converts a raw page from the events source into the
// canonical ingest.Page shape, recognizing both the nested and flat
// response envelopes and tolerating per-event timestamp encoding
// (seconds, milliseconds, or ISO-8601).
package normalize

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eugener/eventsync/internal/ingest"
)

// secondsCutoff is the boundary below which a numeric timestamp is treated
// as epoch seconds rather than epoch milliseconds.
const secondsCutoff = 1_000_000_000_000

// NormalizePage extracts a Page from a raw API response body. Two shapes
// are recognized:
//
//	nested: {"data": {"data": [...], "pagination": {"hasMore", "nextCursor"}, "meta": {"total"}}}
//	flat:   {"data": [...], "hasMore"|"pagination.hasMore", "nextCursor"|"pagination.nextCursor", "meta.total"}
//
// Any other shape yields the zero Page (no events, hasMore false, no cursor).
func NormalizePage(body []byte) ingest.Page {
	root := gjson.ParseBytes(body)

	dataField := root.Get("data")
	if !dataField.Exists() {
		return ingest.Page{}
	}

	var items, pagination, meta gjson.Result
	if dataField.IsArray() {
		// Flat shape.
		items = dataField
		pagination = root.Get("pagination")
		meta = root.Get("meta")
	} else if nested := dataField.Get("data"); nested.IsArray() {
		// Nested shape.
		items = nested
		pagination = dataField.Get("pagination")
		meta = dataField.Get("meta")
	} else {
		return ingest.Page{}
	}

	hasMore := root.Get("hasMore")
	if !hasMore.Exists() {
		hasMore = pagination.Get("hasMore")
	}
	nextCursor := root.Get("nextCursor")
	if !nextCursor.Exists() {
		nextCursor = pagination.Get("nextCursor")
	}

	page := ingest.Page{
		HasMore:    hasMore.Bool(),
		NextCursor: nextCursor.String(),
	}
	if total := meta.Get("total"); total.Exists() {
		v := total.Int()
		page.Total = &v
	}

	for _, item := range items.Array() {
		if ev, ok := normalizeEvent(item); ok {
			page.Events = append(page.Events, ev)
		}
	}
	return page
}

// normalizeEvent extracts one event from its raw JSON value. An event
// without a string id is dropped.
func normalizeEvent(item gjson.Result) (ingest.Event, bool) {
	id := item.Get("id")
	if id.Type != gjson.String || id.Str == "" {
		return ingest.Event{}, false
	}

	return ingest.Event{
		ID:        id.Str,
		Timestamp: item.Get("timestamp").Value(),
		Payload:   []byte(item.Raw),
	}, true
}

// NormalizeTimestamp converts the heterogeneous raw timestamp value (epoch
// seconds, epoch milliseconds, a digit-only string, or an ISO-8601 string)
// to epoch milliseconds. Returns false when the value can't be parsed.
func NormalizeTimestamp(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return normalizeNumeric(int64(v)), true
	case int64:
		return normalizeNumeric(v), true
	case string:
		return normalizeStringTimestamp(v)
	default:
		return 0, false
	}
}

func normalizeNumeric(n int64) int64 {
	if n < secondsCutoff {
		return n * 1000
	}
	return n
}

func normalizeStringTimestamp(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return normalizeNumeric(n), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}
