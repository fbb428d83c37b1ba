package normalize

import "testing"

func TestNormalizePageNestedEnvelope(t *testing.T) {
	t.Parallel()
	body := []byte(`{"data":{"data":[{"id":"a1","timestamp":1700000000000},{"id":"a2","timestamp":1700000001000}],"pagination":{"hasMore":true,"nextCursor":"abc"},"meta":{"total":2}}}`)
	got := NormalizePage(body)
	if len(got.Events) != 2 {
		t.Fatalf("len = %d, want 2", len(got.Events))
	}
	if got.Events[0].ID != "a1" {
		t.Errorf("ID = %q, want a1", got.Events[0].ID)
	}
	if !got.HasMore {
		t.Error("HasMore = false, want true")
	}
	if got.NextCursor != "abc" {
		t.Errorf("NextCursor = %q, want abc", got.NextCursor)
	}
	if got.Total == nil || *got.Total != 2 {
		t.Errorf("Total = %v, want 2", got.Total)
	}
}

func TestNormalizePageFlatEnvelope(t *testing.T) {
	t.Parallel()
	body := []byte(`{"data":[{"id":"b1","timestamp":1700000000}],"hasMore":false,"nextCursor":null,"meta":{"total":1}}`)
	got := NormalizePage(body)
	if len(got.Events) != 1 {
		t.Fatalf("len = %d, want 1", len(got.Events))
	}
	if got.Events[0].ID != "b1" {
		t.Errorf("ID = %q, want b1", got.Events[0].ID)
	}
	if got.HasMore {
		t.Error("HasMore = true, want false")
	}
}

func TestNormalizePageFlatEnvelopeUsesPaginationFallback(t *testing.T) {
	t.Parallel()
	body := []byte(`{"data":[{"id":"c1","timestamp":1}],"pagination":{"hasMore":true,"nextCursor":"xyz"}}`)
	got := NormalizePage(body)
	if !got.HasMore {
		t.Error("HasMore = false, want true (from pagination.hasMore)")
	}
	if got.NextCursor != "xyz" {
		t.Errorf("NextCursor = %q, want xyz", got.NextCursor)
	}
}

func TestNormalizePageDropsEventsMissingID(t *testing.T) {
	t.Parallel()
	body := []byte(`{"data":[{"id":"ok","timestamp":1},{"timestamp":2},{"id":"","timestamp":3},{"id":123,"timestamp":4}]}`)
	got := NormalizePage(body)
	if len(got.Events) != 1 {
		t.Fatalf("len = %d, want 1 (only the valid event survives)", len(got.Events))
	}
	if got.Events[0].ID != "ok" {
		t.Errorf("ID = %q, want ok", got.Events[0].ID)
	}
}

func TestNormalizePageUnrecognizedShapeReturnsZeroValue(t *testing.T) {
	t.Parallel()
	got := NormalizePage([]byte(`{"foo":"bar"}`))
	if got.Events != nil || got.HasMore || got.NextCursor != "" || got.Total != nil {
		t.Errorf("got %+v, want zero-value Page", got)
	}
}

func TestNormalizeTimestampSecondsVsMilliseconds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   any
		want int64
	}{
		{"seconds float64", float64(1700000000), 1700000000000},
		{"milliseconds float64", float64(1700000000000), 1700000000000},
		{"seconds string", "1700000000", 1700000000000},
		{"milliseconds string", "1700000000000", 1700000000000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeTimestamp(tc.in)
			if !ok {
				t.Fatalf("NormalizeTimestamp(%v) not ok", tc.in)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNormalizeTimestampISO8601(t *testing.T) {
	t.Parallel()
	got, ok := NormalizeTimestamp("2023-11-14T22:13:20Z")
	if !ok {
		t.Fatal("not ok")
	}
	if got != 1700000000000 {
		t.Errorf("got %d, want 1700000000000", got)
	}
}

func TestNormalizeTimestampUnparseable(t *testing.T) {
	t.Parallel()
	if _, ok := NormalizeTimestamp("not-a-timestamp"); ok {
		t.Error("expected not ok")
	}
	if _, ok := NormalizeTimestamp(true); ok {
		t.Error("expected not ok for non-numeric, non-string type")
	}
}
