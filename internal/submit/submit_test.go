package submit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/eugener/eventsync/internal/transport"
)

// fakeLister serves ids out of an in-memory sorted slice, paginating by
// the "after" cursor exactly like the Postgres implementation.
type fakeLister struct {
	ids []string
}

func (f *fakeLister) ListEventIDs(ctx context.Context, after string, limit int) ([]string, error) {
	start := 0
	for start < len(f.ids) && f.ids[start] <= after {
		start++
	}
	end := start + limit
	if end > len(f.ids) {
		end = len(f.ids)
	}
	if start >= end {
		return nil, nil
	}
	return f.ids[start:end], nil
}

func newTestClient(t *testing.T) *transport.Client {
	t.Helper()
	return transport.New(t.Context(), transport.Config{RequestTimeout: 5 * time.Second})
}

func TestSubmitPostsAllIDsInBatches(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ids := make([]string, 12000)
	for i := range ids {
		ids[i] = idAt(i)
	}
	lister := &fakeLister{ids: ids}

	s := New(Config{Origin: srv.URL, GithubRepoURL: "https://github.com/example/repo"}, newTestClient(t), lister)

	if err := s.Submit(t.Context(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 3 { // 12000 ids / 5000 batch size = 3 requests
		t.Fatalf("request count = %d, want 3", len(bodies))
	}
	for _, q := range queries {
		if q != "github_repo=https%3A%2F%2Fgithub.com%2Fexample%2Frepo" {
			t.Errorf("query = %q, missing github_repo param", q)
		}
	}
}

func TestSubmitNoEventsIsNoOp(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := New(Config{Origin: srv.URL}, newTestClient(t), &fakeLister{})
	if err := s.Submit(t.Context(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if called {
		t.Error("expected no HTTP request for an empty id set")
	}
}

func TestSubmitPropagatesHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(Config{Origin: srv.URL}, newTestClient(t), &fakeLister{ids: []string{"a", "b"}})
	if err := s.Submit(t.Context(), nil); err == nil {
		t.Fatal("expected error from a failing submissions endpoint")
	}
}

func idAt(i int) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 8)
	for p := len(b) - 1; p >= 0; p-- {
		b[p] = digits[i%16]
		i /= 16
	}
	return string(b)
}
