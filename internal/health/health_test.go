package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealthAlwaysOK(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestHandleReadyWithoutCheckerIsOK(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleReadyPropagatesCheckerFailure(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		ReadyCheck: func(ctx context.Context) error {
			return errors.New("pool unreachable")
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec.Body.String() != "not ready" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "not ready")
	}
}

func TestHandleHealthReportsStatsSnapshot(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		StatsProvider: func(ctx context.Context) (Stats, error) {
			return Stats{TotalInserted: 42, ThroughputEPS: 12.5, ActiveWorkers: 3}, nil
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body healthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Status != "ok" || body.TotalInserted != 42 || body.ThroughputEPS != 12.5 || body.ActiveWorkers != 3 {
		t.Errorf("body = %+v, want status=ok totalInserted=42 throughputEps=12.5 activeWorkers=3", body)
	}
}

func TestHandleHealthDegradedOnProviderError(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		StatsProvider: func(ctx context.Context) (Stats, error) {
			return Stats{}, errors.New("pool unreachable")
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	var body healthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want %q", body.Status, "degraded")
	}
}

func TestMetricsRouteOnlyMountedWhenHandlerProvided(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d when no metrics handler is wired", rec.Code, http.StatusNotFound)
	}
}

func TestMetricsRouteDelegatesToHandler(t *testing.T) {
	t.Parallel()
	called := false
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	h := New(Deps{MetricsHandler: metricsHandler})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.ServeHTTP(rec, req)

	if !called {
		t.Error("expected metrics handler to be invoked")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
