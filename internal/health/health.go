// Package health implements the ingestion engine's minimal HTTP surface:
// a liveness/readiness endpoint and the Prometheus /metrics handler,
// mirroring the teacher's unauthenticated system-endpoint group in
// internal/server/server.go.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

var (
	plainCT      = []string{"text/plain; charset=utf-8"}
	okBody       = []byte("ok")
	notReadyBody = []byte("not ready")
)

// ReadyChecker reports whether the process is ready to serve -- for this
// service, whether the database connection pool can be reached.
type ReadyChecker func(ctx context.Context) error

// Stats is the ingestion run's point-in-time snapshot reported by /health
// when a StatsProvider is wired.
type Stats struct {
	TotalInserted int64
	ThroughputEPS float64
	ActiveWorkers int
}

// StatsProvider reports the current ingestion snapshot; nil means /health
// stays a bare liveness check with no body to assemble.
type StatsProvider func(ctx context.Context) (Stats, error)

// Deps wires the health server's optional collaborators.
type Deps struct {
	ReadyCheck     ReadyChecker  // nil = always ready
	StatsProvider  StatsProvider // nil = /health is a bare liveness check
	MetricsHandler http.Handler  // nil = no /metrics route
}

// New builds the health/metrics http.Handler.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	return r
}

type server struct {
	deps      Deps
	startedAt time.Time
}

// healthBody is the JSON shape reported when a StatsProvider is wired:
// {status, uptime, totalInserted, throughputEps, activeWorkers}.
type healthBody struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime"`
	TotalInserted int64   `json:"totalInserted"`
	ThroughputEPS float64 `json:"throughputEps"`
	ActiveWorkers int     `json:"activeWorkers"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.StatsProvider == nil {
		w.Header()["Content-Type"] = plainCT
		w.WriteHeader(http.StatusOK)
		w.Write(okBody)
		return
	}

	stats, err := s.deps.StatsProvider(r.Context())
	body := healthBody{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		TotalInserted: stats.TotalInserted,
		ThroughputEPS: stats.ThroughputEPS,
		ActiveWorkers: stats.ActiveWorkers,
	}
	if err != nil {
		body.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			w.Header()["Content-Type"] = plainCT
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(notReadyBody)
			return
		}
	}
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}
