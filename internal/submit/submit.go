// Package submit implements the final bulk-upload submission step: a
// narrow collaborator that posts every persisted event id to the
// origin's submissions endpoint once an ingest run completes.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/eugener/eventsync/internal/ingest"
	"github.com/eugener/eventsync/internal/transport"
)

const batchSize = 5000

// Config parametrizes the submission endpoint.
type Config struct {
	// Origin is the scheme+host the submissions endpoint is mounted on
	// (API_BASE_URL with its /api/v1 suffix stripped).
	Origin        string
	GithubRepoURL string
}

// HTTPSubmitter implements ingest.Submitter by paginating persisted
// event ids through the lister and POSTing them in bounded-size,
// newline-joined text/plain batches -- the eventIDs argument passed to
// Submit is intentionally ignored in favor of a fresh, memory-bounded
// query, since a caller holding the full id list defeats the point of
// batching.
type HTTPSubmitter struct {
	cfg    Config
	client *transport.Client
	lister ingest.EventIDLister
}

// New builds an HTTPSubmitter.
func New(cfg Config, client *transport.Client, lister ingest.EventIDLister) *HTTPSubmitter {
	return &HTTPSubmitter{cfg: cfg, client: client, lister: lister}
}

// Submit implements ingest.Submitter.
func (s *HTTPSubmitter) Submit(ctx context.Context, _ []string) error {
	endpoint := s.endpointURL()

	after := ""
	total := 0
	for {
		ids, err := s.lister.ListEventIDs(ctx, after, batchSize)
		if err != nil {
			return fmt.Errorf("submit: list event ids: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		body := strings.Join(ids, "\n")
		resp, err := s.client.Post(ctx, endpoint, []byte(body), map[string]string{
			"Content-Type": "text/plain",
		})
		if err != nil {
			return fmt.Errorf("submit: batch starting after %q: %w", after, err)
		}
		_ = resp

		total += len(ids)
		after = ids[len(ids)-1]
		if len(ids) < batchSize {
			break
		}
	}

	slog.Info("submission complete", "total_ids", total, "endpoint", endpoint)
	return nil
}

func (s *HTTPSubmitter) endpointURL() string {
	u := fmt.Sprintf("%s/api/v1/submissions", strings.TrimRight(s.cfg.Origin, "/"))
	if s.cfg.GithubRepoURL == "" {
		return u
	}
	return u + "?github_repo=" + url.QueryEscape(s.cfg.GithubRepoURL)
}
