// Package source implements ingest.EventsSource against the upstream
// events API: primary stream endpoint with credential-based auth, a
// documented fallback endpoint latched on for the remainder of the
// process once the primary is confirmed unreachable, rate-limiter
// coordination, and retry-wrapped execution.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eugener/eventsync/internal/credentials"
	"github.com/eugener/eventsync/internal/ingest"
	"github.com/eugener/eventsync/internal/normalize"
	"github.com/eugener/eventsync/internal/ratelimit"
	"github.com/eugener/eventsync/internal/retry"
	"github.com/eugener/eventsync/internal/transport"
)

// hardcodedFeedPath is the stream path used when the credential response
// omits an endpoint -- an obfuscated route the dashboard frontend itself
// falls back to.
const hardcodedFeedPath = "/events/d4ta/x7k9/feed"

// Config describes how to reach the documented fallback endpoint and how
// to identify this client to the origin.
type Config struct {
	FallbackURL   string // the documented /events path
	APIKey        string
	BrowserOrigin string
	BrowserRef    string
	RetryConfig   retry.Config
}

// Source is the production ingest.EventsSource.
type Source struct {
	cfg     Config
	client  *transport.Client
	creds   *credentials.Manager
	limiter *ratelimit.State

	fallbackLatched atomic.Bool
}

// New builds a Source.
func New(cfg Config, client *transport.Client, creds *credentials.Manager, limiter *ratelimit.State) *Source {
	if cfg.RetryConfig == (retry.Config{}) {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Source{cfg: cfg, client: client, creds: creds, limiter: limiter}
}

// FetchPage implements ingest.EventsSource.
func (s *Source) FetchPage(ctx context.Context, params ingest.FetchParams) (ingest.Page, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return ingest.Page{}, err
	}

	if !s.fallbackLatched.Load() {
		page, err := s.fetchPrimary(ctx, params)
		if err == nil {
			return page, nil
		}
		if status := retry.StatusOf(err); status == 401 || status == 403 {
			s.creds.Invalidate()
			page, retryErr := s.fetchPrimary(ctx, params)
			if retryErr == nil {
				return page, nil
			}
			s.fallbackLatched.Store(true)
		} else {
			return ingest.Page{}, err
		}
	}

	return s.fetchFallback(ctx, params)
}

func (s *Source) fetchPrimary(ctx context.Context, params ingest.FetchParams) (ingest.Page, error) {
	var page ingest.Page
	err := retry.Do(ctx, s.cfg.RetryConfig, retryAfterOf, func(ctx context.Context) error {
		sa, err := s.creds.Get(ctx)
		if err != nil {
			return err
		}

		u := buildURL(s.primaryStreamURL(sa.Endpoint), params)
		headers := map[string]string{
			sa.TokenHeader: sa.Token,
			"X-Api-Key":    s.cfg.APIKey,
			"Origin":       s.cfg.BrowserOrigin,
			"Referer":      s.cfg.BrowserRef,
		}

		resp, fetchErr := s.client.Get(ctx, u, headers)
		if fetchErr != nil {
			return s.handleFetchError(fetchErr)
		}
		s.limiter.UpdateFromHeaders(resp.Headers, ingest.SystemClock{}.Now())
		s.limiter.RecordSuccess()
		page = normalize.NormalizePage(resp.JSON)
		return nil
	})
	return page, err
}

func (s *Source) fetchFallback(ctx context.Context, params ingest.FetchParams) (ingest.Page, error) {
	var page ingest.Page
	err := retry.Do(ctx, s.cfg.RetryConfig, retryAfterOf, func(ctx context.Context) error {
		u := buildURL(s.cfg.FallbackURL, params)
		headers := map[string]string{
			"X-Api-Key": s.cfg.APIKey,
		}

		resp, fetchErr := s.client.Get(ctx, u, headers)
		if fetchErr != nil {
			return s.handleFetchError(fetchErr)
		}
		s.limiter.UpdateFromHeaders(resp.Headers, ingest.SystemClock{}.Now())
		s.limiter.RecordSuccess()
		page = normalize.NormalizePage(resp.JSON)
		return nil
	})
	return page, err
}

// handleFetchError records 429s with the rate limiter before rethrowing,
// per the spec's requirement that a 429 update the limiter regardless of
// whether the outer retry eventually recovers.
func (s *Source) handleFetchError(err error) error {
	if retry.IsRateLimited(err) {
		s.limiter.Record429(ingest.SystemClock{}.Now())
	}
	return err
}

// retryAfterOf extracts the Retry-After delay from a 429 response's typed
// error, letting the outer retry honor the server's requested wait.
func retryAfterOf(err error) (time.Duration, bool) {
	he, ok := err.(*ingest.HttpError)
	if !ok || he.RetryAfter == "" {
		return 0, false
	}
	return retry.ParseRetryAfter(he.RetryAfter, time.Now())
}

// primaryStreamURL resolves the credential-supplied endpoint against the
// browser origin, falling back to the hardcoded feed path when the
// credential response omits one.
func (s *Source) primaryStreamURL(endpoint string) string {
	if endpoint == "" {
		endpoint = hardcodedFeedPath
	}
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return s.cfg.BrowserOrigin + endpoint
}

func buildURL(base string, params ingest.FetchParams) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(params.Limit))
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.Since != nil {
		q.Set("since", strconv.FormatInt(*params.Since, 10))
	}
	if params.Until != nil {
		q.Set("until", strconv.FormatInt(*params.Until, 10))
	}
	return fmt.Sprintf("%s?%s", base, q.Encode())
}
