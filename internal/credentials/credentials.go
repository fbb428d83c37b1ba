// Package credentials manages the stream-access credential used to
// authenticate fetches against the events source, refreshing it ahead of
// expiry and coalescing concurrent refreshes into a single in-flight call.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eugener/eventsync/internal/ingest"
	"github.com/eugener/eventsync/internal/transport"
)

// eagerRefreshBuffer is how far ahead of expiry a cached credential is
// treated as stale, so a worker never starts a fetch with a token that
// expires mid-flight.
const eagerRefreshBuffer = 60 * time.Second

// Config describes how to reach the stream-access endpoint and how to
// present this client, mirroring the headers a real browser dashboard
// session would send.
type Config struct {
	Endpoint      string // e.g. https://host/internal/dashboard/stream-access
	CookieName    string
	CookieValue   string
	APIKey        string
	BrowserOrigin string
	BrowserRef    string
	UserAgent     string
}

type streamAccessResponse struct {
	StreamAccess struct {
		Endpoint    string `json:"endpoint"`
		TokenHeader string `json:"tokenHeader"`
		Token       string `json:"token"`
		ExpiresIn   int64  `json:"expiresIn"`
	} `json:"streamAccess"`
}

// Manager hands out ingest.StreamAccess values, caching the current one and
// refreshing it on demand. At most one refresh is ever in flight; concurrent
// callers join it rather than issuing duplicate requests.
type Manager struct {
	cfg    Config
	client *transport.Client
	clock  ingest.Clock

	group singleflight.Group

	mu        sync.Mutex
	current   *ingest.StreamAccess
	expiresAt time.Time
}

// New builds a credential Manager.
func New(cfg Config, client *transport.Client, clock ingest.Clock) *Manager {
	if clock == nil {
		clock = ingest.SystemClock{}
	}
	return &Manager{cfg: cfg, client: client, clock: clock}
}

// Get returns a usable stream-access credential, refreshing it if the
// cached one is absent or within eagerRefreshBuffer of expiry.
func (m *Manager) Get(ctx context.Context) (ingest.StreamAccess, error) {
	if sa, ok := m.cached(); ok {
		return sa, nil
	}
	return m.refresh(ctx)
}

// Invalidate forces the next Get to fetch a fresh credential, used after a
// 401/403 from the events source signals the cached token was rejected.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.expiresAt = time.Time{}
}

func (m *Manager) cached() (ingest.StreamAccess, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ingest.StreamAccess{}, false
	}
	if m.clock.Now().Add(eagerRefreshBuffer).After(m.expiresAt) {
		return ingest.StreamAccess{}, false
	}
	return *m.current, true
}

// refresh fetches a new credential, coalescing concurrent callers onto a
// single outstanding request via singleflight.
func (m *Manager) refresh(ctx context.Context) (ingest.StreamAccess, error) {
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return ingest.StreamAccess{}, err
	}
	return v.(ingest.StreamAccess), nil
}

func (m *Manager) doRefresh(ctx context.Context) (ingest.StreamAccess, error) {
	headers := map[string]string{
		"Cookie":     fmt.Sprintf("%s=%s", m.cfg.CookieName, m.cfg.CookieValue),
		"X-Api-Key":  m.cfg.APIKey,
		"Origin":     m.cfg.BrowserOrigin,
		"Referer":    m.cfg.BrowserRef,
		"User-Agent": m.cfg.UserAgent,
	}
	resp, err := m.client.Post(ctx, m.cfg.Endpoint, []byte("{}"), headers)
	if err != nil {
		return ingest.StreamAccess{}, fmt.Errorf("credentials: stream-access request: %w", err)
	}

	var parsed streamAccessResponse
	if len(resp.JSON) == 0 || json.Unmarshal(resp.JSON, &parsed) != nil {
		return ingest.StreamAccess{}, fmt.Errorf("credentials: %w: malformed response", ingest.ErrCredentialsUnavailable)
	}
	if parsed.StreamAccess.Token == "" {
		return ingest.StreamAccess{}, fmt.Errorf("credentials: %w: empty token", ingest.ErrCredentialsUnavailable)
	}

	sa := ingest.StreamAccess{
		Endpoint:    parsed.StreamAccess.Endpoint,
		TokenHeader: parsed.StreamAccess.TokenHeader,
		Token:       parsed.StreamAccess.Token,
		ExpiresIn:   parsed.StreamAccess.ExpiresIn,
	}

	now := m.clock.Now()
	m.mu.Lock()
	m.current = &sa
	m.expiresAt = now.Add(time.Duration(sa.ExpiresIn) * time.Second)
	m.mu.Unlock()

	return sa, nil
}
