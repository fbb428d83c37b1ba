// Package transport provides the keep-alive, gzip-aware HTTP client shared
// by the events source and the stream-credential manager.
package transport

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/eugener/eventsync/internal/ingest"
)

const defaultTimeout = 45 * time.Second

// Response is the decoded result of a request. JSON holds the raw JSON
// body when the response is JSON; otherwise Text holds the body as text.
type Response struct {
	Status  int
	Headers http.Header
	JSON    json.RawMessage
	Text    string
}

// Client is a pooled, DNS-cached HTTP client with a default per-request
// timeout and typed error translation.
type Client struct {
	http     *http.Client
	resolver *dnscache.Resolver
}

// Config controls connection pool sizing. PoolWidth should be at least
// partitions+4 so every worker can hold a warm connection.
type Config struct {
	PoolWidth      int
	RequestTimeout time.Duration
}

// New creates a Client with a shared DNS-cached transport, refreshed on a
// background ticker exactly like the provider clients it is grounded on.
func New(ctx context.Context, cfg Config) *Client {
	if cfg.PoolWidth < 1 {
		cfg.PoolWidth = 16
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}

	resolver := &dnscache.Resolver{}
	go refreshDNSLoop(ctx, resolver)

	t := &http.Transport{
		MaxIdleConnsPerHost: cfg.PoolWidth,
		MaxConnsPerHost:     cfg.PoolWidth * 2,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}

	return &Client{
		http:     &http.Client{Transport: t, Timeout: cfg.RequestTimeout},
		resolver: resolver,
	}
}

func refreshDNSLoop(ctx context.Context, resolver *dnscache.Resolver) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			resolver.Refresh(true)
		}
	}
}

// Get issues a GET request with the given headers.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, headers)
}

// Post issues a POST request with a JSON or raw body and the given headers.
func (c *Client) Post(ctx context.Context, url string, body []byte, headers map[string]string) (Response, error) {
	return c.do(ctx, http.MethodPost, url, body, headers)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, headers map[string]string) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Response{}, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, &ingest.HttpError{Status: 0, Method: method, URL: url}
	}
	defer resp.Body.Close()

	bodyReader, err := decompressReader(resp)
	if err != nil {
		return Response{}, &ingest.HttpError{Status: 0, Method: method, URL: url}
	}

	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		return Response{}, &ingest.HttpError{Status: 0, Method: method, URL: url}
	}

	out := Response{Status: resp.StatusCode, Headers: resp.Header}
	if isJSON(resp.Header.Get("Content-Type")) {
		out.JSON = json.RawMessage(raw)
	} else {
		out.Text = string(raw)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &ingest.HttpError{
			Status:     resp.StatusCode,
			Method:     method,
			URL:        url,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}
	return out, nil
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
