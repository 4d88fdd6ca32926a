// Package openmrs is the REST client for the billing backend. Reads go
// through a cache.Store; every successful mutation invalidates all cached
// reads under the mutated resource's base path.
package openmrs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/cashier/internal/platform/cache"
	"github.com/ehr/cashier/internal/platform/metrics"
)

// BillingPath is the billing module's root under the REST base URL.
const BillingPath = "billing/"

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultFetchTimeout = 30 * time.Second
)

// APIError is a non-2xx response from the backend. Message is the backend's
// own error message when it sent one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// InvalidationHook is called with the prefix after cached reads were dropped.
type InvalidationHook func(prefix string)

// Client talks to the backend REST API.
type Client struct {
	baseURL  string
	http     *http.Client
	username string
	password string
	store    cache.Store
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	group singleflight.Group
	// gen is bumped on every invalidation so that a read racing with a
	// mutation does not put a stale body back into the cache.
	gen atomic.Uint64

	mu    sync.RWMutex
	hooks []InvalidationHook
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithCache sets the read cache. A zero ttl uses five minutes.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.store = store
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithInvalidationHook(h InvalidationHook) Option {
	return func(c *Client) { c.hooks = append(c.hooks, h) }
}

// New creates a client for the REST base URL, e.g.
// http://localhost:8080/openmrs/ws/rest/v1.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		ttl:     defaultCacheTTL,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnInvalidate registers another invalidation hook.
func (c *Client) OnInvalidate(h InvalidationHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Get decodes the JSON response for path into out, using the cache when one
// is configured. Concurrent reads of the same path share one request, which
// is not cancelled when one of the waiting callers gives up.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	path = strings.TrimLeft(path, "/")

	if c.store != nil {
		data, ok, err := c.store.Get(ctx, path)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", path).Msg("cache read failed")
		}
		if ok {
			c.metrics.CacheHit()
			return json.Unmarshal(data, out)
		}
		c.metrics.CacheMiss()
	}

	// Reads started after an invalidation never join a flight that went out
	// before it, and a flight only fills the cache if no invalidation
	// happened while it was on the wire.
	gen := c.gen.Load()
	key := strconv.FormatUint(gen, 10) + ":" + path
	ch := c.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout())
		defer cancel()
		data, err := c.do(fctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		if c.store != nil && c.gen.Load() == gen {
			if err := c.store.Set(fctx, path, data, c.ttl); err != nil {
				c.logger.Warn().Err(err).Str("key", path).Msg("cache write failed")
			}
			// An invalidation that ran between the check and the write.
			if c.gen.Load() != gen {
				c.store.Delete(fctx, path)
			}
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), out)
	}
}

func (c *Client) fetchTimeout() time.Duration {
	if c.http.Timeout > 0 {
		return c.http.Timeout
	}
	return defaultFetchTimeout
}

// Post sends body as JSON and decodes the response into out when out is not
// nil. On success all cached reads under the resource's base path are dropped.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	path = strings.TrimLeft(path, "/")
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	c.Invalidate(ctx, ResourcePrefix(path))
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Delete removes the resource at path and invalidates its base path.
func (c *Client) Delete(ctx context.Context, path string) error {
	path = strings.TrimLeft(path, "/")
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return err
	}
	c.Invalidate(ctx, ResourcePrefix(path))
	return nil
}

// Invalidate drops every cached read whose key starts with prefix and
// notifies the hooks.
func (c *Client) Invalidate(ctx context.Context, prefix string) {
	c.gen.Add(1)
	if c.store != nil {
		n, err := c.store.InvalidatePrefix(ctx, prefix)
		if err != nil {
			c.logger.Error().Err(err).Str("prefix", prefix).Msg("cache invalidation failed")
		} else {
			c.metrics.Invalidated(prefix, n)
			c.logger.Debug().Str("prefix", prefix).Int("entries", n).Msg("cache invalidated")
		}
	}

	c.mu.RLock()
	hooks := append([]InvalidationHook(nil), c.hooks...)
	c.mu.RUnlock()
	for _, h := range hooks {
		h(prefix)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resource := ResourcePrefix(path)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveBackend(method, resource, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", method, resource, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveBackend(method, resource, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	return data, nil
}

// errorMessage pulls error.message out of a backend error body, falling back
// to the HTTP status text.
func errorMessage(data []byte, status string) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return status
}

// ResourcePrefix returns the base path of the resource addressed by path:
// the query string and a trailing uuid segment are dropped, so
// "billing/bill/<uuid>?v=full" becomes "billing/bill".
func ResourcePrefix(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		if _, err := uuid.Parse(path[i+1:]); err == nil {
			path = path[:i]
		}
	}
	return path
}

// relativePath turns an absolute "next" link back into a path under baseURL.
func (c *Client) relativePath(link string) (string, error) {
	if strings.HasPrefix(link, c.baseURL+"/") {
		return strings.TrimPrefix(link, c.baseURL+"/"), nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	p := strings.TrimPrefix(u.Path, base.Path)
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return strings.TrimLeft(p, "/"), nil
}
