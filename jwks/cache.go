// Package jwks resolves the signing keys an identity provider publishes at
// its JSON Web Key Set endpoint.
//
// Cache is the default resolver. It fetches the key set lazily on first use,
// collapses concurrent first fetches into a single HTTP request and keeps the
// parsed set for the life of the process. A set older than MaxAge is
// refreshed on the next lookup, and a lookup for an unknown kid triggers at
// most one re-fetch per Cooldown window so that provider-side key rotation is
// picked up without a retry storm. After a failed refresh the cached set keeps
// being served and no new fetch is attempted until the retry interval
// (Cooldown, or MaxAge when Cooldown is zero) has passed.
package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// WellKnownPath is where Auth0-style providers publish their key set
	WellKnownPath = "/.well-known/jwks.json"

	// maxKeySetBytes bounds how much of the JWKS response is read
	maxKeySetBytes = 1 << 20

	fetchKey = "jwks"
)

// KeySet resolves the verification key for a token.
// Implementations must be safe for concurrent use.
type KeySet interface {
	// Keyfunc returns a jwt.Keyfunc bound to ctx. Any I/O it performs honours ctx.
	Keyfunc(ctx context.Context) jwt.Keyfunc
}

// Options configures how key sets are fetched and cached
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration // per-fetch timeout
	MaxAge     time.Duration // 0 keeps the first set forever
	Cooldown   time.Duration // min interval between unknown-kid re-fetches; 0 disables re-fetching
	Logger     *zap.Logger
}

// DefaultOptions returns the fetch and cache defaults
func DefaultOptions() Options {
	return Options{
		Timeout:  5 * time.Second,
		MaxAge:   10 * time.Minute,
		Cooldown: 30 * time.Second,
	}
}

// URLForDomain returns the well-known JWKS URL for a normalized provider domain
func URLForDomain(domain string) string {
	return "https://" + domain + WellKnownPath
}

// Stats describes the cache state
type Stats struct {
	URL       string    `json:"url"`
	Cached    bool      `json:"cached"`
	Keys      int       `json:"keys"`
	Fetches   int64     `json:"fetches"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// keySet is an immutable snapshot of a fetched JWKS
type keySet struct {
	keys      map[string]jose.JSONWebKey
	fetchedAt time.Time
}

// Cache is a lazily populated, single-flight JWKS cache for one endpoint
type Cache struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	maxAge   time.Duration
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	set      *keySet
	failedAt time.Time // last failed refresh; zero after a success
	fetches  atomic.Int64
}

// NewCache creates a Cache for the JWKS published at url. Nothing is fetched until first use.
func NewCache(url string, opts Options) *Cache {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		url:      url,
		client:   client,
		timeout:  opts.Timeout,
		maxAge:   opts.MaxAge,
		cooldown: opts.Cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

// Keyfunc implements KeySet
func (c *Cache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKeyID
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key registered under kid
func (c *Cache) Key(ctx context.Context, kid string) (any, error) {
	set, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := set.keys[kid]; ok {
		return key.Key, nil
	}

	if !c.canRefetch(set) {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}

	c.logger.Info("unknown kid, re-fetching JWKS",
		zap.String("kid", kid),
		zap.String("url", c.url))

	set, err = c.refresh(ctx, set)
	if err != nil {
		return nil, err
	}
	if key, ok := set.keys[kid]; ok {
		return key.Key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Warm fetches the key set if it is not cached yet
func (c *Cache) Warm(ctx context.Context) error {
	_, err := c.current(ctx)
	return err
}

// Ready reports whether a key set is cached
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set != nil
}

// Stats returns a snapshot of the cache state
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		URL:     c.url,
		Cached:  c.set != nil,
		Fetches: c.fetches.Load(),
	}
	if c.set != nil {
		stats.Keys = len(c.set.keys)
		stats.FetchedAt = c.set.fetchedAt
	}
	return stats
}

// current returns the cached set, fetching it when absent or older than maxAge
func (c *Cache) current(ctx context.Context) (*keySet, error) {
	c.mu.RLock()
	set := c.set
	c.mu.RUnlock()

	if set != nil && !c.expired(set) {
		return set, nil
	}

	fresh, err := c.refresh(ctx, set)
	if err != nil {
		if set != nil {
			// keep serving the expired set rather than failing every request
			c.logger.Warn("JWKS refresh failed, serving expired key set",
				zap.String("url", c.url),
				zap.Error(err))
			return set, nil
		}
		return nil, err
	}
	return fresh, nil
}

func (c *Cache) expired(set *keySet) bool {
	return c.maxAge > 0 && c.now().Sub(set.fetchedAt) >= c.maxAge && c.retryDue(c.retryInterval())
}

func (c *Cache) canRefetch(set *keySet) bool {
	return c.cooldown > 0 && c.now().Sub(set.fetchedAt) >= c.cooldown && c.retryDue(c.cooldown)
}

func (c *Cache) retryInterval() time.Duration {
	if c.cooldown > 0 {
		return c.cooldown
	}
	return c.maxAge
}

// retryDue reports whether enough time has passed since the last failed refresh
func (c *Cache) retryDue(interval time.Duration) bool {
	c.mu.RLock()
	failedAt := c.failedAt
	c.mu.RUnlock()
	return failedAt.IsZero() || c.now().Sub(failedAt) >= interval
}

// refresh replaces seen with a newly fetched set. Concurrent callers share one fetch;
// callers arriving after another goroutine already replaced seen get that set without a fetch.
func (c *Cache) refresh(ctx context.Context, seen *keySet) (*keySet, error) {
	ch := c.group.DoChan(fetchKey, func() (any, error) {
		c.mu.RLock()
		cur := c.set
		c.mu.RUnlock()
		if cur != nil && cur != seen {
			return cur, nil
		}

		// the shared fetch must not die with whichever caller happened to start it
		fetchCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.timeout)
			defer cancel()
		}

		set, err := c.fetch(fetchCtx)
		if err != nil {
			c.mu.Lock()
			c.failedAt = c.now()
			c.mu.Unlock()

			c.logger.Warn("JWKS fetch failed",
				zap.String("url", c.url),
				zap.Error(err))
			return nil, err
		}

		c.mu.Lock()
		c.set = set
		c.failedAt = time.Time{}
		c.mu.Unlock()

		c.logger.Info("JWKS fetched",
			zap.String("url", c.url),
			zap.Int("keys", len(set.keys)))
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, ctx.Err())
	}
}

// fetch performs one HTTP GET against the JWKS endpoint and parses the result
func (c *Cache) fetch(ctx context.Context) (*keySet, error) {
	c.fetches.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status code %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	keys, err := c.parseKeySet(body)
	if err != nil {
		return nil, err
	}
	return &keySet{keys: keys, fetchedAt: c.now()}, nil
}

// parseKeySet indexes the public signing keys of a JWKS document by kid.
// Entries that cannot be decoded are skipped so one unsupported key does not poison the set.
func (c *Cache) parseKeySet(body []byte) (map[string]jose.JSONWebKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKeySet, err)
	}

	keys := make(map[string]jose.JSONWebKey, len(doc.Keys))
	for i, raw := range doc.Keys {
		var key jose.JSONWebKey
		if err := key.UnmarshalJSON(raw); err != nil {
			c.logger.Debug("skipping unsupported JWKS entry",
				zap.String("url", c.url),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		if key.KeyID == "" || !key.Valid() || !key.IsPublic() {
			continue
		}
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		keys[key.KeyID] = key
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable signing keys", ErrMalformedKeySet)
	}
	return keys, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrFetchFailed, err)
}

var _ KeySet = (*Cache)(nil)
