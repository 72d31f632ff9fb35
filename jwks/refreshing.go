package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// defaultRefreshInterval applies when Options.MaxAge is zero
const defaultRefreshInterval = time.Hour

// Refreshing is a KeySet that keeps the JWKS fresh in the background.
// It is the alternative to Cache for deployments that prefer proactive refresh
// over lazy loading. The refresh goroutine stops when the construction ctx is cancelled.
type Refreshing struct {
	url     string
	storage jwkset.Storage
	kf      keyfunc.Keyfunc
	logger  *zap.Logger

	failures atomic.Int64
	mu       sync.RWMutex
	lastErr  error
}

// NewRefreshing starts a background-refreshing key set for endpoint.
// opts.MaxAge is used as the refresh interval, opts.Timeout bounds each fetch and
// opts.Cooldown rate-limits refreshes triggered by unknown key ids.
// A failed first fetch does not fail construction; the set reports not ready until keys arrive.
func NewRefreshing(ctx context.Context, endpoint string, opts Options) (*Refreshing, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("JWKS URL cannot be empty")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Refreshing{url: endpoint, logger: logger}

	interval := opts.MaxAge
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	remote, err := jwkset.NewStorageFromHTTP(endpoint, jwkset.HTTPClientStorageOptions{
		Client:                    opts.HTTPClient,
		Ctx:                       ctx,
		HTTPTimeout:               opts.Timeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler:       r.recordFailure,
		RefreshInterval:           interval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS storage: %w", err)
	}

	clientOpts := jwkset.HTTPClientOptions{
		HTTPURLs:         map[string]jwkset.Storage{endpoint: remote},
		PrioritizeHTTP:   true,
		RateLimitWaitMax: opts.Timeout,
	}
	if opts.Cooldown > 0 {
		clientOpts.RefreshUnknownKID = rate.NewLimiter(rate.Every(opts.Cooldown), 1)
	}
	storage, err := jwkset.NewHTTPClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	r.storage = storage
	r.kf = kf
	return r, nil
}

// Keyfunc implements KeySet. Lookups are served from the background-maintained set.
// Lookups that fail because the endpoint is down report the fetch error, so callers
// can tell an outage from a bad token.
func (r *Refreshing) Keyfunc(ctx context.Context) jwt.Keyfunc {
	inner := r.kf.KeyfuncCtx(ctx)
	return func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid == "" {
			return nil, ErrMissingKeyID
		}

		before := r.failures.Load()
		key, err := inner(t)
		if err == nil {
			return key, nil
		}

		// a refresh failed during this lookup, or no key was ever loaded
		if fetchErr := r.lastError(); fetchErr != nil && (r.failures.Load() != before || r.keyCount(ctx) == 0) {
			return nil, errors.Join(fetchErr, err)
		}
		if errors.Is(err, jwkset.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
		}
		return nil, err
	}
}

// Warm reports why the set is not usable yet; it never blocks on the network
func (r *Refreshing) Warm(ctx context.Context) error {
	if r.keyCount(ctx) > 0 {
		return nil
	}
	if err := r.lastError(); err != nil {
		return err
	}
	return fmt.Errorf("%w: no keys loaded from %s", ErrMalformedKeySet, r.url)
}

// Ready reports whether at least one key has been loaded
func (r *Refreshing) Ready() bool {
	return r.keyCount(context.Background()) > 0
}

// Stats reports the endpoint and the number of keys currently held
func (r *Refreshing) Stats() Stats {
	n := r.keyCount(context.Background())
	return Stats{URL: r.url, Cached: n > 0, Keys: n}
}

func (r *Refreshing) keyCount(ctx context.Context) int {
	keys, err := r.storage.KeyReadAll(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, k := range keys {
		if k.Marshal().KID != "" {
			n++
		}
	}
	return n
}

func (r *Refreshing) lastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// recordFailure receives refresh errors from the background client
func (r *Refreshing) recordFailure(_ context.Context, err error) {
	classified := classifyRefreshError(err)

	r.mu.Lock()
	r.lastErr = classified
	r.mu.Unlock()
	r.failures.Add(1)

	r.logger.Warn("JWKS refresh failed",
		zap.String("url", r.url),
		zap.Error(classified))
}

// classifyRefreshError maps background client errors onto this package's sentinels
func classifyRefreshError(err error) error {
	var urlErr *url.Error
	switch {
	case errors.Is(err, jwkset.ErrInvalidHTTPStatusCode):
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	case errors.As(err, &urlErr), errors.Is(err, context.DeadlineExceeded):
		return classifyTransportError(err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedKeySet, err)
	}
}

var _ KeySet = (*Refreshing)(nil)
