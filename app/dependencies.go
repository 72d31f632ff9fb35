package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/api-gatekeeper/config"
	"github.com/upb/api-gatekeeper/handlers"
	"github.com/upb/api-gatekeeper/jwks"
	"github.com/upb/api-gatekeeper/middleware"
	"github.com/upb/api-gatekeeper/token"
)

// KeyResolver is a key set that can also report its state
type KeyResolver interface {
	jwks.KeySet
	Ready() bool
	Stats() jwks.Stats
}

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	Logger     *zap.Logger
	HTTPClient *http.Client

	// Auth
	KeySet         KeyResolver
	Verifier       *token.Verifier
	AuthMiddleware *middleware.AuthMiddleware

	// Handlers
	Health *handlers.HealthHandler
	API    *handlers.APIHandler

	// stops background key set refresh
	cancel context.CancelFunc
}

// Option customizes dependency construction
type Option func(*Dependencies)

// WithHTTPClient sets the client used to talk to the identity provider
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dependencies) { d.HTTPClient = client }
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := &Dependencies{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(deps)
	}

	// Initialize the signing key set
	if err := deps.initKeySet(ctx, cfg); err != nil {
		deps.stop()
		return nil, fmt.Errorf("failed to initialize key set: %w", err)
	}

	// Initialize token verification
	if err := deps.initAuth(cfg); err != nil {
		deps.stop()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.Health = handlers.NewHealthHandler(deps.KeySet, logger)
	deps.API = handlers.NewAPIHandler(handlers.NewTodoGenerator(nil), logger)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initKeySet resolves the JWKS endpoint and builds the key set for the configured mode
func (d *Dependencies) initKeySet(ctx context.Context, cfg *config.Config) error {
	url := cfg.Auth.JWKSEndpoint()
	if cfg.Auth.Discovery {
		discovered, err := jwks.Discover(ctx, cfg.Auth.Issuer(), d.HTTPClient)
		if err != nil {
			return err
		}
		d.Logger.Info("JWKS endpoint discovered",
			zap.String("issuer", cfg.Auth.Issuer()),
			zap.String("jwks_uri", discovered))
		url = discovered
	}

	opts := cfg.Auth.JWKSOptions()
	opts.HTTPClient = d.HTTPClient
	opts.Logger = d.Logger.Named("jwks")

	switch cfg.Auth.JWKSMode {
	case config.JWKSModeRefreshing:
		// the refresh goroutine outlives ctx, it is stopped by Close
		bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		d.cancel = cancel
		keys, err := jwks.NewRefreshing(bgCtx, url, opts)
		if err != nil {
			return err
		}
		d.KeySet = keys
	default:
		d.KeySet = jwks.NewCache(url, opts)
	}

	if cfg.Auth.Prefetch {
		if w, ok := d.KeySet.(interface{ Warm(context.Context) error }); ok {
			if err := w.Warm(ctx); err != nil {
				return fmt.Errorf("prefetch failed: %w", err)
			}
		}
	}

	d.Logger.Info("key set initialized",
		zap.String("mode", cfg.Auth.JWKSMode),
		zap.String("url", url),
		zap.Bool("prefetch", cfg.Auth.Prefetch))
	return nil
}

// initAuth builds the token verifier and the auth middleware
func (d *Dependencies) initAuth(cfg *config.Config) error {
	verifier, err := token.NewVerifier(cfg.Auth.Provider(), d.KeySet,
		token.WithAlgorithms(cfg.Auth.AllowedAlgorithms...),
		token.WithLeeway(cfg.Auth.ClockSkew),
	)
	if err != nil {
		return err
	}

	d.Verifier = verifier
	d.AuthMiddleware = middleware.NewAuthMiddleware(verifier, d.Logger)
	d.Logger.Info("token verifier initialized",
		zap.String("issuer", cfg.Auth.Issuer()),
		zap.String("audience", cfg.Auth.Audience),
		zap.Strings("algorithms", cfg.Auth.AllowedAlgorithms))
	return nil
}

func (d *Dependencies) stop() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	// Stop background key refresh
	d.stop()

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return nil
}
