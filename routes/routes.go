package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/api-gatekeeper/app"
	"github.com/upb/api-gatekeeper/handlers"
	"github.com/upb/api-gatekeeper/internal/observability"
)

// Scopes required by the protected routes
const (
	ScopeReadTodos   = "read:todos"
	ScopeReadBilling = "read:billing"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"WWW-Authenticate", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Public health endpoints
	r.Get("/api/health", deps.Health.HandleHealth)
	r.Get("/api/ready", deps.Health.HandleReadiness)

	auth := deps.AuthMiddleware

	// Everything below requires a valid bearer token
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/api/me", deps.API.HandleMe)
		r.With(auth.RequireScope(ScopeReadTodos)).Get("/api/todos", deps.API.HandleTodos)
		r.With(auth.RequireScope(ScopeReadBilling)).Get("/api/billing", deps.API.HandleBilling)
	})

	// Unknown routes sit behind the authenticator too
	notFound := auth.RequireAuth(http.HandlerFunc(handlers.HandleNotFound))
	r.NotFound(notFound.ServeHTTP)
	r.MethodNotAllowed(notFound.ServeHTTP)

	return r
}
