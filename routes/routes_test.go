package routes

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/api-gatekeeper/app"
	"github.com/upb/api-gatekeeper/config"
	"github.com/upb/api-gatekeeper/jwks"
)

const (
	testDomain   = "tenant.example.com"
	testAudience = "https://api.example.com"
	testKid      = "kid-1"
)

// testEnv is a gatekeeper wired against a TLS identity provider stub
type testEnv struct {
	key      *rsa.PrivateKey
	idp      *httptest.Server
	api      *httptest.Server
	jwksHits atomic.Int64

	mu        sync.Mutex
	jwksDown  bool
	jwksDelay time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	body, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &pk.PublicKey, KeyID: testKid, Algorithm: "RS256", Use: "sig"},
	}})
	require.NoError(t, err)

	env := &testEnv{key: pk}
	env.idp = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.jwksHits.Add(1)
		env.mu.Lock()
		down, delay := env.jwksDown, env.jwksDelay
		env.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if down {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(env.idp.Close)

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Host: "localhost", Port: 8080, ShutdownTimeout: 5 * time.Second},
		Auth: config.AuthConfig{
			Domain:            testDomain,
			Audience:          testAudience,
			JWKSURL:           env.idp.URL + jwks.WellKnownPath,
			JWKSMode:          config.JWKSModeCached,
			JWKSTimeout:       5 * time.Second,
			JWKSMaxAge:        10 * time.Minute,
			JWKSCooldown:      30 * time.Second,
			AllowedAlgorithms: []string{"RS256"},
		},
		CORS:          config.CORSConfig{AllowedOrigins: []string{"http://localhost:*"}},
		Observability: config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t), app.WithHTTPClient(env.idp.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	env.api = httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(env.api.Close)
	return env
}

func (e *testEnv) setJWKS(down bool, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jwksDown, e.jwksDelay = down, delay
}

func (e *testEnv) token(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   "https://" + testDomain + "/",
		"sub":   "auth0|user-123",
		"aud":   testAudience,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"scope": "openid read:todos",
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	s, err := tok.SignedString(e.key)
	require.NoError(t, err)
	return s
}

func (e *testEnv) get(t *testing.T, path, authorization string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.api.URL+path, nil)
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func challenge(realm, code, description string) string {
	return `Bearer realm="` + realm + `",error="` + code + `",error_description="` + description + `"`
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("health check returns ok", func(t *testing.T) {
		resp, body := env.get(t, "/api/health", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &payload))
		assert.Equal(t, "ok", payload["status"])
		assert.NotEmpty(t, payload["timestamp"])
		assert.Equal(t, int64(0), env.jwksHits.Load(), "health must not touch the provider")
	})

	t.Run("readiness loads the key set", func(t *testing.T) {
		resp, body := env.get(t, "/api/ready", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &payload))
		assert.Equal(t, "ready", payload["status"])
		assert.Equal(t, int64(1), env.jwksHits.Load())
	})
}

func TestAuthScenarios(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no header", func(t *testing.T) {
		resp, body := env.get(t, "/api/todos", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Unauthorized", body)
		assert.Equal(t,
			challenge(env.api.URL+"/api/todos", "invalid_request", "No Authorization header included in request"),
			resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("basic scheme", func(t *testing.T) {
		resp, _ := env.get(t, "/api/todos", "Basic abc123")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_request"`)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "only Bearer tokens are supported")
	})

	t.Run("empty token", func(t *testing.T) {
		resp, _ := env.get(t, "/api/todos", "Bearer ")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_request"`)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error_description="No token included in request"`)
	})

	t.Run("unknown key and wrong audience", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss": "https://" + testDomain + "/",
			"sub": "auth0|intruder",
			"aud": "https://other-api.example.com",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		tok.Header["kid"] = "unknown-kid"
		raw, err := tok.SignedString(other)
		require.NoError(t, err)

		resp, body := env.get(t, "/api/todos", "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Unauthorized", body)
		assert.Equal(t,
			challenge(env.api.URL+"/api/todos", "invalid_token", "Token verification failure"),
			resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("expired token", func(t *testing.T) {
		raw := env.token(t, func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() })
		resp, _ := env.get(t, "/api/me", "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)
	})

	t.Run("missing scope", func(t *testing.T) {
		raw := env.token(t, func(c jwt.MapClaims) { c["scope"] = "read:todos" })
		resp, body := env.get(t, "/api/billing", "Bearer "+raw)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "Forbidden", body)
		assert.Equal(t,
			challenge(env.api.URL+"/api/billing", "insufficient_scope", "Missing required scope: read:billing"),
			resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("scope granted", func(t *testing.T) {
		raw := env.token(t, func(c jwt.MapClaims) { c["scope"] = []string{"read:todos"} })
		resp, body := env.get(t, "/api/todos", "Bearer "+raw)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)

		var payload struct {
			Todos []struct {
				ID    string `json:"id"`
				Owner string `json:"owner"`
			} `json:"todos"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &payload))
		require.Len(t, payload.Todos, 5)
		for _, todo := range payload.Todos {
			assert.Equal(t, "auth0|user-123", todo.Owner)
		}
	})

	t.Run("me echoes the claims", func(t *testing.T) {
		raw := env.token(t, func(c jwt.MapClaims) { c["https://example.com/email"] = "user@example.com" })
		resp, body := env.get(t, "/api/me", "Bearer "+raw)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &payload))
		assert.Equal(t, "auth0|user-123", payload["sub"])
		assert.Equal(t, "user@example.com", payload["https://example.com/email"])
	})

	t.Run("billing with scope", func(t *testing.T) {
		raw := env.token(t, func(c jwt.MapClaims) { c["scope"] = "read:billing" })
		resp, body := env.get(t, "/api/billing", "Bearer "+raw)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"billing":{"method":"credit-card","last4":"1234","expiration":"01/2025"}}`, body)
	})

	t.Run("unknown route requires a token", func(t *testing.T) {
		resp, _ := env.get(t, "/api/nonexistent", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, body := env.get(t, "/api/nonexistent", "Bearer "+env.token(t, nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.JSONEq(t, `{"error":"endpoint not found"}`, body)
	})

	t.Run("unsupported method is treated as unknown", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.api.URL+"/api/todos", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+env.token(t, nil))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	assert.Equal(t, int64(1), env.jwksHits.Load(), "key set fetched once for the whole run")
}

func TestConcurrentFirstRequestsFetchOnce(t *testing.T) {
	env := newTestEnv(t)
	env.setJWKS(false, 100*time.Millisecond)
	raw := env.token(t, nil)

	var wg sync.WaitGroup
	codes := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, env.api.URL+"/api/todos", nil)
			req.Header.Set("Authorization", "Bearer "+raw)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				codes <- 0
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, int64(1), env.jwksHits.Load())
}

func TestKeySetUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.setJWKS(true, 0)

	resp, body := env.get(t, "/api/todos", "Bearer "+env.token(t, nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("WWW-Authenticate"))
	assert.Contains(t, body, "internal_error")
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.api.URL+"/api/todos", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddleware_UnlistedOrigin(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.api.URL+"/api/todos", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}
