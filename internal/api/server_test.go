package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/auth"
	"github.com/leadflowhq/leadstream/internal/auth/memory"
	"github.com/leadflowhq/leadstream/internal/config"
	"github.com/leadflowhq/leadstream/internal/ratelimit"
	"github.com/leadflowhq/leadstream/internal/realtime"
	"github.com/leadflowhq/leadstream/internal/scheduler"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type testIDs struct {
	n int
}

func (g *testIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("cred-%d", g.n), nil
}

type fixture struct {
	server *Server
	creds  *auth.Service
	runner *scheduler.Runner
	bridge *realtime.Bridge
	jobs   *realtime.JobStore
	clock  *testClock
}

func newFixture(t *testing.T, openMode bool) *fixture {
	t.Helper()
	return newFixtureCfg(t, func(cfg *config.Config) {
		cfg.Auth.OpenMode = openMode
		cfg.Server.TrustProxy = true
	})
}

func newFixtureCfg(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}
	repo := memory.NewRepository()
	creds := auth.NewService(repo, auth.ServiceConfig{
		MaxActivePerOwner: cfg.Credentials.MaxActivePerOwner,
		DefaultExpiryDays: cfg.Credentials.DefaultExpiryDays,
		MaxExpiryDays:     cfg.Credentials.MaxExpiryDays,
		DefaultQuota:      cfg.Credentials.DefaultQuota,
		Clock:             clock,
		IDs:               &testIDs{},
	})
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{Clock: clock})
	gate := auth.NewGate(creds, limiter, auth.GateConfig{
		OpenMode:    cfg.Auth.OpenMode,
		AllowBearer: cfg.Auth.AllowBearer,
	})

	registry := realtime.NewRegistry(nil)
	jobs := realtime.NewJobStore()
	bridge := realtime.NewBridge(registry, realtime.BridgeConfig{Jobs: jobs})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bridge.Close(ctx)
	})

	runner := scheduler.NewRunner(clock, nil)
	t.Cleanup(runner.Stop)

	srv := NewServer(cfg, Deps{
		Gate:     gate,
		Creds:    creds,
		Limiter:  limiter,
		Runner:   runner,
		Registry: registry,
		Bridge:   bridge,
		Jobs:     jobs,
		Clock:    clock,
		Logger:   zap.NewNop(),
	})
	return &fixture{server: srv, creds: creds, runner: runner, bridge: bridge, jobs: jobs, clock: clock}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersPresent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAndUseAPIKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/api-keys", map[string]any{
		"name":        "ci pipeline",
		"permissions": []string{"leads:read"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		APIKey  string    `json:"api_key"`
		KeyInfo auth.Info `json:"key_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.APIKey)
	assert.Equal(t, "ci pipeline", created.KeyInfo.Name)

	// The issued key authenticates /me.
	header := http.Header{}
	header.Set(auth.HeaderAPIKey, created.APIKey)
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)

	var me struct {
		AuthMethod  string   `json:"auth_method"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "api_key", me.AuthMethod)
	assert.Equal(t, []string{"leads:read"}, me.Permissions)
}

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/api-keys", map[string]any{"name": "to revoke"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		APIKey  string    `json:"api_key"`
		KeyInfo auth.Info `json:"key_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPut, "/v1/auth/api-keys/"+created.KeyInfo.ID,
		map[string]string{"name": "renamed"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/v1/auth/api-keys/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		APIKeys []auth.Info `json:"api_keys"`
		Total   int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Total)
	assert.Equal(t, "renamed", listed.APIKeys[0].Name)

	rec = doJSON(t, h, http.MethodDelete, "/v1/auth/api-keys/"+created.KeyInfo.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The revoked key no longer authenticates.
	header := http.Header{}
	header.Set(auth.HeaderAPIKey, created.APIKey)
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", nil, header)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokeUnknownKeyReturns404(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	rec := doJSON(t, f.server.Handler(), http.MethodDelete, "/v1/auth/api-keys/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestsWithoutCredentialsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/scheduler/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginThrottledPerClientIP(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	h := f.server.Handler()

	header := http.Header{}
	header.Set("X-Forwarded-For", "203.0.113.9")
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", map[string]string{}, header)
		require.Equal(t, http.StatusNotImplemented, rec.Code, "attempt %d", i)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", map[string]string{}, header)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"detail": "Rate limit exceeded"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different client is unaffected.
	other := http.Header{}
	other.Set("X-Forwarded-For", "198.51.100.4")
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/login", map[string]string{}, other)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	h := f.server.Handler()
	f.runner.AddJob(scheduler.JobSpec{
		ID:      "tick",
		Name:    "tick",
		Trigger: scheduler.IntervalTrigger{Every: time.Hour},
		Run:     func(context.Context) error { return nil },
	})

	rec := doJSON(t, h, http.MethodGet, "/v1/scheduler/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/scheduler/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/scheduler/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.TotalJobs)

	rec = doJSON(t, h, http.MethodGet, "/v1/scheduler/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/scheduler/jobs/tick", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodDelete, "/v1/scheduler/jobs/tick", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/scheduler/stop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseWriterHijackDelegates(t *testing.T) {
	t.Parallel()

	errCh := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Nest two wrappers the way the logging and metrics middleware do.
		ww := &responseWriter{
			ResponseWriter: &responseWriter{ResponseWriter: w, status: http.StatusOK},
			status:         http.StatusOK,
		}
		conn, rw, err := ww.Hijack()
		if err != nil {
			errCh <- err
			return
		}
		_, _ = rw.WriteString("HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n")
		_ = rw.Flush()
		_ = conn.Close()
		errCh <- nil
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, <-errCh)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAdminPermissionKeyControlsScheduler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/api-keys", map[string]any{
		"name":        "ops automation",
		"permissions": []string{"admin"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	header := http.Header{}
	header.Set(auth.HeaderAPIKey, created.APIKey)

	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		IsAdmin bool `json:"is_admin"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.True(t, me.IsAdmin)

	rec = doJSON(t, h, http.MethodPost, "/v1/scheduler/start", nil, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, h, http.MethodPost, "/v1/scheduler/stop", nil, header)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForwardedForIgnoredWithoutTrustedProxy(t *testing.T) {
	t.Parallel()

	f := newFixtureCfg(t, func(cfg *config.Config) {
		cfg.Auth.OpenMode = true
	})
	h := f.server.Handler()

	// Every request comes from the same peer; spoofed forwarding headers
	// must not mint fresh throttle keys.
	for i := 0; i < 5; i++ {
		header := http.Header{}
		header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", map[string]string{}, header)
		require.Equal(t, http.StatusNotImplemented, rec.Code, "attempt %d", i)
	}

	header := http.Header{}
	header.Set("X-Forwarded-For", "198.51.100.200")
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", map[string]string{}, header)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSchedulerControlRequiresAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	h := f.server.Handler()

	// API-key identities are not admins.
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/api-keys", map[string]any{"name": "worker"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	header := http.Header{}
	header.Set(auth.HeaderAPIKey, created.APIKey)
	rec = doJSON(t, h, http.MethodPost, "/v1/scheduler/start", nil, header)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Read access is allowed.
	rec = doJSON(t, h, http.MethodGet, "/v1/scheduler/status", nil, header)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWSHealthEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/ws/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 0, body.Connections)
}
