package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandraRGdev/wp-api-codeia-sub001/auth"
	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/config"
)

type testServer struct {
	app   *App
	clock *clock.Fake
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.JWT.Algorithm = "ES256"
	cfg.AppPassword = config.AppPasswordConfig{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}
	cfg.Observability.Logging.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	app, err := New(context.Background(), cfg, Options{Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return &testServer{app: app, clock: clk}
}

// seed creates an application password and returns its Basic header.
func (s *testServer) seed(t *testing.T, userID, login string, roles ...string) string {
	t.Helper()
	created, err := s.app.Service().CreateAppPassword(context.Background(), userID, login, "test", roles)
	require.NoError(t, err)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(login+":"+created.Password))
}

type response struct {
	Code   int
	Header http.Header
	Body   map[string]any
}

func (s *testServer) do(t *testing.T, method, path, authorization string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:4000"
	switch {
	case authorization == "":
	case len(authorization) > 5 && authorization[:5] == "wack_":
		req.Header.Set("X-API-Key", authorization)
	default:
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	s.app.Handler().ServeHTTP(rec, req)

	out := response{Code: rec.Code, Header: rec.Header()}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.Body))
	}
	return out
}

func (s *testServer) login(t *testing.T, basic string) (access, refresh string) {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/v1/token", basic, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	return resp.Body["access_token"].(string), resp.Body["refresh_token"].(string)
}

func TestTokenFlow(t *testing.T) {
	s := newTestServer(t, nil)
	basic := s.seed(t, "7", "alice", "author")

	access, refresh := s.login(t, basic)

	resp := s.do(t, http.MethodGet, "/v1/whoami", "Bearer "+access, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "7", resp.Body["user_id"])
	assert.Equal(t, "jwt", resp.Body["method"])
	assert.NotEmpty(t, resp.Body["session_id"])
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp = s.do(t, http.MethodPost, "/v1/token/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotEqual(t, refresh, resp.Body["refresh_token"])

	// A replay outside the retry grace revokes the whole family.
	s.clock.Advance(10 * time.Second)
	resp = s.do(t, http.MethodPost, "/v1/token/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "AUTH_REVOKED", resp.Body["code"])

	resp = s.do(t, http.MethodGet, "/v1/whoami", "Bearer "+access, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestIssueToken_RequiresAppPassword(t *testing.T) {
	s := newTestServer(t, nil)
	access, _ := s.login(t, s.seed(t, "7", "alice", "author"))

	resp := s.do(t, http.MethodPost, "/v1/token", "Bearer "+access, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "AUTH_INVALID", resp.Body["code"])

	resp = s.do(t, http.MethodPost, "/v1/token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "AUTH_MISSING", resp.Body["code"])
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp = s.do(t, http.MethodPost, "/v1/token", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:wrong")), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "AUTH_INVALID", resp.Body["code"])
}

func TestRefresh_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodPost, "/v1/token/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Body["code"])

	resp = s.do(t, http.MethodPost, "/v1/token/refresh", "", map[string]string{"refresh": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.Code, "unknown fields are rejected")
}

func TestAPIKeys(t *testing.T) {
	s := newTestServer(t, nil)
	access, _ := s.login(t, s.seed(t, "7", "alice", "author"))
	bearer := "Bearer " + access

	resp := s.do(t, http.MethodPost, "/v1/keys", bearer, map[string]any{"name": "ci", "scopes": []string{"read"}})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body)
	key := resp.Body["key"].(string)
	assert.Equal(t, float64(1000), resp.Body["rate_limit"])
	assert.Equal(t, float64(3600), resp.Body["rate_limit_window"])
	assert.Equal(t, []any{"author"}, resp.Body["roles"])

	resp = s.do(t, http.MethodGet, "/v1/whoami", key, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "api_key", resp.Body["method"])
	assert.Equal(t, []any{"read"}, resp.Body["scopes"])

	// The key is scoped to read.
	resp = s.do(t, http.MethodPost, "/v1/authorize", key, map[string]string{"owner_id": "7", "action": "update"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, false, resp.Body["allowed"])

	resp = s.do(t, http.MethodPost, "/v1/keys", key, map[string]any{"name": "nested"})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.do(t, http.MethodPost, "/v1/keys", bearer, map[string]any{"name": "root", "roles": []string{"administrator"}})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.do(t, http.MethodPost, "/v1/keys", bearer, map[string]any{"name": "", "scopes": []string{"fly"}})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body["fields"], "scopes")
}

func TestCredentialCreationNeedsRecentLogin(t *testing.T) {
	s := newTestServer(t, nil)
	access, refresh := s.login(t, s.seed(t, "7", "alice", "author"))

	s.clock.Advance(6 * time.Minute)
	resp := s.do(t, http.MethodPost, "/v1/keys", "Bearer "+access, map[string]any{"name": "late"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "AUTH_EXPIRED", resp.Body["code"])

	// The token is still valid for ordinary calls.
	resp = s.do(t, http.MethodGet, "/v1/whoami", "Bearer "+access, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = s.do(t, http.MethodPost, "/v1/token/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = s.do(t, http.MethodPost, "/v1/keys", "Bearer "+resp.Body["access_token"].(string), map[string]any{"name": "fresh"})
	assert.Equal(t, http.StatusCreated, resp.Code)
}

func TestAppPasswords(t *testing.T) {
	s := newTestServer(t, nil)
	access, _ := s.login(t, s.seed(t, "7", "alice", "author"))

	resp := s.do(t, http.MethodPost, "/v1/app-passwords", "Bearer "+access, map[string]any{"login": "alice", "name": "phone"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body)
	password := resp.Body["password"].(string)

	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:"+password))
	resp = s.do(t, http.MethodGet, "/v1/whoami", basic, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "app_password", resp.Body["method"])
	assert.Equal(t, []any{"author"}, resp.Body["roles"])
}

func TestAuthorize(t *testing.T) {
	s := newTestServer(t, nil)
	access, _ := s.login(t, s.seed(t, "7", "alice", "author"))
	bearer := "Bearer " + access

	tests := []struct {
		owner, action string
		allowed       bool
	}{
		{"7", "update", true},
		{"8", "update", false},
		{"8", "read", false},
		{"7", "read", true},
		{"", "create", true},
	}
	for _, tt := range tests {
		resp := s.do(t, http.MethodPost, "/v1/authorize", bearer, map[string]string{"owner_id": tt.owner, "action": tt.action})
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, tt.allowed, resp.Body["allowed"], "%s on %q", tt.action, tt.owner)
		if tt.allowed {
			assert.Equal(t, "author", resp.Body["role"])
		} else {
			assert.NotEmpty(t, resp.Body["reason"])
		}
	}

	resp := s.do(t, http.MethodPost, "/v1/authorize", bearer, map[string]string{"action": "fly"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRevoke(t *testing.T) {
	s := newTestServer(t, nil)
	aliceAccess, _ := s.login(t, s.seed(t, "7", "alice", "author"))
	adminAccess, _ := s.login(t, s.seed(t, "1", "root", "administrator"))

	created, err := s.app.Service().CreateAPIKey(context.Background(), "1", "admin-key", nil, auth.APIKeyOptions{Roles: []string{"administrator"}})
	require.NoError(t, err)

	// Authors cannot revoke other users' credentials.
	resp := s.do(t, http.MethodPost, "/v1/token/revoke", "Bearer "+aliceAccess, map[string]string{"id": created.Record.ID})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.do(t, http.MethodPost, "/v1/token/revoke", "Bearer "+aliceAccess, map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(t, http.MethodPost, "/v1/token/revoke", "Bearer "+adminAccess, map[string]string{"id": created.Record.ID})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = s.do(t, http.MethodGet, "/v1/whoami", created.Key, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "AUTH_REVOKED", resp.Body["code"])

	// Logging out of the current session.
	resp = s.do(t, http.MethodPost, "/v1/token/revoke", "Bearer "+aliceAccess, map[string]string{"scope": "session"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(2), resp.Body["revoked"])
	resp = s.do(t, http.MethodGet, "/v1/whoami", "Bearer "+aliceAccess, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = s.do(t, http.MethodPost, "/v1/token/revoke", "Bearer "+adminAccess, map[string]string{"scope": "galaxy"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = s.do(t, http.MethodPost, "/v1/token/revoke", "Bearer "+adminAccess, map[string]string{"id": "x", "scope": "user"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(t, http.MethodPost, "/v1/token/revoke", "Bearer "+adminAccess, map[string]string{"scope": "user"})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = s.do(t, http.MethodGet, "/v1/whoami", "Bearer "+adminAccess, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRevoke_ScopedKeyNeedsDelete(t *testing.T) {
	s := newTestServer(t, nil)
	access, _ := s.login(t, s.seed(t, "7", "alice", "author"))
	ctx := context.Background()

	reader, err := s.app.Service().CreateAPIKey(ctx, "7", "reader", []string{"read"}, auth.APIKeyOptions{})
	require.NoError(t, err)
	other, err := s.app.Service().CreateAPIKey(ctx, "7", "other", nil, auth.APIKeyOptions{})
	require.NoError(t, err)

	for _, body := range []map[string]string{{"scope": "user"}, {"id": other.Record.ID}} {
		resp := s.do(t, http.MethodPost, "/v1/token/revoke", reader.Key, body)
		assert.Equal(t, http.StatusForbidden, resp.Code, "%v", body)
	}
	resp := s.do(t, http.MethodGet, "/v1/whoami", "Bearer "+access, nil)
	assert.Equal(t, http.StatusOK, resp.Code, "sessions survive")
	resp = s.do(t, http.MethodGet, "/v1/whoami", other.Key, nil)
	assert.Equal(t, http.StatusOK, resp.Code, "sibling key survives")

	deleter, err := s.app.Service().CreateAPIKey(ctx, "7", "deleter", []string{"delete"}, auth.APIKeyOptions{})
	require.NoError(t, err)
	resp = s.do(t, http.MethodPost, "/v1/token/revoke", deleter.Key, map[string]string{"id": other.Record.ID})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = s.do(t, http.MethodGet, "/v1/whoami", other.Key, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRateLimitedResponse(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimiting.PerIP = 2
	})
	for range 2 {
		resp := s.do(t, http.MethodGet, "/v1/whoami", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	}
	resp := s.do(t, http.MethodGet, "/v1/whoami", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/health", "/metrics"} {
		rec := httptest.NewRecorder()
		s.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestApplyReload(t *testing.T) {
	s := newTestServer(t, nil)
	editor := &auth.Identity{UserID: "3", Roles: []string{"editor"}}
	require.True(t, s.app.Service().Decide(editor, "4", auth.ActionDelete).Allowed)

	cfg := config.Default()
	no := false
	cfg.Permissions.RoleOverrides = map[string]auth.RoleOverride{"editor": {Delete: &no}}
	s.app.applyReload(cfg)

	assert.False(t, s.app.Service().Decide(editor, "4", auth.ActionDelete).Allowed)
}

func TestSweep(t *testing.T) {
	s := newTestServer(t, nil)
	s.login(t, s.seed(t, "7", "alice", "author"))

	// Past the refresh lifetime plus retention, both records go.
	s.clock.Advance(31*24*time.Hour + 25*time.Hour)
	s.app.sweep(context.Background())

	n, err := s.app.Service().Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "first sweep already deleted everything")
}

func TestNew_RejectsBadKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Observability.Logging.Enabled = false
	cfg.JWT.PrivateKey = "not a key"
	_, err := New(context.Background(), cfg, Options{})
	require.Error(t, err)
}
