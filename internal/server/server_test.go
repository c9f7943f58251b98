package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolegate/consolegate/internal/config"
	"github.com/consolegate/consolegate/internal/guard"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Address: "127.0.0.1:0"},
		Session: config.SessionConfig{CookieName: "console_session"},
		Guard: config.GuardConfig{
			LoginPath:        "/login",
			HomePath:         "/",
			PublicPaths:      []string{"/login"},
			ExcludedPrefixes: config.DefaultExcludedPrefixes,
		},
	}
}

func newTestServer(t *testing.T, logs *bytes.Buffer) *Server {
	t.Helper()
	log := zerolog.Nop()
	if logs != nil {
		log = zerolog.New(logs)
	}
	srv, err := New(testConfig(), log, "test")
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, srv *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "console_session", Value: token})
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_GuardedPages(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name         string
		path         string
		token        string
		wantStatus   int
		wantLocation string
		wantPage     string
	}{
		{name: "login anonymous", path: "/login", wantStatus: http.StatusOK, wantPage: "login"},
		{name: "login signed in", path: "/login", token: "tok", wantStatus: http.StatusFound, wantLocation: "/"},
		{name: "dashboard anonymous", path: "/dashboard", wantStatus: http.StatusFound, wantLocation: "/login?redirect=%2Fdashboard"},
		{name: "root anonymous", path: "/", wantStatus: http.StatusFound, wantLocation: "/login"},
		{name: "root signed in", path: "/", token: "tok", wantStatus: http.StatusOK, wantPage: "home"},
		{name: "release detail signed in", path: "/releases/42", token: "tok", wantStatus: http.StatusOK, wantPage: "releases"},
		{name: "release detail anonymous", path: "/releases/42", wantStatus: http.StatusFound, wantLocation: "/login?redirect=%2Freleases%2F42"},
		{name: "malformed token", path: "/events", token: "a b", wantStatus: http.StatusFound, wantLocation: "/login?redirect=%2Fevents"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, srv, tt.path, tt.token)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			}
			if tt.wantPage != "" {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.wantPage, body["page"])
			}
		})
	}
}

func TestServer_HealthSkipsGuard(t *testing.T) {
	srv := newTestServer(t, nil)

	w := get(t, srv, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "test", body["version"])

	// Lookalike paths are still guarded
	for _, path := range []string{"/healthz", "/health-reports", "/favicon.icon-admin"} {
		w := get(t, srv, path, "")
		assert.Equal(t, http.StatusFound, w.Code, path)
		assert.Contains(t, w.Header().Get("Location"), "/login?redirect=", path)
	}
}

func TestServer_LoginEchoesSafeRedirect(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		query string
		want  string
	}{
		{query: "?redirect=%2Fdashboard", want: "/dashboard"},
		{query: "?redirect=%2F%2Fevil.example.com", want: "/"},
		{query: "?redirect=https%3A%2F%2Fevil.example.com", want: "/"},
		{query: "", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := get(t, srv, "/login"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body["redirect"])
		})
	}
}

func TestServer_UnknownPageIsGuarded(t *testing.T) {
	srv := newTestServer(t, nil)

	w := get(t, srv, "/nowhere", "")
	assert.Equal(t, http.StatusFound, w.Code)

	w = get(t, srv, "/nowhere", "tok")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_LogsGuardDecision(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, &logs)

	get(t, srv, "/dashboard", "")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "HTTP request", entry["message"])
	assert.Equal(t, "/dashboard", entry["path"])
	assert.Equal(t, guard.RedirectLogin.String(), entry["guard"])
	assert.EqualValues(t, http.StatusFound, entry["status"])
}

func TestNewPolicy(t *testing.T) {
	cfg := testConfig().Guard

	p := NewPolicy(cfg)
	assert.Equal(t, "/login", p.LoginPath)
	assert.True(t, p.TokenCheck("opaque-token"))

	cfg.CheckJWT = true
	p = NewPolicy(cfg)
	assert.False(t, p.TokenCheck("opaque-token"))
}

func TestServer_RunShutsDownOnCancel(t *testing.T) {
	// Reserve a free port
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := testConfig()
	cfg.Server.Address = addr
	srv, err := New(cfg, zerolog.Nop(), "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
