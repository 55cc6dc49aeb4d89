package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepods/internal/clientstore"
	"codepods/internal/config"
	"codepods/internal/roadmap"
	"codepods/internal/session"
	"codepods/pkg/clienterr"
)

const phasesJSON = `[{"id":"1","title":"Foundations","weekRange":"Weeks 1-2","tasks":["Install Go","Tour of Go"]}]`

// fakeModel answers chat completions with a fixed roadmap.
func fakeModel(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		content, _ := json.Marshal(phasesJSON)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"test","choices":[{"message":{"role":"assistant","content":`+string(content)+`},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:          "0",
		RequestTimeout:      5 * time.Second,
		RoadmapTimeout:      5 * time.Second,
		CORSOrigins:         []string{"*"},
		RateLimitRPM:        1000,
		AuthRateLimitRPM:    1000,
		RoadmapRateLimitRPM: 1000,
		JWTSecret:           "app-test-secret",
		JWTTTL:              time.Hour,
		FrontendURL:         "http://localhost:3000",
		RoadmapModel:        "test-model",
	}
}

func newServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	application, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(application.Close)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionManagerAgainstServer(t *testing.T) {
	srv := newServer(t, testConfig())
	ctx := context.Background()

	m := session.New(clientstore.NewMemory(), session.WithBaseURL(srv.URL))

	user, err := m.Signup(ctx, "Ada", "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.True(t, m.IsAuthenticated())

	require.NoError(t, m.Logout())
	assert.False(t, m.IsAuthenticated())

	_, err = m.Login(ctx, "ada@example.com", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, clienterr.KindValidation, clienterr.KindOf(err))
	assert.Equal(t, "Invalid credentials", clienterr.MessageOf(err))
	assert.False(t, m.IsAuthenticated())

	user, err = m.Login(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user, m.CurrentUser())

	// The manager's client carries the bearer token to protected routes.
	resp, err := m.HTTPClient().Get(srv.URL + "/api/users/me")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoadmapClientAgainstServer(t *testing.T) {
	t.Run("configured upstream", func(t *testing.T) {
		cfg := testConfig()
		cfg.HFToken = "hf_test"
		cfg.RoadmapBaseURL = fakeModel(t).URL
		srv := newServer(t, cfg)

		phases, err := roadmap.NewClient(srv.URL).Generate(context.Background(), "learn Go")
		require.NoError(t, err)
		require.Len(t, phases, 1)
		assert.Equal(t, "Foundations", phases[0].Title)
		assert.Equal(t, []string{"Install Go", "Tour of Go"}, phases[0].Tasks)
	})

	t.Run("missing token surfaces upstream error", func(t *testing.T) {
		srv := newServer(t, testConfig())

		_, err := roadmap.NewClient(srv.URL).Generate(context.Background(), "learn Go")
		require.Error(t, err)
		assert.Equal(t, clienterr.KindUpstream, clienterr.KindOf(err))
		assert.Equal(t, "Missing HF_TOKEN", clienterr.MessageOf(err))
	})

	t.Run("auth required", func(t *testing.T) {
		cfg := testConfig()
		cfg.RequireAuthForRoadmap = true
		srv := newServer(t, cfg)

		resp, err := http.Post(srv.URL+"/api/roadmap", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newServer(t, testConfig())

	for path, contentType := range map[string]string{
		"/health":       "application/json",
		"/openapi.yaml": "application/yaml",
		"/docs":         "text/html; charset=utf-8",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, contentType, resp.Header.Get("Content-Type"), path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), path)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `route="/health"`)
}
