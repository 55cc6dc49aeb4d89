package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GITHUB_CLIENT_ID", "")
	t.Setenv("GITHUB_CLIENT_SECRET", "")
	t.Setenv("FRONTEND_URL", "https://app.codepods.dev/")
	t.Setenv("CORS_ORIGINS", "https://a.dev, ,https://b.dev")
	t.Setenv("ROADMAP_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.ServerPort)
	assert.Equal(t, "https://app.codepods.dev", cfg.FrontendURL)
	assert.Equal(t, []string{"https://a.dev", "https://b.dev"}, cfg.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.RoadmapTimeout)
	assert.Equal(t, "MiniMaxAI/MiniMax-M2:novita", cfg.RoadmapModel)
	assert.False(t, cfg.GitHubEnabled())
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.EqualError(t, err, "JWT_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			JWTSecret:      "s",
			ServerPort:     "5000",
			RequestTimeout: time.Second,
			RoadmapTimeout: time.Second,
			JWTTTL:         time.Hour,
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.GitHubClientID = "id"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DatabaseURL = "postgres://localhost/codepods"
	cfg.DBMaxConns = 2
	cfg.DBMinConns = 3
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.JWTTTL = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadClient(t *testing.T) {
	t.Run("public base url wins", func(t *testing.T) {
		t.Setenv("NEXT_PUBLIC_API_BASE_URL", "http://localhost:5000/")
		t.Setenv("API_BASE_URL", "https://ignored.example")
		t.Setenv("ROADMAP_BASE_URL", "")
		t.Setenv("GITHUB_FLOW", "")
		t.Setenv("CODEPODS_STORE", "")

		cfg, err := LoadClient()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:5000", cfg.APIBaseURL)
		assert.Equal(t, "http://localhost:5000", cfg.RoadmapBaseURL)
		assert.Equal(t, "token", cfg.GitHubFlow)
		assert.Equal(t, "file", cfg.Store)
		assert.Equal(t, "/dashboard", cfg.DefaultLanding)
	})

	t.Run("default base url", func(t *testing.T) {
		t.Setenv("NEXT_PUBLIC_API_BASE_URL", "")
		t.Setenv("API_BASE_URL", "")
		t.Setenv("GITHUB_FLOW", "code")
		t.Setenv("CODEPODS_STORE", "SQLite")

		cfg, err := LoadClient()
		require.NoError(t, err)
		assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
		assert.Equal(t, "code", cfg.GitHubFlow)
		assert.Equal(t, "sqlite", cfg.Store)
	})

	t.Run("rejects unknown flow", func(t *testing.T) {
		t.Setenv("NEXT_PUBLIC_API_BASE_URL", "")
		t.Setenv("GITHUB_FLOW", "implicit")
		t.Setenv("CODEPODS_STORE", "")

		_, err := LoadClient()
		assert.ErrorContains(t, err, "GITHUB_FLOW")
	})
}
