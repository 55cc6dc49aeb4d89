package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultAPIBaseURL = "https://codepods-backend.onrender.com"

// ClientConfig configures the codepods CLI.
type ClientConfig struct {
	APIBaseURL        string
	RoadmapBaseURL    string
	GitHubClientID    string
	GitHubRedirectURL string
	GitHubFlow        string
	Store             string
	StorePath         string
	HTTPTimeout       time.Duration
	DefaultLanding    string
}

// LoadClient reads the client environment. NEXT_PUBLIC_API_BASE_URL wins
// over API_BASE_URL so a frontend .env can be shared with the CLI.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	apiBase := firstEnv("NEXT_PUBLIC_API_BASE_URL", "API_BASE_URL")
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}
	apiBase = strings.TrimRight(apiBase, "/")

	cfg := &ClientConfig{
		APIBaseURL:        apiBase,
		RoadmapBaseURL:    strings.TrimRight(getEnv("ROADMAP_BASE_URL", apiBase), "/"),
		GitHubClientID:    strings.TrimSpace(os.Getenv("GITHUB_CLIENT_ID")),
		GitHubRedirectURL: strings.TrimSpace(os.Getenv("GITHUB_REDIRECT_URL")),
		GitHubFlow:        strings.ToLower(getEnv("GITHUB_FLOW", "token")),
		Store:             strings.ToLower(getEnv("CODEPODS_STORE", "file")),
		StorePath:         strings.TrimSpace(os.Getenv("CODEPODS_STORE_PATH")),
		HTTPTimeout:       getDuration("CODEPODS_HTTP_TIMEOUT", 30*time.Second),
		DefaultLanding:    getEnv("CODEPODS_DEFAULT_LANDING", "/dashboard"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API base URL must be http(s): %q", c.APIBaseURL)
	}

	switch c.GitHubFlow {
	case "token", "code", "both":
	default:
		return fmt.Errorf("GITHUB_FLOW must be token, code or both, got %q", c.GitHubFlow)
	}

	switch c.Store {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("CODEPODS_STORE must be file, sqlite or memory, got %q", c.Store)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("CODEPODS_HTTP_TIMEOUT must be positive")
	}

	if !strings.HasPrefix(c.DefaultLanding, "/") {
		return fmt.Errorf("CODEPODS_DEFAULT_LANDING must be an absolute path")
	}

	return nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
