package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the identity and roadmap server configuration.
type Config struct {
	ServerPort              string
	ServerReadTimeout       time.Duration
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	CORSOrigins             []string
	RateLimitRPM            int
	AuthRateLimitRPM        int
	RoadmapRateLimitRPM     int
	JWTSecret               string
	JWTTTL                  time.Duration
	DatabaseURL             string
	DBMaxConns              int32
	DBMinConns              int32
	GitHubClientID          string
	GitHubClientSecret      string
	GitHubRedirectURL       string
	FrontendURL             string
	HFToken                 string
	RoadmapBaseURL          string
	RoadmapModel            string
	RoadmapTimeout          time.Duration
	RequireAuthForRoadmap   bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "5000"),
		ServerReadTimeout:       getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:            getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM:        getInt("AUTH_RATE_LIMIT_RPM", 10),
		RoadmapRateLimitRPM:     getInt("ROADMAP_RATE_LIMIT_RPM", 20),
		JWTSecret:               strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTTTL:                  getDuration("JWT_TTL", 168*time.Hour),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:              int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:              int32(getInt("DB_MIN_CONNS", 1)),
		GitHubClientID:          strings.TrimSpace(os.Getenv("GITHUB_CLIENT_ID")),
		GitHubClientSecret:      strings.TrimSpace(os.Getenv("GITHUB_CLIENT_SECRET")),
		GitHubRedirectURL:       getEnv("GITHUB_REDIRECT_URL", "http://localhost:5000/api/auth/github/callback"),
		FrontendURL:             strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		HFToken:                 strings.TrimSpace(os.Getenv("HF_TOKEN")),
		RoadmapBaseURL:          getEnv("ROADMAP_BASE_URL", "https://router.huggingface.co/v1"),
		RoadmapModel:            getEnv("ROADMAP_MODEL", "MiniMaxAI/MiniMax-M2:novita"),
		RoadmapTimeout:          getDuration("ROADMAP_TIMEOUT", 90*time.Second),
		RequireAuthForRoadmap:   getBool("REQUIRE_AUTH_FOR_ROADMAP", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.RoadmapTimeout <= 0 {
		return fmt.Errorf("ROADMAP_TIMEOUT must be positive")
	}

	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}

	if c.DatabaseURL != "" && (c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("DB_MIN_CONNS and DB_MAX_CONNS must satisfy 0 <= min <= max, max > 0")
	}

	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		return fmt.Errorf("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}

	return nil
}

// GitHubEnabled reports whether both OAuth credentials are present.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
