package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codepods/api"
	"codepods/internal/completion"
	"codepods/internal/config"
	"codepods/internal/database"
	"codepods/internal/handler"
	"codepods/internal/metrics"
	"codepods/internal/middleware"
	"codepods/internal/repository"
	"codepods/internal/router"
	"codepods/internal/service"
)

type userStore interface {
	service.UserStore
	Count(ctx context.Context) (int, error)
}

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewWithConfig(context.Background(), cfg)
}

// NewWithConfig wires the server. Users are kept in Postgres when
// DatabaseURL is set and in memory otherwise.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	var users userStore
	if cfg.DatabaseURL != "" {
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		a.db = db
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)
		users = repository.NewUserRepository(db.Pool)
	} else {
		slog.Warn("DATABASE_URL not set; users are kept in memory and lost on restart")
		users = repository.NewMemoryUserRepository()
	}

	if count, err := users.Count(ctx); err != nil {
		slog.Warn("failed to count users", "error", err)
	} else {
		slog.Info("user store ready", "users", count)
	}

	m := metrics.New()

	identityService := service.NewIdentityService(users, cfg.JWTSecret, cfg.JWTTTL, service.WithIdentityMetrics(m))
	githubService := service.NewGitHubService(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)
	if !githubService.Enabled() {
		slog.Warn("GitHub OAuth not configured; /api/auth/github will answer 503")
	}

	var completer service.Completer
	if cfg.HFToken != "" {
		completer = completion.New(cfg.HFToken,
			completion.WithBaseURL(cfg.RoadmapBaseURL),
			completion.WithModel(cfg.RoadmapModel),
			completion.WithHTTPClient(&http.Client{Timeout: cfg.RoadmapTimeout}),
		)
	} else {
		slog.Warn("HF_TOKEN not set; /api/roadmap will answer 500")
	}
	roadmapService := service.NewRoadmapService(completer, m)

	var pinger handler.Pinger
	if a.db != nil {
		pinger = a.db
	}

	authMiddleware := middleware.NewAuthMiddleware(identityService)
	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Auth:    handler.NewAuthHandler(identityService, githubService),
		GitHub:  handler.NewGitHubHandler(githubService, identityService, cfg.FrontendURL),
		Roadmap: handler.NewRoadmapHandler(roadmapService),
		Health:  handler.NewHealthHandler(pinger, roadmapService, githubService),
		Docs:    handler.NewDocsHandler(api.OpenAPI),
	}, m)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadTimeout:       cfg.ServerReadTimeout,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Close releases the database pool without serving.
func (a *App) Close() {
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.Close()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.Close()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
