package handler

import (
	"context"
	"log/slog"
	"net/http"

	"codepods/internal/model"
	"codepods/internal/service"
)

// Pinger reports database reachability. A nil Pinger means users are kept
// in memory.
type Pinger interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	db      Pinger
	roadmap *service.RoadmapService
	github  *service.GitHubService
}

func NewHealthHandler(db Pinger, roadmap *service.RoadmapService, github *service.GitHubService) *HealthHandler {
	return &HealthHandler{db: db, roadmap: roadmap, github: github}
}

// Health answers 503 only when the database is configured and unreachable.
// Missing upstream credentials are reported but do not fail the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "ok",
		Roadmap: configured(h.roadmap.Configured()),
		GitHub:  configured(h.github.Enabled()),
	}
	status := http.StatusOK

	if h.db == nil {
		resp.Database = "memory"
	} else if err := h.db.Health(r.Context()); err != nil {
		slog.WarnContext(r.Context(), "database health check failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Database = "ok"
	}

	writeSuccess(w, status, resp)
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not_configured"
}
