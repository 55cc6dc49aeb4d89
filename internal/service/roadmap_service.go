package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"codepods/internal/completion"
	"codepods/internal/metrics"
	"codepods/internal/model"
	"codepods/pkg/apierror"
)

const RoadmapSystemPrompt = "You are an expert AI that generates step-by-step learning roadmaps. " +
	"Return ONLY a JSON array with objects having: id (string), title (string), weekRange (string), tasks (array of strings)."

// Completer is the chat completion call the roadmap proxy forwards to.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Response, error)
}

// RoadmapService forwards a learning goal to the model and returns its raw
// text. It does not interpret the result; clients validate it.
type RoadmapService struct {
	completer Completer
	metrics   *metrics.Metrics
}

// NewRoadmapService returns a service. A nil completer means the upstream
// token is not configured and every call fails with ErrMissingHFToken.
func NewRoadmapService(completer Completer, m *metrics.Metrics) *RoadmapService {
	return &RoadmapService{completer: completer, metrics: m}
}

func (s *RoadmapService) Configured() bool {
	return s.completer != nil
}

func (s *RoadmapService) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		s.metrics.RecordRoadmap("bad_request", 0, 0)
		return "", apierror.BadRequest("Prompt is required")
	}
	if s.completer == nil {
		s.metrics.RecordRoadmap("missing_token", 0, 0)
		return "", apierror.Wrap(model.ErrMissingHFToken, "MISSING_HF_TOKEN", "Missing HF_TOKEN", "", http.StatusInternalServerError)
	}

	start := time.Now()
	resp, err := s.completer.Complete(ctx, completion.Request{
		SystemPrompt: RoadmapSystemPrompt,
		Prompt:       prompt,
	})
	if err != nil {
		s.metrics.RecordRoadmap("upstream_error", time.Since(start), 0)
		slog.ErrorContext(ctx, "roadmap completion failed", "error", err)
		return "", apierror.Wrap(err, "UPSTREAM_ERROR", "Internal Server Error", err.Error(), http.StatusInternalServerError)
	}

	s.metrics.RecordRoadmap("ok", time.Since(start), resp.TotalTokens)
	slog.DebugContext(ctx, "roadmap generated", "model", resp.Model, "tokens", resp.TotalTokens, "finish_reason", resp.FinishReason)

	if resp.Content == "" {
		return "[]", nil
	}
	return resp.Content, nil
}
