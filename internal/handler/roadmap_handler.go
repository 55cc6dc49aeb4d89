package handler

import (
	"net/http"

	"codepods/internal/model"
	"codepods/internal/service"
)

type RoadmapHandler struct {
	service *service.RoadmapService
}

func NewRoadmapHandler(service *service.RoadmapService) *RoadmapHandler {
	return &RoadmapHandler{service: service}
}

// Generate returns the model's raw text in result. The text is not
// validated here.
func (h *RoadmapHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var payload model.RoadmapRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Generate(r.Context(), payload.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.RoadmapResponse{Result: result})
}
