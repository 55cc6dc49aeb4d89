package handler

import (
	"net/http"

	"codepods/internal/middleware"
	"codepods/internal/model"
	"codepods/internal/service"
	"codepods/pkg/apierror"
)

type AuthHandler struct {
	identity *service.IdentityService
	github   *service.GitHubService
}

func NewAuthHandler(identity *service.IdentityService, github *service.GitHubService) *AuthHandler {
	return &AuthHandler{identity: identity, github: github}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var payload model.SignupRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.identity.Signup(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, resp)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.identity.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, resp)
}

// GitHubCode exchanges an authorization code that the frontend received
// directly from GitHub.
func (h *AuthHandler) GitHubCode(w http.ResponseWriter, r *http.Request) {
	var payload model.GitHubCodeRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.github.Exchange(r.Context(), payload.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.identity.LoginWithGitHub(r.Context(), profile)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, resp)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	user, err := h.identity.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user)
}
