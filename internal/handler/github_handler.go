package handler

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"codepods/internal/model"
	"codepods/internal/service"
	"codepods/pkg/apierror"
)

const (
	stateCookie    = "codepods_oauth_state"
	returnToCookie = "codepods_oauth_return"
	stateLifetime  = 10 * time.Minute
	callbackPath   = "/auth/github/callback"
)

// GitHubHandler runs the browser side of GitHub OAuth. The callback always
// ends in a redirect to the frontend carrying either token or error.
type GitHubHandler struct {
	github       *service.GitHubService
	identity     *service.IdentityService
	frontendURL  string
	secureCookie bool
}

func NewGitHubHandler(github *service.GitHubService, identity *service.IdentityService, frontendURL string) *GitHubHandler {
	frontendURL = strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	return &GitHubHandler{
		github:       github,
		identity:     identity,
		frontendURL:  frontendURL,
		secureCookie: strings.HasPrefix(frontendURL, "https://"),
	}
}

// Start redirects to GitHub's authorize page. An optional return_to query
// parameter overrides the frontend callback; only loopback URLs and URLs
// under the frontend are accepted.
func (h *GitHubHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.github.Enabled() {
		writeError(w, model.ErrGitHubNotConfigured)
		return
	}

	returnTo := strings.TrimSpace(r.URL.Query().Get("return_to"))
	if returnTo != "" && !h.allowedReturnTo(returnTo) {
		writeError(w, apierror.New("BAD_REQUEST", "return_to is not allowed", returnTo, http.StatusBadRequest))
		return
	}

	state := uuid.NewString()
	h.setCookie(w, stateCookie, state, int(stateLifetime.Seconds()))
	if returnTo != "" {
		h.setCookie(w, returnToCookie, returnTo, int(stateLifetime.Seconds()))
	}

	http.Redirect(w, r, h.github.AuthCodeURL(state), http.StatusFound)
}

func (h *GitHubHandler) Callback(w http.ResponseWriter, r *http.Request) {
	target := h.frontendURL + callbackPath
	if c, err := r.Cookie(returnToCookie); err == nil && h.allowedReturnTo(c.Value) {
		target = c.Value
	}
	h.setCookie(w, stateCookie, "", -1)
	h.setCookie(w, returnToCookie, "", -1)

	q := r.URL.Query()
	if oauthErr := q.Get("error"); oauthErr != "" {
		h.finish(w, r, target, "error", oauthErr)
		return
	}

	stateCookieValue := ""
	if c, err := r.Cookie(stateCookie); err == nil {
		stateCookieValue = c.Value
	}
	state := q.Get("state")
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(stateCookieValue)) != 1 {
		slog.WarnContext(r.Context(), "github callback state mismatch", "error", model.ErrInvalidOAuthState)
		h.finish(w, r, target, "error", "invalid_state")
		return
	}

	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		h.finish(w, r, target, "error", "missing_code")
		return
	}

	profile, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		slog.WarnContext(r.Context(), "github code exchange failed", "error", err)
		h.finish(w, r, target, "error", "github_auth_failed")
		return
	}

	resp, err := h.identity.LoginWithGitHub(r.Context(), profile)
	if err != nil {
		slog.ErrorContext(r.Context(), "github login failed", "github_id", profile.ID, "error", err)
		h.finish(w, r, target, "error", "login_failed")
		return
	}

	h.finish(w, r, target, "token", resp.Token)
}

func (h *GitHubHandler) finish(w http.ResponseWriter, r *http.Request, target string, key string, value string) {
	u, err := url.Parse(target)
	if err != nil {
		writeError(w, err)
		return
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (h *GitHubHandler) setCookie(w http.ResponseWriter, name string, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/api/auth/github",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *GitHubHandler) allowedReturnTo(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return false
	}

	if h.frontendURL != "" && (raw == h.frontendURL || strings.HasPrefix(raw, h.frontendURL+"/")) {
		return true
	}

	if u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
