package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"codepods/internal/model"
	"codepods/pkg/apierror"
)

// GitHubService runs the server side of GitHub OAuth: building the authorize
// URL, exchanging the code and reading the profile.
type GitHubService struct {
	oauth      *oauth2.Config
	apiBaseURL *url.URL
	httpClient *http.Client
}

type GitHubOption func(*GitHubService)

// WithGitHubEndpoints points OAuth and the REST API at other hosts, e.g. a
// GitHub Enterprise instance or a test server.
func WithGitHubEndpoints(authURL string, tokenURL string, apiBaseURL string) GitHubOption {
	return func(s *GitHubService) {
		s.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
		if apiBaseURL != "" {
			if !strings.HasSuffix(apiBaseURL, "/") {
				apiBaseURL += "/"
			}
			if u, err := url.Parse(apiBaseURL); err == nil {
				s.apiBaseURL = u
			}
		}
	}
}

func WithGitHubHTTPClient(c *http.Client) GitHubOption {
	return func(s *GitHubService) {
		s.httpClient = c
	}
}

func NewGitHubService(clientID string, clientSecret string, redirectURL string, opts ...GitHubOption) *GitHubService {
	s := &GitHubService{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     githuboauth.Endpoint,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GitHubService) Enabled() bool {
	return s != nil && s.oauth.ClientID != "" && s.oauth.ClientSecret != ""
}

func (s *GitHubService) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the GitHub user's profile.
func (s *GitHubService) Exchange(ctx context.Context, code string) (model.GitHubProfile, error) {
	if !s.Enabled() {
		return model.GitHubProfile{}, apierror.Wrap(model.ErrGitHubNotConfigured,
			"GITHUB_NOT_CONFIGURED", "GitHub authentication is not configured", "", http.StatusServiceUnavailable)
	}
	if strings.TrimSpace(code) == "" {
		return model.GitHubProfile{}, apierror.BadRequest("Authorization code is required")
	}

	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			details := retrieveErr.ErrorCode
			if details == "" {
				details = retrieveErr.Error()
			}
			return model.GitHubProfile{}, apierror.Wrap(err, "GITHUB_AUTH_FAILED", "GitHub authentication failed", details, http.StatusBadRequest)
		}
		return model.GitHubProfile{}, fmt.Errorf("exchange github code: %w", err)
	}

	client := github.NewClient(s.oauth.Client(ctx, token))
	if s.apiBaseURL != nil {
		client.BaseURL = s.apiBaseURL
	}

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return model.GitHubProfile{}, fmt.Errorf("fetch github user: %w", err)
	}

	profile := model.GitHubProfile{
		ID:        user.GetID(),
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}

	if profile.Email == "" {
		profile.Email, err = primaryEmail(ctx, client)
		if err != nil {
			return model.GitHubProfile{}, err
		}
	}

	return profile, nil
}

// primaryEmail returns the verified primary address. The public profile
// omits it when the user keeps their email private.
func primaryEmail(ctx context.Context, client *github.Client) (string, error) {
	emails, _, err := client.Users.ListEmails(ctx, &github.ListOptions{PerPage: 100})
	if err != nil {
		return "", fmt.Errorf("list github emails: %w", err)
	}

	fallback := ""
	for _, e := range emails {
		if !e.GetVerified() {
			continue
		}
		if e.GetPrimary() {
			return e.GetEmail(), nil
		}
		if fallback == "" {
			fallback = e.GetEmail()
		}
	}
	return fallback, nil
}
