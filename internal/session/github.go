package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"codepods/internal/event"
	"codepods/pkg/clienterr"
)

const msgGitHubFailed = "GitHub authentication was cancelled or failed."

// Navigator sends the user to an external URL, e.g. by opening a browser.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

type NavigatorFunc func(ctx context.Context, target string) error

func (f NavigatorFunc) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// WithAuthorizeConfig makes InitiateGitHubLogin go straight to GitHub's
// authorize page instead of the server's /api/auth/github redirect.
func WithAuthorizeConfig(clientID string, redirectURL string, scopes ...string) Option {
	return func(m *Manager) {
		if clientID == "" {
			return
		}
		if len(scopes) == 0 {
			scopes = []string{"read:user", "user:email"}
		}
		m.authorize = &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURL,
			Scopes:      scopes,
			Endpoint:    githuboauth.Endpoint,
		}
	}
}

// WithReturnTo asks the identity server to send the browser back to
// callbackURL instead of its configured frontend. Only used with the server
// entry point; servers accept loopback URLs here.
func WithReturnTo(callbackURL string) Option {
	return func(m *Manager) {
		m.returnTo = strings.TrimSpace(callbackURL)
	}
}

// Callback holds the query parameters GitHub or the server sent back.
type Callback struct {
	Token            string
	Code             string
	Error            string
	ErrorDescription string
}

func ParseCallback(q url.Values) Callback {
	return Callback{
		Token:            strings.TrimSpace(q.Get("token")),
		Code:             strings.TrimSpace(q.Get("code")),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// Credentials is what a completion strategy obtained. User may be nil.
type Credentials struct {
	Token string
	User  *User
}

// CompletionStrategy turns a callback into credentials. Accepts must not
// perform I/O.
type CompletionStrategy interface {
	Name() string
	Accepts(cb Callback) bool
	Complete(ctx context.Context, m *Manager, cb Callback) (Credentials, error)
}

// TokenRedirectStrategy handles callbacks where the server already exchanged
// the code and appended ?token= to the frontend URL.
type TokenRedirectStrategy struct{}

func (TokenRedirectStrategy) Name() string { return "token" }

func (TokenRedirectStrategy) Accepts(cb Callback) bool {
	return cb.Token != ""
}

func (TokenRedirectStrategy) Complete(_ context.Context, _ *Manager, cb Callback) (Credentials, error) {
	return Credentials{Token: cb.Token, User: userFromToken(cb.Token)}, nil
}

// CodeExchangeStrategy posts the authorization code to the identity server.
type CodeExchangeStrategy struct{}

func (CodeExchangeStrategy) Name() string { return "code" }

func (CodeExchangeStrategy) Accepts(cb Callback) bool {
	return cb.Code != ""
}

type codeRequest struct {
	Code string `json:"code"`
}

func (CodeExchangeStrategy) Complete(ctx context.Context, m *Manager, cb Callback) (Credentials, error) {
	resp, err := m.postAuth(ctx, "/api/users/auth/github", codeRequest{Code: cb.Code}, "GitHub authentication")
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: resp.Token, User: resp.User}, nil
}

// StrategiesFor returns the strategy list for a deployment flow name.
func StrategiesFor(flow string) ([]CompletionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(flow)) {
	case "", "token":
		return []CompletionStrategy{TokenRedirectStrategy{}}, nil
	case "code":
		return []CompletionStrategy{CodeExchangeStrategy{}}, nil
	case "both":
		return []CompletionStrategy{TokenRedirectStrategy{}, CodeExchangeStrategy{}}, nil
	default:
		return nil, fmt.Errorf("unknown github flow %q", flow)
	}
}

// InitiateGitHubLogin remembers currentPath, then navigates to the GitHub
// authorization entry point. It returns the URL navigated to.
func (m *Manager) InitiateGitHubLogin(ctx context.Context, currentPath string) (string, error) {
	target := m.baseURL + "/api/auth/github"
	if m.returnTo != "" {
		target += "?" + url.Values{"return_to": {m.returnTo}}.Encode()
	}
	if m.authorize != nil {
		target = m.authorize.AuthCodeURL(uuid.NewString(), oauth2.AccessTypeOnline)
	}

	// An empty path still clears the redirect of an abandoned earlier flow.
	currentPath = strings.TrimSpace(currentPath)
	m.mu.Lock()
	var err error
	if currentPath != "" {
		err = m.store.Set(KeyGitHubRedirect, currentPath)
	} else {
		err = m.store.Remove(KeyGitHubRedirect)
	}
	m.mu.Unlock()
	if err != nil {
		return "", clienterr.Wrap(clienterr.KindUnknown, "Could not start GitHub sign-in.", err)
	}

	if err := m.navigator.Navigate(ctx, target); err != nil {
		if currentPath != "" {
			m.mu.Lock()
			if rerr := m.store.Remove(KeyGitHubRedirect); rerr != nil {
				m.logger.Warn("drop pending redirect", "error", rerr)
			}
			m.mu.Unlock()
		}
		return target, clienterr.Wrap(clienterr.KindUnknown, "Could not open the GitHub sign-in page.", err)
	}

	m.logger.Debug("github login initiated", "target", target, "return_to", currentPath)
	return target, nil
}

// Completion is the outcome of a successful GitHub sign-in.
type Completion struct {
	User     *User
	Redirect string
	Strategy string
}

// CompleteGitHubLogin finishes the flow started by InitiateGitHubLogin. The
// first registered strategy accepting cb wins. On failure the session,
// including the pending redirect, is left untouched.
func (m *Manager) CompleteGitHubLogin(ctx context.Context, cb Callback) (*Completion, error) {
	if cb.Error != "" {
		cause := fmt.Errorf("github returned %q", cb.Error)
		if cb.ErrorDescription != "" {
			cause = fmt.Errorf("github returned %q: %s", cb.Error, cb.ErrorDescription)
		}
		return nil, clienterr.Wrap(clienterr.KindOAuth, msgGitHubFailed, cause)
	}

	var strategy CompletionStrategy
	for _, s := range m.strategies {
		if s.Accepts(cb) {
			strategy = s
			break
		}
	}
	if strategy == nil {
		return nil, clienterr.New(clienterr.KindMissingCode, "No token received from GitHub authentication.")
	}

	creds, err := strategy.Complete(ctx, m, cb)
	if err != nil {
		return nil, err
	}
	if creds.Token == "" {
		return nil, clienterr.New(clienterr.KindUnknown, "GitHub authentication failed. Please try again.")
	}

	m.mu.Lock()
	redirect, _, rerr := m.store.Get(KeyGitHubRedirect)
	if rerr != nil {
		m.logger.Warn("read pending redirect", "error", rerr)
		redirect = ""
	}
	err = m.writeCredentialsLocked(creds.Token, creds.User, AuthGitHub, true)
	m.mu.Unlock()
	if err != nil {
		return nil, clienterr.Wrap(clienterr.KindUnknown, "GitHub authentication failed. Please try again.", err)
	}

	m.bus.Publish(event.Event{Type: event.TypeSessionChanged, Reason: event.ReasonGitHub, UserID: userID(creds.User)})
	m.logger.Debug("github login completed", "strategy", strategy.Name(), "user_id", userID(creds.User))

	return &Completion{
		User:     creds.User,
		Redirect: m.landing(redirect),
		Strategy: strategy.Name(),
	}, nil
}

// landing only honors app-relative paths so a tampered store cannot turn the
// callback into an open redirect.
func (m *Manager) landing(pending string) string {
	if strings.HasPrefix(pending, "/") && !strings.HasPrefix(pending, "//") {
		return pending
	}
	return m.defaultLanding
}

// userFromToken reads profile claims from an unverified JWT. The token is
// only trusted by the server, so a missing or odd claim set yields nil.
func userFromToken(token string) *User {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	u := &User{
		ID:          claimString(claims, "id", "userId", "user_id", "sub"),
		Name:        claimString(claims, "name"),
		Email:       claimString(claims, "email"),
		AvatarURL:   claimString(claims, "avatarUrl", "avatar_url"),
		GitHubLogin: claimString(claims, "githubLogin", "login", "username"),
	}
	if u.ID == "" && u.Email == "" {
		return nil
	}
	return u
}

func claimString(claims jwt.MapClaims, names ...string) string {
	for _, name := range names {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
