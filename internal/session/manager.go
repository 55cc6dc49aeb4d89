package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"codepods/internal/clientstore"
	"codepods/internal/event"
	"codepods/pkg/clienterr"
)

const (
	DefaultBaseURL        = "https://codepods-backend.onrender.com"
	DefaultLanding        = "/dashboard"
	msgCannotConnect      = "Cannot connect to server. Please check your internet connection."
	defaultRequestTimeout = 30 * time.Second
)

// Manager owns the persisted session. All methods are safe for concurrent
// use; mutations are serialized and two racing logins end last-write-wins.
type Manager struct {
	store          clientstore.Storage
	baseURL        string
	client         *http.Client
	navigator      Navigator
	authorize      *oauth2.Config
	returnTo       string
	strategies     []CompletionStrategy
	defaultLanding string
	logger         *slog.Logger
	bus            *event.InMemoryBus

	mu sync.RWMutex
}

type Option func(*Manager)

func WithBaseURL(baseURL string) Option {
	return func(m *Manager) {
		m.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient sets the client used for identity calls. Its transport is
// wrapped so the bearer token is attached to every request.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			copied := *c
			m.client = &copied
		}
	}
}

func WithNavigator(n Navigator) Option {
	return func(m *Manager) {
		m.navigator = n
	}
}

func WithStrategies(strategies ...CompletionStrategy) Option {
	return func(m *Manager) {
		m.strategies = strategies
	}
}

func WithDefaultLanding(path string) Option {
	return func(m *Manager) {
		if strings.HasPrefix(path, "/") {
			m.defaultLanding = path
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func New(store clientstore.Storage, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		baseURL:        DefaultBaseURL,
		client:         &http.Client{Timeout: defaultRequestTimeout},
		navigator:      NavigatorFunc(func(context.Context, string) error { return nil }),
		strategies:     []CompletionStrategy{TokenRedirectStrategy{}},
		defaultLanding: DefaultLanding,
		logger:         slog.Default(),
		bus:            event.NewBus(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.client.Transport = m.Transport(m.client.Transport)
	return m
}

// HTTPClient returns a client that attaches the stored bearer token.
func (m *Manager) HTTPClient() *http.Client {
	return m.client
}

func (m *Manager) BaseURL() string {
	return m.baseURL
}

// Subscribe registers l for session events and returns its unsubscribe func.
func (m *Manager) Subscribe(l event.Listener) func() {
	return m.bus.Subscribe(l)
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Signup registers a password account. When the server also returns a token
// the new session is stored; otherwise the session is left as it was.
func (m *Manager) Signup(ctx context.Context, name string, email string, password string) (*User, error) {
	resp, err := m.postAuth(ctx, "/api/users/signup", signupRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
		Name:     strings.TrimSpace(name),
	}, "Signup")
	if err != nil {
		return nil, err
	}

	if resp.Token == "" {
		m.logger.Debug("signup returned no token; session unchanged", "email", email)
		return resp.User, nil
	}

	m.mu.Lock()
	err = m.writeCredentialsLocked(resp.Token, resp.User, AuthPassword, false)
	m.mu.Unlock()
	if err != nil {
		return nil, clienterr.Wrap(clienterr.KindUnknown, "Signup failed. Please try again.", err)
	}

	m.logger.Debug("signup stored session", "user_id", userID(resp.User))
	return resp.User, nil
}

// Login authenticates with email and password and notifies subscribers.
func (m *Manager) Login(ctx context.Context, email string, password string) (*User, error) {
	resp, err := m.postAuth(ctx, "/api/users/login", loginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	}, "Login")
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, clienterr.New(clienterr.KindUnknown, "Login failed. Please try again.")
	}

	m.mu.Lock()
	err = m.writeCredentialsLocked(resp.Token, resp.User, AuthPassword, false)
	m.mu.Unlock()
	if err != nil {
		return nil, clienterr.Wrap(clienterr.KindUnknown, "Login failed. Please try again.", err)
	}

	m.bus.Publish(event.Event{Type: event.TypeSessionChanged, Reason: event.ReasonLogin, UserID: userID(resp.User)})
	m.logger.Debug("login stored session", "user_id", userID(resp.User))
	return resp.User, nil
}

// Logout clears every session key in one batch. Calling it while logged out
// is a no-op.
func (m *Manager) Logout() error {
	m.mu.Lock()
	present := false
	for _, key := range allKeys {
		_, ok, err := m.store.Get(key)
		if err != nil {
			m.logger.Warn("session read failed during logout", "key", key, "error", err)
			present = true
			break
		}
		if ok {
			present = true
			break
		}
	}

	var err error
	if present {
		err = clientstore.ApplyBatch(m.store, nil, allKeys)
	}
	m.mu.Unlock()

	if err != nil {
		return clienterr.Wrap(clienterr.KindUnknown, "Logout failed. Please try again.", err)
	}
	if present {
		m.bus.Publish(event.Event{Type: event.TypeSessionChanged, Reason: event.ReasonLogout})
		m.logger.Debug("session cleared")
	}
	return nil
}

// Snapshot reads all persisted fields under one read lock.
func (m *Manager) Snapshot() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() (Session, error) {
	var s Session

	token, _, err := m.store.Get(KeyToken)
	if err != nil {
		return Session{}, fmt.Errorf("read token: %w", err)
	}
	flag, _, err := m.store.Get(KeyGitHubAuthenticated)
	if err != nil {
		return Session{}, fmt.Errorf("read github flag: %w", err)
	}
	redirect, _, err := m.store.Get(KeyGitHubRedirect)
	if err != nil {
		return Session{}, fmt.Errorf("read redirect: %w", err)
	}
	rawUser, hasUser, err := m.store.Get(KeyUser)
	if err != nil {
		return Session{}, fmt.Errorf("read user: %w", err)
	}
	if hasUser && rawUser != "" && rawUser != "null" {
		var u User
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			return Session{}, fmt.Errorf("decode stored user: %w", err)
		}
		s.User = &u
	}

	s.Token = token
	s.AuthMethod = methodFor(token, flag)
	s.PendingRedirect = redirect
	return s, nil
}

func (m *Manager) CurrentUser() *User {
	s, err := m.Snapshot()
	if err != nil {
		m.logger.Warn("read current user", "error", err)
		return nil
	}
	return s.User
}

func (m *Manager) IsAuthenticated() bool {
	return m.Token() != ""
}

func (m *Manager) IsGitHubAuthenticated() bool {
	s, err := m.Snapshot()
	if err != nil {
		m.logger.Warn("read session", "error", err)
		return false
	}
	return s.AuthMethod == AuthGitHub
}

// Token returns the stored bearer token, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	token, _, err := m.store.Get(KeyToken)
	m.mu.RUnlock()
	if err != nil {
		m.logger.Warn("read token", "error", err)
		return ""
	}
	return token
}

// writeCredentialsLocked stores token and user and sets the method flag in a
// single batch. A nil user removes any stale record. consumeRedirect also
// drops githubAuthRedirect in the same batch.
func (m *Manager) writeCredentialsLocked(token string, user *User, method AuthMethod, consumeRedirect bool) error {
	sets := map[string]string{KeyToken: token}
	var removes []string

	if user != nil {
		encoded, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		sets[KeyUser] = string(encoded)
	} else {
		removes = append(removes, KeyUser)
	}

	if method == AuthGitHub {
		sets[KeyGitHubAuthenticated] = "true"
	} else {
		removes = append(removes, KeyGitHubAuthenticated)
	}

	if consumeRedirect {
		removes = append(removes, KeyGitHubRedirect)
	}

	return clientstore.ApplyBatch(m.store, sets, removes)
}

type serverError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// postAuth sends a credential exchange and normalizes every failure into a
// clienterr.Error. action names the operation in fallback messages.
func (m *Manager) postAuth(ctx context.Context, path string, payload any, action string) (*authResponse, error) {
	retry := action + " failed. Please try again."

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, clienterr.Wrap(clienterr.KindUnknown, retry, err)
	}

	req, err := http.NewRequestWithContext(withoutRejectSignal(ctx), http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, clienterr.Wrap(clienterr.KindUnknown, retry, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("identity request failed", "path", path, "error", err)
		return nil, clienterr.Wrap(clienterr.KindNetwork, msgCannotConnect, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, clienterr.Wrap(clienterr.KindNetwork, msgCannotConnect, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var message string
		var se serverError
		if json.Unmarshal(data, &se) == nil {
			if se.Message != "" {
				message = se.Message
			} else if se.Error != "" {
				message = se.Error
			}
		}

		cause := fmt.Errorf("%s %s: status %d", http.MethodPost, path, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			if message == "" {
				message = action + " failed"
			}
			return nil, clienterr.Wrap(clienterr.KindValidation, message, cause)
		}
		if message == "" {
			message = retry
		}
		return nil, clienterr.Wrap(clienterr.KindUnknown, message, cause)
	}

	var out authResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, clienterr.Wrap(clienterr.KindUnknown, retry, fmt.Errorf("decode %s response: %w", path, err))
	}
	return &out, nil
}

func userID(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
