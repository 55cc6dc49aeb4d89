package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepods/internal/clientstore"
	"codepods/internal/event"
	"codepods/pkg/clienterr"
)

// fakeIdentity mimics the identity server: password "good" logs in, code
// "ok" exchanges, everything else is rejected.
func fakeIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/users/login":
			if body["password"] != "good" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"message":"Invalid credentials"}`)
				return
			}
			writeAuth(w, "tok-"+body["email"], body["email"], "Ada")
		case "/api/users/signup":
			w.WriteHeader(http.StatusCreated)
			writeAuth(w, "tok-"+body["email"], body["email"], body["name"])
		case "/api/users/auth/github":
			if body["code"] != "ok" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"bad_verification_code"}`)
				return
			}
			writeAuth(w, "gh-token", "octo@example.com", "Octo")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func writeAuth(w http.ResponseWriter, token, email, name string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token": token,
		"user":  map[string]any{"id": "u-" + email, "email": email, "name": name},
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, handler http.Handler, opts ...Option) (*Manager, *clientstore.Memory) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := clientstore.NewMemory()
	base := []Option{WithBaseURL(srv.URL), WithLogger(discardLogger())}
	return New(store, append(base, opts...)...), store
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) listen(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func TestLogin_StoresSessionAndNotifies(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t, fakeIdentity())
	rec := &recorder{}
	m.Subscribe(rec.listen)

	user, err := m.Login(context.Background(), "ada@example.com", "good")
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.True(t, m.IsAuthenticated())
	assert.False(t, m.IsGitHubAuthenticated())
	assert.Equal(t, user, m.CurrentUser())

	token, ok, _ := store.Get(KeyToken)
	assert.True(t, ok)
	assert.Equal(t, "tok-ada@example.com", token)

	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, AuthPassword, snap.AuthMethod)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeSessionChanged, events[0].Type)
	assert.Equal(t, event.ReasonLogin, events[0].Reason)
	assert.Equal(t, "u-ada@example.com", events[0].UserID)
}

func TestLogin_ClearsGitHubFlag(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t, fakeIdentity())
	require.NoError(t, store.Set(KeyToken, "old"))
	require.NoError(t, store.Set(KeyGitHubAuthenticated, "true"))
	require.True(t, m.IsGitHubAuthenticated())

	_, err := m.Login(context.Background(), "ada@example.com", "good")
	require.NoError(t, err)

	assert.False(t, m.IsGitHubAuthenticated())
	_, ok, _ := store.Get(KeyGitHubAuthenticated)
	assert.False(t, ok)
}

func TestLogin_FailuresLeaveSessionUntouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		kind    clienterr.Kind
		message string
	}{
		{"message field", http.StatusUnauthorized, `{"message":"Invalid credentials"}`, clienterr.KindValidation, "Invalid credentials"},
		{"error field", http.StatusBadRequest, `{"error":"Email is required"}`, clienterr.KindValidation, "Email is required"},
		{"message wins over error", http.StatusConflict, `{"message":"m","error":"e"}`, clienterr.KindValidation, "m"},
		{"empty 4xx body", http.StatusUnprocessableEntity, ``, clienterr.KindValidation, "Login failed"},
		{"5xx with message", http.StatusInternalServerError, `{"message":"db down"}`, clienterr.KindUnknown, "db down"},
		{"5xx without body", http.StatusBadGateway, `<html>`, clienterr.KindUnknown, "Login failed. Please try again."},
		{"success without token", http.StatusOK, `{"user":{"id":"1"}}`, clienterr.KindUnknown, "Login failed. Please try again."},
		{"success with garbage", http.StatusOK, `not json`, clienterr.KindUnknown, "Login failed. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, store := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			require.NoError(t, store.Set(KeyToken, "existing"))
			require.NoError(t, store.Set(KeyUser, `{"id":"7","name":"Kept","email":"k@example.com"}`))

			rec := &recorder{}
			m.Subscribe(rec.listen)

			user, err := m.Login(context.Background(), "ada@example.com", "pw")
			require.Error(t, err)
			assert.Nil(t, user)
			assert.Equal(t, tt.kind, clienterr.KindOf(err))
			assert.Equal(t, tt.message, clienterr.MessageOf(err))

			token, _, _ := store.Get(KeyToken)
			assert.Equal(t, "existing", token)
			assert.Equal(t, "Kept", m.CurrentUser().Name)
			assert.Empty(t, rec.all())
		})
	}
}

func TestLogin_NetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := New(clientstore.NewMemory(), WithBaseURL(url), WithLogger(discardLogger()))

	_, err := m.Login(context.Background(), "ada@example.com", "good")
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterr.ErrNetwork)
	assert.Equal(t, "Cannot connect to server. Please check your internet connection.", clienterr.MessageOf(err))
	assert.False(t, m.IsAuthenticated())
}

func TestLogin_WrongPasswordWithStaleTokenIsNotARejection(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t, fakeIdentity())
	require.NoError(t, store.Set(KeyToken, "stale"))

	rec := &recorder{}
	m.Subscribe(rec.listen)

	_, err := m.Login(context.Background(), "ada@example.com", "bad")
	assert.ErrorIs(t, err, clienterr.ErrValidation)
	assert.Empty(t, rec.all())
}

func TestSignup_StoresSessionWithoutEvent(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, fakeIdentity())
	rec := &recorder{}
	m.Subscribe(rec.listen)

	user, err := m.Signup(context.Background(), " Grace ", "grace@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.Name)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, user, m.CurrentUser())
	assert.Empty(t, rec.all())
}

func TestSignup_WithoutTokenKeepsSession(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"user":{"id":"9","name":"New","email":"n@example.com"}}`)
	}))
	require.NoError(t, store.Set(KeyToken, "existing"))

	user, err := m.Signup(context.Background(), "New", "n@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "9", user.ID)

	token, _, _ := store.Get(KeyToken)
	assert.Equal(t, "existing", token)
	assert.Nil(t, m.CurrentUser())
}

func TestSignup_ServerErrorUsesRetryMessage(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := m.Signup(context.Background(), "n", "n@example.com", "pw")
	assert.ErrorIs(t, err, clienterr.ErrUnknown)
	assert.Equal(t, "Signup failed. Please try again.", clienterr.MessageOf(err))
}

func TestLogout_ClearsEverythingOnce(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t, fakeIdentity())
	require.NoError(t, store.Set(KeyToken, "t"))
	require.NoError(t, store.Set(KeyUser, `{"id":"1"}`))
	require.NoError(t, store.Set(KeyGitHubAuthenticated, "true"))
	require.NoError(t, store.Set(KeyGitHubRedirect, "/roadmap"))

	rec := &recorder{}
	m.Subscribe(rec.listen)

	require.NoError(t, m.Logout())
	require.NoError(t, m.Logout())

	assert.Equal(t, 0, store.Len())
	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.CurrentUser())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.ReasonLogout, events[0].Reason)
}

func TestLogout_ClearsCorruptFileStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store, err := clientstore.NewFile(path)
	require.NoError(t, err)
	m := New(store, WithLogger(discardLogger()))

	require.NoError(t, m.Logout())
	require.NoError(t, m.Logout())

	s, err := m.Snapshot()
	require.NoError(t, err)
	assert.False(t, s.Authenticated())
	assert.Equal(t, AuthNone, s.AuthMethod)
}

func TestLogout_StorageFailureRollsBack(t *testing.T) {
	t.Parallel()

	store := new(clientstore.MockStorage)
	store.On("Get", KeyToken).Return("t", true, nil)
	store.On("Get", KeyUser).Return("", false, nil)
	store.On("Get", KeyGitHubAuthenticated).Return("", false, nil)
	store.On("Get", KeyGitHubRedirect).Return("", false, nil)
	store.On("Remove", KeyToken).Return(nil)
	store.On("Remove", KeyUser).Return(assert.AnError)
	store.On("Set", KeyToken, "t").Return(nil)

	m := New(store, WithLogger(discardLogger()))
	err := m.Logout()

	require.Error(t, err)
	assert.ErrorIs(t, err, clienterr.ErrUnknown)
	store.AssertCalled(t, "Set", KeyToken, "t")
}

func TestCurrentUser_CorruptRecordReadsAsAbsent(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t, fakeIdentity())
	require.NoError(t, store.Set(KeyToken, "t"))
	require.NoError(t, store.Set(KeyUser, "{not json"))

	assert.Nil(t, m.CurrentUser())
	assert.True(t, m.IsAuthenticated())
}

func TestUser_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want User
	}{
		{`{"id":"abc","name":"A","email":"a@x"}`, User{ID: "abc", Name: "A", Email: "a@x"}},
		{`{"id":42,"name":"B"}`, User{ID: "42", Name: "B"}},
		{`{"_id":"mongo","email":"m@x"}`, User{ID: "mongo", Email: "m@x"}},
		{`{"id":"1","avatarUrl":"https://a/b.png","githubLogin":"octo"}`, User{ID: "1", AvatarURL: "https://a/b.png", GitHubLogin: "octo"}},
	}

	for _, tt := range tests {
		var u User
		require.NoError(t, json.Unmarshal([]byte(tt.in), &u), tt.in)
		assert.Equal(t, tt.want, u, tt.in)
	}

	var u User
	assert.Error(t, json.Unmarshal([]byte(`{"id":true}`), &u))
}

func TestNew_TrimsBaseURL(t *testing.T) {
	t.Parallel()

	m := New(clientstore.NewMemory(), WithBaseURL(" https://api.example.com/ "))
	assert.Equal(t, "https://api.example.com", m.BaseURL())
	assert.True(t, strings.HasPrefix(DefaultBaseURL, "https://"))
}
