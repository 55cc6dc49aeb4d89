package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepods/internal/clientstore"
	"codepods/internal/session"
	"codepods/pkg/clienterr"
)

const roadmapResult = `[{"id":"1","title":"Foundations","weekRange":"Weeks 1-2","tasks":["Install Go","Tour of Go"]},{"id":"2","title":"Services","weekRange":"Weeks 3-4","tasks":["chi router"]}]`

// executeCommand runs rootCmd with args and returns everything written to
// stdout and stderr. Flags are reset first because rootCmd is shared.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("cli-test"))
	require.NoError(t, err)
	return token
}

// identityServer fakes the endpoints the CLI calls.
type identityServer struct {
	*httptest.Server

	mu            sync.Mutex
	roadmapAuth   string
	roadmapPrompt string
}

func newIdentityServer(t *testing.T) *identityServer {
	t.Helper()
	s := &identityServer{}
	token := signedToken(t, jwt.MapClaims{"id": "u1", "name": "Ada", "email": "ada@example.com"})
	githubToken := signedToken(t, jwt.MapClaims{"id": "u2", "name": "Octo", "email": "octo@example.com", "login": "octocat"})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/signup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"token":"`+token+`","user":{"id":"u1","name":"Ada","email":"ada@example.com"}}`)
	})
	mux.HandleFunc("POST /api/users/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"Invalid credentials","message":"Invalid credentials","code":"UNAUTHORIZED"}`)
			return
		}
		_, _ = io.WriteString(w, `{"token":"`+token+`","user":{"id":"u1","name":"Ada","email":"ada@example.com"}}`)
	})
	mux.HandleFunc("GET /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"id":"u1","name":"Ada","email":"ada@example.com"}`)
	})
	mux.HandleFunc("GET /api/auth/github", func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("return_to") + "?token=" + githubToken
		http.Redirect(w, r, target, http.StatusFound)
	})
	mux.HandleFunc("POST /api/roadmap", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Prompt string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.roadmapAuth = r.Header.Get("Authorization")
		s.roadmapPrompt = body.Prompt
		s.mu.Unlock()

		result, _ := json.Marshal(roadmapResult)
		_, _ = io.WriteString(w, `{"result":`+string(result)+`}`)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// setup points the CLI at srv with a file store in a temp dir and returns
// the store path.
func setup(t *testing.T, srv *identityServer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")

	t.Setenv("NEXT_PUBLIC_API_BASE_URL", srv.URL)
	t.Setenv("API_BASE_URL", "")
	t.Setenv("ROADMAP_BASE_URL", srv.URL)
	t.Setenv("GITHUB_CLIENT_ID", "")
	t.Setenv("GITHUB_FLOW", "token")
	t.Setenv("CODEPODS_STORE", "file")
	t.Setenv("CODEPODS_STORE_PATH", path)

	interactive := isInteractive
	isInteractive = func() bool { return false }
	t.Cleanup(func() { isInteractive = interactive })
	return path
}

func storedToken(t *testing.T, path string) string {
	t.Helper()
	f, err := clientstore.NewFile(path)
	require.NoError(t, err)
	token, _, err := f.Get(session.KeyToken)
	require.NoError(t, err)
	return token
}

func TestLoginWhoamiLogout(t *testing.T) {
	srv := newIdentityServer(t)
	path := setup(t, srv)

	out, err := executeCommand(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in.")

	out, err = executeCommand(t, "secret1\n", "login", "--email", "ada@example.com", "--password-stdin")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as Ada <ada@example.com>.")
	assert.NotEmpty(t, storedToken(t, path))

	out, err = executeCommand(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada <ada@example.com> (password)")

	out, err = executeCommand(t, "", "whoami", "--json", "--verify")
	require.NoError(t, err)
	var got whoami
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Authenticated)
	assert.Equal(t, "password", got.Method)
	assert.Equal(t, "u1", got.User.ID)

	out, err = executeCommand(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")
	assert.Empty(t, storedToken(t, path))
}

func TestLoginFailures(t *testing.T) {
	srv := newIdentityServer(t)
	path := setup(t, srv)

	_, err := executeCommand(t, "", "login", "--email", "ada@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterr.ErrValidation)
	assert.Equal(t, "Invalid credentials", clienterr.MessageOf(err))
	assert.Empty(t, storedToken(t, path))

	_, err = executeCommand(t, "", "login", "--email", "ada@example.com")
	require.Error(t, err)
	assert.Equal(t, "Password is required", clienterr.MessageOf(err))
}

func TestSignup(t *testing.T) {
	srv := newIdentityServer(t)
	path := setup(t, srv)

	_, err := executeCommand(t, "", "signup", "--email", "ada@example.com", "--password", "secret1")
	require.Error(t, err)
	assert.Equal(t, "Name is required", clienterr.MessageOf(err))

	out, err := executeCommand(t, "", "signup", "--name", "Ada", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed up and logged in as Ada <ada@example.com>.")
	assert.NotEmpty(t, storedToken(t, path))
}

func TestRejectedTokenLogsOut(t *testing.T) {
	srv := newIdentityServer(t)
	path := setup(t, srv)

	f, err := clientstore.NewFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Set(session.KeyToken, "stale-token"))

	out, err := executeCommand(t, "", "whoami", "--verify")
	require.Error(t, err)
	assert.Contains(t, out, msgSessionExpired)
	assert.Empty(t, storedToken(t, path))
}

func TestGitHubComplete(t *testing.T) {
	srv := newIdentityServer(t)
	path := setup(t, srv)
	token := signedToken(t, jwt.MapClaims{"id": "7", "name": "Octo", "email": "octo@example.com"})

	out, err := executeCommand(t, "", "github", "complete", "http://localhost:3000/auth/github/callback?token="+token)
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in with GitHub as Octo <octo@example.com>.")
	assert.Contains(t, out, "Continue at /dashboard")
	assert.Equal(t, token, storedToken(t, path))

	out, err = executeCommand(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "(github)")
}

func TestGitHubCompleteErrors(t *testing.T) {
	srv := newIdentityServer(t)
	path := setup(t, srv)

	_, err := executeCommand(t, "", "github", "complete", "error=access_denied")
	assert.ErrorIs(t, err, clienterr.ErrOAuth)

	_, err = executeCommand(t, "", "github", "complete", "http://localhost:3000/auth/github/callback")
	assert.ErrorIs(t, err, clienterr.ErrMissingCode)
	assert.Empty(t, storedToken(t, path))
}

func TestGitHubLoginWithoutListener(t *testing.T) {
	srv := newIdentityServer(t)
	setup(t, srv)

	out, err := executeCommand(t, "", "github", "login", "--no-browser", "--from", "/roadmap")
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL+"/api/auth/github")
	assert.Contains(t, out, "codepods github complete")
}

func TestGitHubLoginListen(t *testing.T) {
	srv := newIdentityServer(t)
	path := setup(t, srv)

	opened := make(chan string, 1)
	browser := openBrowser
	openBrowser = func(target string) error {
		opened <- target
		// Play the browser: follow the server redirect to the loopback listener.
		go func() {
			resp, err := http.Get(target)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
	t.Cleanup(func() { openBrowser = browser })

	out, err := executeCommand(t, "", "github", "login", "--listen", "127.0.0.1:0", "--from", "/roadmap", "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in with GitHub as Octo <octo@example.com>.")
	assert.Contains(t, out, "Continue at /roadmap")
	assert.NotEmpty(t, storedToken(t, path))

	target := <-opened
	assert.Contains(t, target, "return_to=http%3A%2F%2F127.0.0.1%3A")
}

func TestGitHubLoginListenTimeout(t *testing.T) {
	srv := newIdentityServer(t)
	setup(t, srv)

	browser := openBrowser
	openBrowser = func(string) error { return nil }
	t.Cleanup(func() { openBrowser = browser })

	start := time.Now()
	_, err := executeCommand(t, "", "github", "login", "--listen", "127.0.0.1:0", "--timeout", "50ms")
	assert.ErrorIs(t, err, clienterr.ErrOAuth)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRoadmapOutputs(t *testing.T) {
	srv := newIdentityServer(t)
	setup(t, srv)

	_, err := executeCommand(t, "secret1\n", "login", "--email", "ada@example.com", "--password-stdin")
	require.NoError(t, err)

	out, err := executeCommand(t, "", "roadmap", "learn", "go")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Foundations (Weeks 1-2)")
	assert.Contains(t, out, "   - Tour of Go")
	assert.Contains(t, out, "2. Services (Weeks 3-4)")

	srv.mu.Lock()
	assert.Equal(t, "learn go", srv.roadmapPrompt)
	assert.True(t, strings.HasPrefix(srv.roadmapAuth, "Bearer "))
	srv.mu.Unlock()

	out, err = executeCommand(t, "", "roadmap", "-o", "json", "learn go")
	require.NoError(t, err)
	assert.JSONEq(t, roadmapResult, out)

	out, err = executeCommand(t, "", "roadmap", "-o", "yaml", "learn go")
	require.NoError(t, err)
	assert.Contains(t, out, "weekRange: Weeks 1-2")
	assert.Contains(t, out, "- Install Go")
}

func TestRoadmapFlagValidation(t *testing.T) {
	srv := newIdentityServer(t)
	setup(t, srv)

	_, err := executeCommand(t, "", "roadmap", "-o", "xml", "learn go")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = executeCommand(t, "", "roadmap", "--interactive", "learn go")
	assert.ErrorContains(t, err, "needs a terminal")

	_, err = executeCommand(t, "", "roadmap")
	assert.Error(t, err)
}

func TestWatchNeedsFileStore(t *testing.T) {
	srv := newIdentityServer(t)
	setup(t, srv)
	t.Setenv("CODEPODS_STORE", "memory")

	_, err := executeCommand(t, "", "whoami", "--watch")
	assert.ErrorContains(t, err, "--watch needs the file session store")
}

func TestParseCallbackArg(t *testing.T) {
	cases := []struct {
		in   string
		want session.Callback
	}{
		{"http://localhost:3000/auth/github/callback?token=abc", session.Callback{Token: "abc"}},
		{"code=xyz", session.Callback{Code: "xyz"}},
		{"https://app/cb?error=access_denied&error_description=nope#frag", session.Callback{Error: "access_denied", ErrorDescription: "nope"}},
		{"  token=t1  ", session.Callback{Token: "t1"}},
	}
	for _, c := range cases {
		got, err := parseCallbackArg(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}
