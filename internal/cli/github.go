package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"codepods/internal/session"
	"codepods/pkg/clienterr"
)

// openBrowser launches the system browser. Tests replace it.
var openBrowser = open.Start

const callbackPage = `<!doctype html><title>CodePods</title><p>GitHub sign-in finished. You can close this window and return to the terminal.</p>`

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "Sign in with GitHub",
}

var githubLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Start GitHub sign-in in the browser",
	Long: `Open the GitHub authorization page.

With --listen the CLI waits on a loopback address for the identity server to
redirect back and finishes the sign-in by itself. Without it, copy the URL the
browser lands on and pass it to "codepods github complete".

Examples:
  codepods github login --listen 127.0.0.1:0
  codepods github login --no-browser`,
	Args: cobra.NoArgs,
	RunE: runGitHubLogin,
}

var githubCompleteCmd = &cobra.Command{
	Use:   "complete <callback-url>",
	Short: "Finish GitHub sign-in from the callback URL",
	Long: `Finish a GitHub sign-in started with "codepods github login".

The argument is the full URL the browser was redirected to, or just its
query string (token=... or code=...).`,
	Args: cobra.ExactArgs(1),
	RunE: runGitHubComplete,
}

func init() {
	githubLoginCmd.Flags().String("listen", "", "loopback address to receive the callback on, e.g. 127.0.0.1:0")
	githubLoginCmd.Flags().Bool("no-browser", false, "print the sign-in URL instead of opening it")
	githubLoginCmd.Flags().String("from", "", "app path to return to after sign-in")
	githubLoginCmd.Flags().Duration("timeout", 5*time.Minute, "how long --listen waits for the callback")

	githubCmd.AddCommand(githubLoginCmd, githubCompleteCmd)
	rootCmd.AddCommand(githubCmd)
}

// browserNavigator prints the target and, unless --no-browser is set, opens
// it. A browser that fails to start is not fatal; the URL is on screen.
func browserNavigator(cmd *cobra.Command) session.Navigator {
	return session.NavigatorFunc(func(_ context.Context, target string) error {
		cmd.Printf("Open this URL to sign in with GitHub:\n  %s\n", target)

		if noBrowser, _ := cmd.Flags().GetBool("no-browser"); noBrowser {
			return nil
		}
		if err := openBrowser(target); err != nil {
			log.Debug("open browser", "error", err)
		}
		return nil
	})
}

func runGitHubLogin(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	listen, _ := cmd.Flags().GetString("listen")

	if listen == "" {
		m, err := newManager(cmd)
		if err != nil {
			return err
		}
		if keep, err := keepCurrentSession(cmd, m); err != nil || keep {
			return err
		}
		if _, err := m.InitiateGitHubLogin(cmd.Context(), from); err != nil {
			return err
		}
		cmd.Println("After signing in, run: codepods github complete '<the URL your browser landed on>'")
		return nil
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	return listenForCallback(cmd, listen, from, timeout)
}

func listenForCallback(cmd *cobra.Command, addr string, from string, timeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	callbackURL := "http://" + ln.Addr().String() + "/auth/github/callback"

	m, err := newManager(cmd, session.WithReturnTo(callbackURL))
	if err != nil {
		ln.Close()
		return err
	}
	if keep, err := keepCurrentSession(cmd, m); err != nil || keep {
		ln.Close()
		return err
	}

	received := make(chan session.Callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/github/callback", func(w http.ResponseWriter, r *http.Request) {
		select {
		case received <- session.ParseCallback(r.URL.Query()):
		default:
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(callbackPage))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("callback listener stopped", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if _, err := m.InitiateGitHubLogin(ctx, from); err != nil {
		return err
	}
	cmd.Printf("Waiting for GitHub on %s ...\n", callbackURL)

	select {
	case cb := <-received:
		return complete(cmd, m, cb)
	case <-ctx.Done():
		return clienterr.Wrap(clienterr.KindOAuth, "Timed out waiting for GitHub sign-in.", ctx.Err())
	}
}

func runGitHubComplete(cmd *cobra.Command, args []string) error {
	cb, err := parseCallbackArg(args[0])
	if err != nil {
		return err
	}

	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	return complete(cmd, m, cb)
}

func complete(cmd *cobra.Command, m *session.Manager, cb session.Callback) error {
	done, err := m.CompleteGitHubLogin(cmd.Context(), cb)
	if err != nil {
		return err
	}
	cmd.Printf("Logged in with GitHub as %s.\n", describe(done.User))
	cmd.Printf("Continue at %s\n", done.Redirect)
	return nil
}

// parseCallbackArg accepts a full callback URL or a bare query string.
func parseCallbackArg(raw string) (session.Callback, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return session.Callback{}, clienterr.Wrap(clienterr.KindValidation, "The callback URL could not be read.", err)
		}
		return session.ParseCallback(u.Query()), nil
	}

	query, _, _ := strings.Cut(strings.TrimPrefix(raw, "?"), "#")
	values, err := url.ParseQuery(query)
	if err != nil {
		return session.Callback{}, clienterr.Wrap(clienterr.KindValidation, "The callback URL could not be read.", err)
	}
	return session.ParseCallback(values), nil
}
