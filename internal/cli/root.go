// Package cli implements the codepods command line client.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"codepods/internal/clientstore"
	"codepods/internal/config"
	"codepods/internal/event"
	"codepods/internal/logger"
	"codepods/internal/session"
	"codepods/pkg/clienterr"
)

const msgSessionExpired = "Your session has expired. Please log in again with `codepods login`."

// cfg and store are populated in PersistentPreRunE.
var (
	cfg   *config.ClientConfig
	store clientstore.Storage
	log   *slog.Logger
)

// isInteractive reports whether prompts can be shown. Tests replace it.
var isInteractive = func() bool {
	return term.IsTerminal(os.Stdin.Fd())
}

var rootCmd = &cobra.Command{
	Use:           "codepods",
	Short:         "Sign in to CodePods and generate AI learning roadmaps",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = logger.FromEnv(cmd.ErrOrStderr())

		c, err := config.LoadClient()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if path, _ := cmd.Flags().GetString("store"); path != "" {
			c.StorePath = path
		}
		cfg = c

		s, err := clientstore.Open(cfg.Store, cfg.StorePath)
		if err != nil {
			return fmt.Errorf("opening session store: %w", err)
		}
		store = s
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeStore()
	},
}

func init() {
	rootCmd.PersistentFlags().String("store", "", "session store path (overrides CODEPODS_STORE_PATH)")
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		_ = closeStore()
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", clienterr.MessageOf(err))
		os.Exit(1)
	}
}

func closeStore() error {
	if store == nil {
		return nil
	}
	s := store
	store = nil
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// newManager builds a session manager over the opened store. A rejected
// token clears the session and tells the user to sign in again.
func newManager(cmd *cobra.Command, extra ...session.Option) (*session.Manager, error) {
	strategies, err := session.StrategiesFor(cfg.GitHubFlow)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithBaseURL(cfg.APIBaseURL),
		session.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		session.WithStrategies(strategies...),
		session.WithDefaultLanding(cfg.DefaultLanding),
		session.WithLogger(log),
		session.WithNavigator(browserNavigator(cmd)),
	}
	if cfg.GitHubClientID != "" {
		opts = append(opts, session.WithAuthorizeConfig(cfg.GitHubClientID, cfg.GitHubRedirectURL))
	}
	opts = append(opts, extra...)

	m := session.New(store, opts...)
	m.Subscribe(func(e event.Event) {
		if e.Type != event.TypeTokenRejected {
			return
		}
		if err := m.Logout(); err != nil {
			log.Warn("clear rejected session", "error", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), msgSessionExpired)
	})
	return m, nil
}

func describe(u *session.User) string {
	if u == nil {
		return "unknown user"
	}
	name := u.Name
	if name == "" {
		name = u.GitHubLogin
	}
	switch {
	case name != "" && u.Email != "":
		return fmt.Sprintf("%s <%s>", name, u.Email)
	case name != "":
		return name
	case u.Email != "":
		return u.Email
	default:
		return u.ID
	}
}

var errNotLoggedIn = errors.New("not logged in")
