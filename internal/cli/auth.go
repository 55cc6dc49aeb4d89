package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"codepods/internal/clientstore"
	"codepods/internal/session"
	"codepods/pkg/clienterr"
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a CodePods account",
	Long: `Create a password account on the identity server.

Missing fields are prompted for when stdin is a terminal.

Examples:
  codepods signup --name Ada --email ada@example.com
  echo "$PASSWORD" | codepods signup --name Ada --email ada@example.com --password-stdin`,
	Args: cobra.NoArgs,
	RunE: runSignup,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with email and password",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd)
		if err != nil {
			return err
		}
		if err := m.Logout(); err != nil {
			return err
		}
		cmd.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Long: `Show the user stored in the local session.

--verify asks the identity server whether the token is still accepted.
--watch keeps running and prints the session again whenever another
codepods process changes it (file store only).`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	for _, c := range []*cobra.Command{signupCmd, loginCmd} {
		c.Flags().String("email", "", "account email")
		c.Flags().String("password", "", "account password")
		c.Flags().Bool("password-stdin", false, "read the password from stdin")
	}
	signupCmd.Flags().String("name", "", "display name")

	whoamiCmd.Flags().Bool("verify", false, "check the token against the identity server")
	whoamiCmd.Flags().Bool("watch", false, "print the session again whenever it changes")
	whoamiCmd.Flags().Bool("json", false, "print the session as JSON")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd)
}

type credentials struct {
	name     string
	email    string
	password string
}

// readCredentials collects flags, stdin and, when interactive, prompts for
// whatever is still missing.
func readCredentials(cmd *cobra.Command, withName bool) (credentials, error) {
	var c credentials
	c.email, _ = cmd.Flags().GetString("email")
	c.password, _ = cmd.Flags().GetString("password")
	if withName {
		c.name, _ = cmd.Flags().GetString("name")
	}

	if fromStdin, _ := cmd.Flags().GetBool("password-stdin"); fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return c, fmt.Errorf("reading password: %w", err)
		}
		c.password = strings.TrimRight(line, "\r\n")
	}

	missing := c.email == "" || c.password == "" || (withName && c.name == "")
	if missing && isInteractive() {
		if err := promptCredentials(&c, withName); err != nil {
			return c, err
		}
	}

	switch {
	case withName && strings.TrimSpace(c.name) == "":
		return c, clienterr.New(clienterr.KindValidation, "Name is required")
	case strings.TrimSpace(c.email) == "":
		return c, clienterr.New(clienterr.KindValidation, "Email is required")
	case c.password == "":
		return c, clienterr.New(clienterr.KindValidation, "Password is required")
	}
	return c, nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	c, err := readCredentials(cmd, true)
	if err != nil {
		return err
	}

	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	user, err := m.Signup(cmd.Context(), c.name, c.email, c.password)
	if err != nil {
		return err
	}

	if !m.IsAuthenticated() {
		cmd.Printf("Account created for %s. Log in with `codepods login`.\n", describe(user))
		return nil
	}
	cmd.Printf("Signed up and logged in as %s.\n", describe(user))
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	if keep, err := keepCurrentSession(cmd, m); err != nil || keep {
		return err
	}

	c, err := readCredentials(cmd, false)
	if err != nil {
		return err
	}

	user, err := m.Login(cmd.Context(), c.email, c.password)
	if err != nil {
		return err
	}
	cmd.Printf("Logged in as %s.\n", describe(user))
	return nil
}

// keepCurrentSession asks before replacing an existing session. Without a
// terminal the new login always wins.
func keepCurrentSession(cmd *cobra.Command, m *session.Manager) (bool, error) {
	if !m.IsAuthenticated() || !isInteractive() {
		return false, nil
	}
	replace, err := confirm(fmt.Sprintf("Already logged in as %s. Log in again?", describe(m.CurrentUser())), true)
	if err != nil {
		return false, err
	}
	if !replace {
		cmd.Println("Keeping the current session.")
	}
	return !replace, nil
}

type whoami struct {
	Authenticated bool          `json:"authenticated"`
	Method        string        `json:"method"`
	User          *session.User `json:"user,omitempty"`
}

func runWhoami(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	if verify, _ := cmd.Flags().GetBool("verify"); verify {
		if err := verifySession(cmd.Context(), m); err != nil {
			return err
		}
	}

	if err := printSession(cmd, m, asJSON); err != nil {
		return err
	}

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return nil
	}

	file, ok := store.(*clientstore.File)
	if !ok {
		return fmt.Errorf("--watch needs the file session store, not %q", cfg.Store)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return file.Watch(ctx, func() {
		if err := printSession(cmd, m, asJSON); err != nil {
			log.Warn("read session", "error", err)
		}
	})
}

func printSession(cmd *cobra.Command, m *session.Manager, asJSON bool) error {
	s, err := m.Snapshot()
	if err != nil {
		return err
	}

	if asJSON {
		out := whoami{Authenticated: s.Authenticated(), Method: s.AuthMethod.String(), User: s.User}
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(out)
	}

	if !s.Authenticated() {
		cmd.Println("Not logged in.")
		return nil
	}
	cmd.Printf("%s (%s)\n", describe(s.User), s.AuthMethod)
	return nil
}

// verifySession calls GET /api/users/me with the stored token. A 401 fires
// token.rejected, which clears the session through newManager's listener.
func verifySession(ctx context.Context, m *session.Manager) error {
	if !m.IsAuthenticated() {
		return errNotLoggedIn
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL()+"/api/users/me", nil)
	if err != nil {
		return err
	}
	resp, err := m.HTTPClient().Do(req)
	if err != nil {
		return clienterr.Wrap(clienterr.KindNetwork, "Cannot connect to server. Please check your internet connection.", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return clienterr.New(clienterr.KindValidation, "The server rejected the stored token.")
	case resp.StatusCode >= 300:
		return clienterr.New(clienterr.KindUnknown, fmt.Sprintf("Session check failed with status %d.", resp.StatusCode))
	}
	return nil
}
