package session

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Storage keys owned by the Manager. Nothing else writes them.
const (
	KeyToken               = "token"
	KeyUser                = "user"
	KeyGitHubAuthenticated = "githubAuthenticated"
	KeyGitHubRedirect      = "githubAuthRedirect"
)

var allKeys = []string{KeyToken, KeyUser, KeyGitHubAuthenticated, KeyGitHubRedirect}

type AuthMethod int

const (
	AuthNone AuthMethod = iota
	AuthPassword
	AuthGitHub
)

func (a AuthMethod) String() string {
	switch a {
	case AuthPassword:
		return "password"
	case AuthGitHub:
		return "github"
	default:
		return "none"
	}
}

// User is the last profile the identity server returned. It may be stale.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	GitHubLogin string `json:"githubLogin,omitempty"`
}

// UnmarshalJSON accepts numeric ids and the "_id" spelling some backends use.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var raw struct {
		plain
		ID      json.RawMessage `json:"id"`
		MongoID string          `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*u = User(raw.plain)
	id, err := decodeID(raw.ID)
	if err != nil {
		return err
	}
	if id == "" {
		id = raw.MongoID
	}
	u.ID = id
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("user id: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// Session is a consistent snapshot of the persisted authentication state.
type Session struct {
	Token           string
	User            *User
	AuthMethod      AuthMethod
	PendingRedirect string
}

func (s Session) Authenticated() bool {
	return s.Token != ""
}

// methodFor derives the auth method from the persisted keys, which is what
// keeps Token and AuthMethod paired.
func methodFor(token string, githubFlag string) AuthMethod {
	if token == "" {
		return AuthNone
	}
	if githubFlag == "true" {
		return AuthGitHub
	}
	return AuthPassword
}
