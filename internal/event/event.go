package event

import "time"

type Type string

const (
	// TypeSessionChanged fires after a login, GitHub completion or logout has
	// been written to storage.
	TypeSessionChanged Type = "session.changed"
	// TypeTokenRejected fires when the application server answered 401 to a
	// request carrying the stored token.
	TypeTokenRejected Type = "token.rejected"
)

type Reason string

const (
	ReasonLogin    Reason = "login"
	ReasonGitHub   Reason = "github"
	ReasonLogout   Reason = "logout"
	ReasonRejected Reason = "rejected"
)

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Reason    Reason    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
}

// Listener receives events synchronously on the publishing goroutine.
type Listener func(Event)

type Bus interface {
	Publish(e Event)
	Subscribe(l Listener) (unsubscribe func())
}
