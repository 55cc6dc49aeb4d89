package clienterr

import (
	"errors"
	"fmt"
)

// Kind classifies a client-side failure. Callers branch on Kind, never on
// Message.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindNetwork           Kind = "NetworkError"
	KindOAuth             Kind = "OAuthError"
	KindMissingCode       Kind = "MissingCodeError"
	KindUpstream          Kind = "UpstreamError"
	KindMalformedResponse Kind = "MalformedResponseError"
	KindUnknown           Kind = "UnknownError"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrOAuth             = &Error{Kind: KindOAuth}
	ErrMissingCode       = &Error{Kind: KindMissingCode}
	ErrUpstream          = &Error{Kind: KindUpstream}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrUnknown           = &Error{Kind: KindUnknown}
)

// Error is the single normalized error shape surfaced by the session and
// roadmap clients. Message is safe to show to a user as-is.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// MessageOf returns the user-facing message carried by err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}

	return err.Error()
}
