package model

import "errors"

var (
	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Access related errors
	ErrUnauthorized = errors.New("unauthorized")

	// GitHub OAuth errors
	ErrGitHubNotConfigured = errors.New("github oauth is not configured")
	ErrInvalidOAuthState   = errors.New("invalid oauth state")

	// Roadmap errors
	ErrMissingHFToken = errors.New("missing hf token")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
