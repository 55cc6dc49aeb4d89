// Package roadmap requests AI-generated learning roadmaps from the roadmap
// proxy and turns the model's text into validated phases.
package roadmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"codepods/pkg/clienterr"
)

const (
	msgFetchFailed   = "Failed to fetch AI roadmap"
	msgCannotConnect = "Cannot connect to server. Please check your internet connection."
)

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient sets the client used for the proxy call. Pass the session
// manager's client to send the bearer token along.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: 3 * time.Minute},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Prompt string `json:"prompt"`
}

type envelope struct {
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
}

// Fetch returns the raw model text for description without interpreting it.
func (c *Client) Fetch(ctx context.Context, description string) (string, error) {
	body, err := json.Marshal(request{Prompt: description})
	if err != nil {
		return "", clienterr.Wrap(clienterr.KindUnknown, msgFetchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/roadmap", bytes.NewReader(body))
	if err != nil {
		return "", clienterr.Wrap(clienterr.KindUnknown, msgFetchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", clienterr.Wrap(clienterr.KindNetwork, msgCannotConnect, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", clienterr.Wrap(clienterr.KindNetwork, msgCannotConnect, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299

	if !ok || (decodeErr == nil && env.Error != "") {
		message := msgFetchFailed
		if decodeErr == nil && env.Error != "" {
			message = env.Error
		}
		c.logger.Debug("roadmap proxy failed", "status", resp.StatusCode, "error", env.Error, "details", env.Details)
		return "", clienterr.Wrap(clienterr.KindUpstream, message, fmt.Errorf("roadmap proxy status %d", resp.StatusCode))
	}
	if decodeErr != nil {
		return "", malformed(fmt.Errorf("decode proxy response: %w", decodeErr))
	}

	return resultText(env.Result)
}

// Generate fetches a roadmap for description and returns its phases in the
// order the model produced them.
func (c *Client) Generate(ctx context.Context, description string) ([]Phase, error) {
	text, err := c.Fetch(ctx, description)
	if err != nil {
		return nil, err
	}

	phases, err := Parse(text)
	if err != nil {
		c.logger.Debug("roadmap rejected", "error", err)
		return nil, err
	}
	return phases, nil
}

// resultText accepts the documented string result and also a bare array,
// which some proxies send without re-encoding.
func resultText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", malformed(fmt.Errorf("proxy response has no result"))
	}
	if trimmed[0] == '[' {
		return string(trimmed), nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", malformed(fmt.Errorf("result is not text: %w", err))
	}
	return s, nil
}
