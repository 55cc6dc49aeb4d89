package session

import (
	"context"
	"net/http"

	"codepods/internal/event"
)

type ctxKey int

const skipRejectKey ctxKey = iota

// withoutRejectSignal marks credential-exchange requests, where a 401 means
// wrong credentials rather than a dead session.
func withoutRejectSignal(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRejectKey, true)
}

func rejectSignalSkipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipRejectKey).(bool)
	return v
}

// AttachAuthHeader sets "Authorization: Bearer <token>" when a token is
// stored and leaves req unchanged otherwise.
func (m *Manager) AttachAuthHeader(req *http.Request) {
	if token := m.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// Transport wraps base so that every request carries the stored token and a
// 401 to a token-bearing request publishes token.rejected.
func (m *Manager) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if t, ok := base.(*authTransport); ok && t.m == m {
		return t
	}
	return &authTransport{m: m, base: base}
}

type authTransport struct {
	m    *Manager
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.m.Token()
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" && !rejectSignalSkipped(req.Context()) {
		t.m.logger.Debug("stored token rejected", "url", req.URL.Redacted())
		t.m.bus.Publish(event.Event{Type: event.TypeTokenRejected, Reason: event.ReasonRejected})
	}
	return resp, nil
}
