package middleware

import (
	"net/http"
	"time"
)

// Timeout bounds handler time. The router mounts the roadmap route with its
// own, longer limit.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	message := `{"error":"Request timed out","message":"Request timed out","code":"REQUEST_TIMEOUT"}`

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, message)
	}
}
