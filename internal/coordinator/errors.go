package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrValidation matches coordinator rejections that retrying cannot fix.
var ErrValidation = errors.New("request rejected by coordinator")

// HTTPError is a non-2xx coordinator response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Is makes client-side rejections match ErrValidation.
func (e *HTTPError) Is(target error) bool {
	return target == ErrValidation && !transientStatus(e.StatusCode) &&
		e.StatusCode >= 400 && e.StatusCode < 500
}

// Message returns the "error" field of a JSON body, or the raw body.
func (e *HTTPError) Message() string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &body) == nil && body.Error != "" {
		return body.Error
	}
	return e.Body
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// IsTransient reports whether err is worth retrying later: network errors,
// timeouts, rate limiting and server-side failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return transientStatus(httpErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset")
}
