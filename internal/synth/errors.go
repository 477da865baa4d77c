package synth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ProviderError is a failure reported by the synthesis provider, either as an
// HTTP status or as an error event inside a stream.
type ProviderError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("synthesis provider: http %d: %s", e.Status, msg)
}

// ErrorKind classifies provider errors for status reporting.
func (e *ProviderError) ErrorKind() string {
	return "provider"
}

// Retryable reports whether the call may succeed if repeated.
func (e *ProviderError) Retryable() bool {
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= http.StatusInternalServerError
}

// AsProviderError extracts a *ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
