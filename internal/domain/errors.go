package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")

	// Provider failures surfaced by the job client.
	ErrTransport           = errors.New("provider transport error")
	ErrProviderRateLimited = errors.New("provider rate limit exceeded")
	ErrQuotaExceeded       = errors.New("insufficient provider credits")
)

// ProviderError reports a non-success provider response that has no more
// specific sentinel.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider request failed: %d", e.StatusCode)
	}
	return fmt.Sprintf("provider request failed: %d: %s", e.StatusCode, e.Body)
}
