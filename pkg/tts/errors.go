package tts

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoAPIKey            = errors.New("tts: API key required")
	ErrNoVoiceID           = errors.New("tts: voice ID required")
	ErrEmptyText           = errors.New("tts: empty text")
	ErrEmptyAudio          = errors.New("tts: empty audio")
	ErrProviderUnavailable = errors.New("tts: no providers available")
)

// APIError is a non-200 answer from a synthesis service. Websocket errors
// carry no status code.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tts [%s]: ", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "status %d ", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "(%s) ", e.Code)
	}
	b.WriteString(e.Message)
	return b.String()
}

func (e *APIError) IsRateLimited() bool  { return e.StatusCode == http.StatusTooManyRequests }
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }
func (e *APIError) IsServerError() bool  { return e.StatusCode >= 500 && e.StatusCode < 600 }

// IsQuotaExceeded reports an exhausted account: ElevenLabs character quota
// or an OpenAI balance. Neither clears by retrying.
func (e *APIError) IsQuotaExceeded() bool {
	switch e.Code {
	case "quota_exceeded", "insufficient_quota":
		return true
	}
	return false
}

// IsRetryable is true for rate limits that are not quota, and 5xx.
func (e *APIError) IsRetryable() bool {
	return (e.IsRateLimited() && !e.IsQuotaExceeded()) || e.IsServerError()
}

// IsQuotaExceeded reports whether err carries a quota APIError.
func IsQuotaExceeded(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.IsQuotaExceeded()
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// ProviderError tags an error with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("tts [%s]: %v", e.Provider, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError returns nil for a nil err.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError lists every backend a Chain tried, in order.
type ChainError struct {
	Failures []Failure
}

// Failure is one backend's error inside a ChainError.
type Failure struct {
	Backend string
	Err     error
}

func (e *ChainError) Error() string {
	if len(e.Failures) == 0 {
		return "tts chain: no backend attempted"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Backend + ": " + f.Err.Error()
	}
	return "tts chain: " + strings.Join(parts, "; ")
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
