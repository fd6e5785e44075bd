package inference

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

var (
	ErrNoAPIKey            = errors.New("inference: API key required")
	ErrProviderUnavailable = errors.New("inference: provider unavailable")
	ErrQuotaExceeded       = errors.New("inference: quota exceeded")
	ErrEmptyResponse       = errors.New("inference: empty response")
)

// APIError is a non-200 answer from a chat completions endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: status %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }
func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// IsQuotaExceeded separates a spent balance from ordinary throttling.
func (e *APIError) IsQuotaExceeded() bool {
	switch e.Code {
	case "insufficient_quota", "billing_hard_limit_reached", "RESOURCE_EXHAUSTED":
		return true
	}
	return mentionsQuota(e.Message)
}

func (e *APIError) IsRetryable() bool {
	return (e.IsRateLimited() && !e.IsQuotaExceeded()) || e.IsServerError()
}

// ProviderError tags err with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError lists every backend a Chain tried.
type ChainError struct {
	Failures []Failure
}

type Failure struct {
	Backend string
	Err     error
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Backend + ": " + f.Err.Error()
	}
	return "inference chain: " + strings.Join(parts, "; ")
}

func (e *ChainError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// IsQuotaExceeded reports whether the reply service will keep refusing
// until its quota resets. A chain counts only when every backend is out.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}

	var chainErr *ChainError
	if errors.As(err, &chainErr) && len(chainErr.Failures) > 0 {
		for _, f := range chainErr.Failures {
			if !IsQuotaExceeded(f.Err) {
				return false
			}
		}
		return true
	}

	var apiErr *APIError
	var genaiErr genai.APIError
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return true
	case errors.As(err, &apiErr):
		return apiErr.IsQuotaExceeded()
	case errors.As(err, &genaiErr):
		return genaiErr.Status == "RESOURCE_EXHAUSTED" || mentionsQuota(genaiErr.Message)
	}
	return mentionsQuota(err.Error())
}

// mentionsQuota matches the wording services use for exhausted accounts.
func mentionsQuota(msg string) bool {
	msg = strings.ToLower(msg)
	for _, word := range []string{"quota", "billing", "resource_exhausted"} {
		if strings.Contains(msg, word) {
			return true
		}
	}
	return false
}
