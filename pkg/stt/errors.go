package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoAPIKey      = errors.New("stt: API key required")
	ErrTooShort      = errors.New("stt: audio too short")
	ErrNoSpeech      = errors.New("stt: no speech detected")
	ErrQuotaExceeded = errors.New("stt: quota exceeded")
)

// Kind is what a caller needs to know about a failed transcription: retry
// the recording, report the quota, or treat it as an outage.
type Kind int

const (
	KindNone Kind = iota
	KindTooShort
	KindNoSpeech
	KindQuotaExceeded
	KindUnknown
)

var kindNames = [...]string{"none", "too_short", "no_speech", "quota_exceeded", "unknown"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Classify maps a Transcribe error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, c := range []struct {
		target error
		kind   Kind
	}{
		{ErrTooShort, KindTooShort},
		{ErrNoSpeech, KindNoSpeech},
		{ErrQuotaExceeded, KindQuotaExceeded},
	} {
		if errors.Is(err, c.target) {
			return c.kind
		}
	}
	return KindUnknown
}

// APIError is a non-2xx response from the transcription service.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	status := fmt.Sprint(e.StatusCode)
	if e.Code != "" {
		status += " " + e.Code
	}
	return fmt.Sprintf("stt %s: HTTP %s: %s", e.Provider, status, e.Message)
}

func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }
func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 }

// IsQuotaExceeded reports an exhausted account. OpenAI sends a 429 with
// code insufficient_quota; some gateways only say so in the message.
func (e *APIError) IsQuotaExceeded() bool {
	if e.Code == "insufficient_quota" {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "billing")
}

// IsRetryable is true for transient rate limits and server errors.
func (e *APIError) IsRetryable() bool {
	return e.IsServerError() || e.IsRateLimited() && !e.IsQuotaExceeded()
}

// Unwrap makes a quota response match ErrQuotaExceeded.
func (e *APIError) Unwrap() error {
	if e.IsQuotaExceeded() {
		return ErrQuotaExceeded
	}
	return nil
}

// WrapError prefixes err with the provider name. nil stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("stt %s: %w", provider, err)
}

// IsTimeout reports whether err came from a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
