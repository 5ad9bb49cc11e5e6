// Package llm is the single entry point for model calls. It owns retries,
// daily quotas and the mock downgrade used when no model can be reached.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode"

	"google.golang.org/genai"
)

// Request is one chat completion.
type Request struct {
	Model  string
	System string
	User   string
}

// Provider is a pluggable model backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Kind int

const (
	KindOther Kind = iota
	KindRateLimit
	KindTimeout
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	}
	return "other"
}

// ProviderError is a classified provider failure.
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool { return e.Kind != KindAuth }

// Classify maps any provider error onto a ProviderError.
func Classify(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	if code := apiErrorCode(err); code > 0 {
		return &ProviderError{Kind: kindForStatus(code), StatusCode: code, Err: err}
	}
	if isRateLimitError(err) {
		return &ProviderError{Kind: KindRateLimit, Err: err}
	}
	return &ProviderError{Kind: KindOther, Err: err}
}

func apiErrorCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	}
	return KindOther
}

func isRateLimitError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(strings.ToLower(s), "rate limit")
}

// ValidCredential is the format check applied before a real provider is
// built: non-empty, no whitespace, at least 8 characters.
func ValidCredential(key string) bool {
	if len(key) < 8 {
		return false
	}
	for _, r := range key {
		if unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
