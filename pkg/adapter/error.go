package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

// ErrUnavailable marks a route whose adapter was never configured.
var ErrUnavailable = errors.New("adapter unavailable")

// AdapterError wraps provider errors with status metadata.
type AdapterError struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("adapter error (status=%d)", e.Status)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapProviderError attaches the HTTP status reported by a provider SDK.
func wrapProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var anthropicErr *anthropic.Error
	var openaiErr *openai.Error
	var genaiErr genai.APIError
	var genaiErrPtr *genai.APIError
	switch {
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	case errors.As(err, &genaiErr):
		status = genaiErr.Code
	case errors.As(err, &genaiErrPtr):
		status = genaiErrPtr.Code
	}
	return &AdapterError{
		Status: status,
		Err:    fmt.Errorf("%s API error: %w", provider, err),
	}
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		if adapterErr.Temporary {
			return true
		}
		return transientStatus(adapterErr.Status)
	}
	return false
}

// IsPermanent reports whether retrying cannot help: the caller gave up, or
// the provider rejected the request itself (bad key, bad model, bad payload).
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) && !adapterErr.Temporary {
		status := adapterErr.Status
		return status >= 400 && status <= 499 && !transientStatus(status)
	}
	return false
}

func transientStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500 && status <= 599:
		return true
	}
	return false
}
