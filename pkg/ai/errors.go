package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTimeout is returned when a request exceeded its deadline.
	ErrTimeout = errors.New("llm request timed out")
	// ErrMalformedOutput is returned when a response could not be parsed
	// into the requested structure, even after fallback parsing.
	ErrMalformedOutput = errors.New("llm returned malformed output")
	// ErrProvider marks failures reported by the model provider.
	ErrProvider = errors.New("llm provider error")
)

// ErrorClass is the coarse category of an LLM failure, recorded in the
// audit log next to failed chunks.
type ErrorClass string

const (
	ClassNone      ErrorClass = ""
	ClassTimeout   ErrorClass = "timeout"
	ClassMalformed ErrorClass = "malformed_output"
	ClassProvider  ErrorClass = "provider_error"
	ClassCanceled  ErrorClass = "canceled"
)

// ProviderError carries the HTTP status reported by a provider.
type ProviderError struct {
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("llm provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}

// Retryable reports whether repeating the request can succeed. Client side
// errors other than rate limiting and request timeouts are permanent.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == 408 || e.Status == 409 || e.Status == 429:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// Malformed wraps a parse failure as ErrMalformedOutput.
func Malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
}

// WrapRequestError converts a transport error into one of the error classes.
// reqCtx is the per-request context carrying the timeout.
func WrapRequestError(reqCtx context.Context, err error, status int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrProvider) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{Status: status, Err: err}
}

// Classify maps an error returned by a client onto its ErrorClass.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrMalformedOutput):
		return ClassMalformed
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	default:
		return ClassProvider
	}
}

// Retryable reports whether an extraction attempt failing with err should be
// repeated. Timeouts and malformed output are transient; provider errors
// depend on their status.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassTimeout, ClassMalformed:
		return true
	case ClassCanceled, ClassNone:
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}
