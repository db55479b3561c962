// Package errors defines the unified error types returned by providers and language models.
//
// Every typed error carries the name of the provider that produced it, wraps the
// original cause, and matches one of the sentinel errors below with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification with errors.Is.
var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrContentFilter    = errors.New("content filtered")
	ErrContextLength    = errors.New("context length exceeded")
	ErrInferenceConfig  = errors.New("inference configuration error")
	ErrInferenceRuntime = errors.New("inference runtime error")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMissingAPIKey    = errors.New("missing API key")
	ErrModelNotFound    = errors.New("model not found")
	ErrProvider         = errors.New("provider error")
	ErrRateLimit        = errors.New("rate limit exceeded")
)

// BaseError holds the fields shared by all typed errors.
type BaseError struct {
	Provider string
	Err      error

	sentinel error
}

// Error returns "[provider] sentinel: cause".
func (e *BaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %v", e.Provider, e.sentinel)
	}
	return fmt.Sprintf("[%s] %v: %v", e.Provider, e.sentinel, e.Err)
}

// Unwrap returns the original cause.
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error.
func (e *BaseError) Is(target error) bool {
	return target == e.sentinel
}

// AuthenticationError is returned when the API key is rejected.
type AuthenticationError struct{ BaseError }

// ContentFilterError is returned when the backend refuses the content.
type ContentFilterError struct{ BaseError }

// ContextLengthError is returned when the prompt does not fit the model context.
type ContextLengthError struct{ BaseError }

// InvalidRequestError is returned when the backend rejects the request as malformed.
type InvalidRequestError struct{ BaseError }

// ModelNotFoundError is returned when the requested model does not exist.
type ModelNotFoundError struct{ BaseError }

// ProviderError is returned for any other backend or transport failure.
type ProviderError struct{ BaseError }

// RateLimitError is returned when the backend throttles the caller.
type RateLimitError struct{ BaseError }

// MissingAPIKeyError is returned when a provider requires an API key and none was found.
type MissingAPIKeyError struct {
	Provider string
	EnvVar   string
}

func (e *MissingAPIKeyError) Error() string {
	if e.EnvVar == "" {
		return fmt.Sprintf("[%s] %v", e.Provider, ErrMissingAPIKey)
	}
	return fmt.Sprintf("[%s] %v: set %s or pass an API key option", e.Provider, ErrMissingAPIKey, e.EnvVar)
}

func (e *MissingAPIKeyError) Is(target error) bool {
	return target == ErrMissingAPIKey
}

// InferenceConfigError is returned when a language model cannot be constructed:
// invalid settings, an unreachable server during model resolution, or no models served.
type InferenceConfigError struct {
	BaseError
	Message string
}

func (e *InferenceConfigError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("[%s] %v: %s", e.Provider, ErrInferenceConfig, e.Message)
	case e.Message == "":
		return e.BaseError.Error()
	default:
		return fmt.Sprintf("[%s] %v: %s: %v", e.Provider, ErrInferenceConfig, e.Message, e.Err)
	}
}

// InferenceRuntimeError is returned when a single inference call fails.
// Err is the original error, reachable with errors.Is and errors.As.
type InferenceRuntimeError struct{ BaseError }

// NewAuthenticationError creates an AuthenticationError.
func NewAuthenticationError(provider string, err error) *AuthenticationError {
	return &AuthenticationError{newBase(provider, err, ErrAuthentication)}
}

// NewContentFilterError creates a ContentFilterError.
func NewContentFilterError(provider string, err error) *ContentFilterError {
	return &ContentFilterError{newBase(provider, err, ErrContentFilter)}
}

// NewContextLengthError creates a ContextLengthError.
func NewContextLengthError(provider string, err error) *ContextLengthError {
	return &ContextLengthError{newBase(provider, err, ErrContextLength)}
}

// NewInvalidRequestError creates an InvalidRequestError.
func NewInvalidRequestError(provider string, err error) *InvalidRequestError {
	return &InvalidRequestError{newBase(provider, err, ErrInvalidRequest)}
}

// NewModelNotFoundError creates a ModelNotFoundError.
func NewModelNotFoundError(provider string, err error) *ModelNotFoundError {
	return &ModelNotFoundError{newBase(provider, err, ErrModelNotFound)}
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{newBase(provider, err, ErrProvider)}
}

// NewRateLimitError creates a RateLimitError.
func NewRateLimitError(provider string, err error) *RateLimitError {
	return &RateLimitError{newBase(provider, err, ErrRateLimit)}
}

// NewMissingAPIKeyError creates a MissingAPIKeyError.
func NewMissingAPIKeyError(provider string, envVar string) *MissingAPIKeyError {
	return &MissingAPIKeyError{Provider: provider, EnvVar: envVar}
}

// NewInferenceConfigError creates an InferenceConfigError. err may be nil.
func NewInferenceConfigError(provider string, message string, err error) *InferenceConfigError {
	return &InferenceConfigError{
		BaseError: newBase(provider, err, ErrInferenceConfig),
		Message:   message,
	}
}

// NewInferenceRuntimeError creates an InferenceRuntimeError wrapping err.
func NewInferenceRuntimeError(provider string, err error) *InferenceRuntimeError {
	return &InferenceRuntimeError{newBase(provider, err, ErrInferenceRuntime)}
}

func newBase(provider string, err error, sentinel error) BaseError {
	return BaseError{Provider: provider, Err: err, sentinel: sentinel}
}
