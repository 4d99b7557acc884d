package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType int

const (
	ErrorTypeConfig ErrorType = iota
	ErrorTypeNotFound
	ErrorTypeIO
	ErrorTypeAuthRequired
	ErrorTypeAuthFailed
	ErrorTypeCollision
	ErrorTypeUnsupported
	ErrorTypeCanceled
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeConfig:
		return "config"
	case ErrorTypeNotFound:
		return "notfound"
	case ErrorTypeIO:
		return "io"
	case ErrorTypeAuthRequired:
		return "auth_required"
	case ErrorTypeAuthFailed:
		return "auth_failed"
	case ErrorTypeCollision:
		return "collision"
	case ErrorTypeUnsupported:
		return "unsupported"
	case ErrorTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// AppError represents a structured application error.
// Provider is the storage provider name ("native", "archive", ...) and may be empty
// for errors raised outside a provider (config, resolution).
type AppError struct {
	Type      ErrorType
	Provider  string
	Operation string
	Path      string
	Message   string
	Err       error
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s error in %s", e.Type, e.Operation)
	if e.Path != "" {
		s += " [" + e.Path + "]"
	}
	if e.Provider != "" {
		s += " (" + e.Provider + ")"
	}
	return s + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(t ErrorType, provider, operation, path, message string, err error) *AppError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &AppError{
		Type:      t,
		Provider:  provider,
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// NewConfigError creates a new configuration error
func NewConfigError(operation, message string, err error) *AppError {
	return newError(ErrorTypeConfig, "", operation, "", message, err)
}

// NewNotFoundError reports that no provider (or the named provider) has an item at path.
func NewNotFoundError(provider, operation, path string, err error) *AppError {
	return newError(ErrorTypeNotFound, provider, operation, path, "item not found", err)
}

// NewIOError wraps an I/O level failure from a provider.
func NewIOError(provider, operation, path string, err error) *AppError {
	return newError(ErrorTypeIO, provider, operation, path, "", err)
}

// NewAuthRequiredError reports that a network resource needs credentials the caller did not supply.
func NewAuthRequiredError(provider, operation, path string, err error) *AppError {
	return newError(ErrorTypeAuthRequired, provider, operation, path, "authentication required", err)
}

// NewAuthFailedError reports that the supplied credentials were rejected.
func NewAuthFailedError(provider, operation, path string, err error) *AppError {
	return newError(ErrorTypeAuthFailed, provider, operation, path, "authentication failed", err)
}

// NewCollisionError reports an existing target under a fail-if-exists policy.
func NewCollisionError(provider, operation, path string) *AppError {
	return newError(ErrorTypeCollision, provider, operation, path, "target already exists", nil)
}

// NewUnsupportedError reports an operation the provider has no concept of.
func NewUnsupportedError(provider, operation, path string) *AppError {
	return newError(ErrorTypeUnsupported, provider, operation, path, "operation not supported", stderrors.ErrUnsupported)
}

// NewCanceledError wraps a context error.
func NewCanceledError(provider, operation, path string, err error) *AppError {
	if err == nil {
		err = context.Canceled
	}
	return newError(ErrorTypeCanceled, provider, operation, path, "operation canceled", err)
}

// TypeOf returns the ErrorType of the first AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type, true
	}
	return 0, false
}

func isType(err error, types ...ErrorType) bool {
	t, ok := TypeOf(err)
	if !ok {
		return false
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool     { return isType(err, ErrorTypeNotFound) }
func IsCollision(err error) bool    { return isType(err, ErrorTypeCollision) }
func IsUnsupported(err error) bool  { return isType(err, ErrorTypeUnsupported) }
func IsAuthRequired(err error) bool { return isType(err, ErrorTypeAuthRequired) }

// IsAuth reports both AuthRequired and AuthFailed.
func IsAuth(err error) bool { return isType(err, ErrorTypeAuthRequired, ErrorTypeAuthFailed) }

// IsCanceled reports a canceled operation, whether wrapped or a bare context error.
func IsCanceled(err error) bool {
	if isType(err, ErrorTypeCanceled) {
		return true
	}
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
