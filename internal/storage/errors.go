package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	apperrors "nmfstore/internal/errors"
)

type constError string

func (e constError) Error() string { return string(e) }

// WrapError attaches provider/verb/path context to an adapter error.
// Errors that already carry an AppError pass through unchanged.
func WrapError(kind ProviderKind, verb, path string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	p := kind.String()
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewCanceledError(p, verb, path, err)
	case errors.Is(err, fs.ErrNotExist):
		return apperrors.NewNotFoundError(p, verb, path, err)
	case errors.Is(err, fs.ErrExist):
		e := apperrors.NewCollisionError(p, verb, path)
		e.Err = err
		return e
	case errors.Is(err, errors.ErrUnsupported):
		return apperrors.NewUnsupportedError(p, verb, path)
	}
	return apperrors.NewIOError(p, verb, path, err)
}

// CheckContext returns a canceled AppError when ctx is done.
func CheckContext(ctx context.Context, kind ProviderKind, verb, path string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewCanceledError(kind.String(), verb, path, err)
	}
	return nil
}

// Failure is one item that a bulk operation could not process.
type Failure struct {
	Path string
	Err  error
}

// BulkError aggregates the per-item failures of a bulk operation.
// The operation keeps going after a failure; items not listed succeeded.
type BulkError struct {
	Failures []Failure
}

func (e *BulkError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("%s: %v", e.Failures[0].Path, e.Failures[0].Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d items failed", len(e.Failures))
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %s: %v", f.Path, f.Err)
	}
	return b.String()
}

// Unwrap exposes every failure to errors.Is / errors.As.
func (e *BulkError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

func (e *BulkError) add(path string, err error) {
	var nested *BulkError
	if errors.As(err, &nested) {
		e.Failures = append(e.Failures, nested.Failures...)
		return
	}
	e.Failures = append(e.Failures, Failure{Path: path, Err: err})
}

func (e *BulkError) orNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}
