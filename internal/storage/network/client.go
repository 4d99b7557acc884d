package network

import (
	"context"
	"errors"
	"io"
	"time"

	"nmfstore/internal/secret"
)

// Entry is what a protocol client reports about one remote object.
type Entry struct {
	Name       string
	Dir        bool
	Size       int64
	ModTime    time.Time
	LinkTarget string
}

// Client is one authenticated session with an endpoint. Remote paths are
// slash separated and rooted at "/". Implementations report missing objects
// with an error matching fs.ErrNotExist and rejected credentials with one
// matching ErrAuth. A Client is used by one goroutine at a time.
type Client interface {
	Stat(ctx context.Context, remote string) (Entry, error)
	List(ctx context.Context, dir string) ([]Entry, error)
	// Open returns the content and its size, -1 when unknown. The session
	// stays busy until the reader is closed.
	Open(ctx context.Context, remote string) (io.ReadCloser, int64, error)
	Store(ctx context.Context, remote string, r io.Reader, appendTo bool) error
	Rename(ctx context.Context, from, to string) error
	Remove(ctx context.Context, remote string, dir bool) error
	Mkdir(ctx context.Context, remote string) error
	Close() error
}

// Dialer opens sessions for one or more schemes.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint, cred secret.Credential) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, ep Endpoint, cred secret.Credential) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint, cred secret.Credential) (Client, error) {
	return f(ctx, ep, cred)
}

type networkError string

func (e networkError) Error() string { return string(e) }

const (
	// ErrAuth marks a server rejecting the offered credentials.
	ErrAuth networkError = "authentication rejected"

	errBadURI     networkError = "not a network URI"
	errNoShare    networkError = "smb URI needs a share name"
	errNoScheme   networkError = "no client for scheme"
	errNotDir     networkError = "not a directory"
	errIsDir      networkError = "is a directory"
	errRootDelete networkError = "refusing to delete an endpoint root"
	errReplaceOwn networkError = "replace target contains the source"
	errMoveInside networkError = "cannot move a folder into itself"
)

// IsAuthError reports whether err is a credential rejection.
func IsAuthError(err error) bool { return errors.Is(err, ErrAuth) }

// authError wraps a server's rejection so that it matches ErrAuth.
type authError struct{ err error }

func (e *authError) Error() string { return ErrAuth.Error() + ": " + e.err.Error() }
func (e *authError) Unwrap() []error {
	return []error{ErrAuth, e.err}
}

func wrapAuth(err error) error {
	if err == nil || errors.Is(err, ErrAuth) {
		return err
	}
	return &authError{err: err}
}
