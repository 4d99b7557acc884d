// Package network implements the storage contract for remote endpoints
// (FTP, SMB shares and S3 buckets) on top of pooled protocol sessions.
package network

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"nmfstore/internal/constants"
	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/secret"
	"nmfstore/internal/storage"
)

const kind = storage.ProviderNetwork

// Adapter resolves network URIs and runs operations over pooled sessions.
type Adapter struct {
	syntax  *storage.Syntax
	dialers map[string]Dialer
	timeout time.Duration
	pool    *pool
	creds   *credentials

	// promptMu keeps concurrent auth failures from prompting twice.
	promptMu sync.Mutex
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDialer registers d for scheme.
func WithDialer(scheme string, d Dialer) Option {
	return func(a *Adapter) { a.dialers[scheme] = d }
}

// WithSecretStore enables keyring lookup and persistence.
func WithSecretStore(s secret.Store) Option {
	return func(a *Adapter) { a.creds.store = s }
}

// WithPrompt sets the credential request hook called on the first auth failure.
func WithPrompt(p Prompt) Option {
	return func(a *Adapter) { a.creds.prompt = p }
}

// WithAnonymousFTP makes FTP endpoints without stored credentials try anonymous login.
func WithAnonymousFTP(on bool) Option {
	return func(a *Adapter) { a.creds.anonymousFTP = on }
}

// WithPersistCredentials saves every credential that worked after a prompt.
func WithPersistCredentials(on bool) Option {
	return func(a *Adapter) { a.creds.persist = on }
}

// WithMaxConnsPerHost bounds concurrent sessions per endpoint.
func WithMaxConnsPerHost(n int) Option {
	return func(a *Adapter) { a.pool = newPool(n) }
}

// WithDialTimeout bounds connection establishment including login.
func WithDialTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New creates an adapter. Schemes without a registered dialer resolve to Unsupported.
func New(syntax *storage.Syntax, opts ...Option) *Adapter {
	a := &Adapter{
		syntax:  syntax,
		dialers: make(map[string]Dialer),
		timeout: constants.DefaultDialTimeout,
		pool:    newPool(constants.DefaultMaxConnsPerHost),
		creds:   newCredentials(nil),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Probe claims every path with a registered network scheme. Only a
// definitive NotFound lets resolution continue; auth and I/O failures stop it.
func (a *Adapter) Probe() storage.Probe {
	return storage.Probe{
		Provider: kind,
		Match:    a.syntax.IsNetworkPath,
		Resolve:  a.Resolve,
	}
}

// Close closes every idle session.
func (a *Adapter) Close() error {
	a.pool.closeAll()
	return nil
}

// Resolve stats p on its endpoint.
func (a *Adapter) Resolve(ctx context.Context, p string) (storage.Item, error) {
	if err := storage.CheckContext(ctx, kind, "resolve", p); err != nil {
		return nil, err
	}
	ep, remote, err := ParseURI(p)
	if err != nil {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve", p, err)
	}
	a.creds.seed(ep)
	return a.resolve(ctx, ep, remote)
}

func (a *Adapter) resolve(ctx context.Context, ep Endpoint, remote string) (storage.Item, error) {
	var e Entry
	err := a.with(ctx, ep, "resolve", remote, func(c Client) error {
		var err error
		e, err = c.Stat(ctx, remote)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.newItem(ep, remote, e), nil
}

// ResolveFolder resolves p and requires a folder.
func (a *Adapter) ResolveFolder(ctx context.Context, p string) (storage.Folder, error) {
	it, err := a.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve_folder", p, errNotDir)
	}
	return f, nil
}

// with runs fn on a pooled session for ep. Sessions that fail with anything
// but a missing or existing object are assumed broken and discarded.
func (a *Adapter) with(ctx context.Context, ep Endpoint, verb, remote string, fn func(Client) error) error {
	c, err := a.session(ctx, ep)
	if err != nil {
		return err
	}
	err = fn(c)
	a.pool.release(ep.Key(), c, isBroken(ctx, err))
	return storage.WrapError(kind, verb, ep.URI(remote), err)
}

func isBroken(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	return !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrExist) && !errors.Is(err, errors.ErrUnsupported)
}

// session takes a pool slot and returns an idle session or dials a new one.
// The caller must hand the session back with pool.release.
func (a *Adapter) session(ctx context.Context, ep Endpoint) (Client, error) {
	c, err := a.pool.acquire(ctx, ep.Key())
	if err != nil {
		return nil, apperrors.NewCanceledError(kind.String(), "connect", ep.Key(), err)
	}
	if c != nil {
		return c, nil
	}
	c, err = a.dial(ctx, ep)
	if err != nil {
		a.pool.release(ep.Key(), nil, true)
		return nil, err
	}
	return c, nil
}

// dial logs in with the best known credentials. On an auth failure it asks
// the prompt once and retries once with what it returns.
func (a *Adapter) dial(ctx context.Context, ep Endpoint) (Client, error) {
	d, ok := a.dialers[ep.Scheme]
	if !ok {
		return nil, apperrors.NewUnsupportedError(kind.String(), "connect", ep.Key())
	}
	log := storage.LogFor(kind, ep.Key())

	cred, src := a.creds.lookup(ep)
	c, err := a.dialOnce(ctx, d, ep, cred)
	if err == nil {
		return c, nil
	}
	if !IsAuthError(err) {
		return nil, storage.WrapError(kind, "connect", ep.Key(), err)
	}
	log.WithField("source", src).Debug("credentials rejected")

	a.promptMu.Lock()
	defer a.promptMu.Unlock()

	// Another goroutine may have prompted while we waited.
	if again, src2 := a.creds.lookup(ep); src2 == credMemory && again != cred {
		if c, err := a.dialOnce(ctx, d, ep, again); err == nil {
			return c, nil
		}
	}
	if src == credMemory {
		a.creds.forget(ep)
	}
	if a.creds.prompt == nil {
		return nil, apperrors.NewAuthRequiredError(kind.String(), "connect", ep.Key(), err)
	}
	supplied, persist, perr := a.creds.prompt(ctx, ep)
	if perr != nil {
		return nil, storage.WrapError(kind, "prompt", ep.Key(), perr)
	}
	if supplied == nil {
		return nil, apperrors.NewAuthRequiredError(kind.String(), "connect", ep.Key(), err)
	}

	c, err = a.dialOnce(ctx, d, ep, *supplied)
	if err != nil {
		if IsAuthError(err) {
			return nil, apperrors.NewAuthFailedError(kind.String(), "connect", ep.Key(), err)
		}
		return nil, storage.WrapError(kind, "connect", ep.Key(), err)
	}
	a.creds.remember(ep, *supplied)
	if persist || a.creds.persist {
		a.creds.save(ep, *supplied)
	}
	log.WithField("source", credPrompt).Debug("logged in")
	return c, nil
}

func (a *Adapter) dialOnce(ctx context.Context, d Dialer, ep Endpoint, cred secret.Credential) (Client, error) {
	dctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return d.Dial(dctx, ep, cred)
}

func (s credSource) String() string {
	switch s {
	case credMemory:
		return "memory"
	case credKeyring:
		return "keyring"
	case credAnonymous:
		return "anonymous"
	case credPrompt:
		return "prompt"
	default:
		return "none"
	}
}
