package network

import (
	"context"
	"sync"

	"nmfstore/internal/constants"
	"nmfstore/internal/secret"
	"nmfstore/internal/storage"
)

// Prompt asks the user for credentials after the server rejected the ones
// on file. Returning nil means the user declined. persist requests the
// credentials be written to the keyring once they work.
type Prompt func(ctx context.Context, ep Endpoint) (cred *secret.Credential, persist bool, err error)

type credSource int

const (
	credNone credSource = iota
	credMemory
	credKeyring
	credAnonymous
	credPrompt
)

// credentials resolves what to offer an endpoint: the in-memory cache,
// then the keyring, then anonymous FTP, then nothing.
type credentials struct {
	store        secret.Store
	prompt       Prompt
	anonymousFTP bool
	persist      bool

	mu  sync.RWMutex
	mem map[string]secret.Credential
}

func newCredentials(store secret.Store) *credentials {
	return &credentials{store: store, mem: make(map[string]secret.Credential)}
}

// seed stores credentials that came with a URI.
func (c *credentials) seed(ep Endpoint) {
	if ep.User == nil {
		return
	}
	c.mu.Lock()
	c.mem[ep.Key()] = *ep.User
	c.mu.Unlock()
}

func (c *credentials) lookup(ep Endpoint) (secret.Credential, credSource) {
	c.mu.RLock()
	cred, ok := c.mem[ep.Key()]
	c.mu.RUnlock()
	if ok {
		return cred, credMemory
	}
	if c.store != nil {
		cred, found, err := c.store.Get(ep.Target())
		if err != nil {
			storage.LogFor(storage.ProviderNetwork, ep.Key()).WithError(err).Warn("keyring lookup failed")
		} else if found {
			c.remember(ep, cred)
			return cred, credKeyring
		}
	}
	if c.anonymousFTP && (ep.Scheme == "ftp" || ep.Scheme == "ftps") {
		return secret.Credential{User: constants.AnonymousFTPUser, Password: constants.AnonymousFTPPassword}, credAnonymous
	}
	return secret.Credential{}, credNone
}

func (c *credentials) remember(ep Endpoint, cred secret.Credential) {
	c.mu.Lock()
	c.mem[ep.Key()] = cred
	c.mu.Unlock()
}

func (c *credentials) forget(ep Endpoint) {
	c.mu.Lock()
	delete(c.mem, ep.Key())
	c.mu.Unlock()
}

// save writes working credentials to the keyring. Failure only costs a
// prompt next time, so it is logged and swallowed.
func (c *credentials) save(ep Endpoint, cred secret.Credential) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(ep.Target(), cred); err != nil {
		storage.LogFor(storage.ProviderNetwork, ep.Key()).WithError(err).Warn("could not persist credentials")
	}
}
