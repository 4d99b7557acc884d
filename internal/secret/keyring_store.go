package secret

import (
	"errors"
	"strings"

	"github.com/99designs/keyring"

	"nmfstore/internal/constants"
)

type keyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore tries to open the OS keyring via 99designs/keyring.
// If it fails, returns an error so callers can fallback to memory.
func NewKeyringStore() (Store, error) {
	r, err := keyring.Open(keyring.Config{ServiceName: constants.KeyringServiceName})
	if err != nil {
		return nil, err
	}
	return &keyringStore{ring: r}, nil
}

// newStoreWithRing wraps an already opened ring, e.g. keyring.NewArrayKeyring in tests.
func newStoreWithRing(r keyring.Keyring) Store {
	return &keyringStore{ring: r}
}

func (s *keyringStore) Get(target string) (Credential, bool, error) {
	item, err := s.ring.Get(target)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	// User/domain live in item.Description as "domain\user"; password in item.Data
	c := Credential{Password: string(item.Data)}
	c.Domain, c.User = splitAccount(item.Description)
	return c, true, nil
}

func (s *keyringStore) Set(target string, c Credential) error {
	desc := c.User
	if c.Domain != "" {
		desc = c.Domain + "\\" + c.User
	}
	return s.ring.Set(keyring.Item{
		Key:         target,
		Data:        []byte(c.Password),
		Description: desc,
		Label:       constants.KeyringServiceName + " " + target,
	})
}

func (s *keyringStore) Delete(target string) error {
	err := s.ring.Remove(target)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// splitAccount parses "domain\user", "domain;user" or "user".
func splitAccount(desc string) (domain, user string) {
	if i := strings.IndexAny(desc, `\;`); i >= 0 {
		return desc[:i], desc[i+1:]
	}
	return "", desc
}
