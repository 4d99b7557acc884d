package secret

import "sync"

// MemoryStore keeps credentials for the lifetime of the process.
// It is the fallback when no OS keyring is available.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Credential)}
}

func (m *MemoryStore) Get(target string) (Credential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[target]
	return c, ok, nil
}

func (m *MemoryStore) Set(target string, c Credential) error {
	m.mu.Lock()
	m.items[target] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(target string) error {
	m.mu.Lock()
	delete(m.items, target)
	m.mu.Unlock()
	return nil
}

// Open returns the keyring store, or a MemoryStore when the keyring cannot be opened.
func Open() (Store, error) {
	s, err := NewKeyringStore()
	if err != nil {
		return NewMemoryStore(), err
	}
	return s, nil
}
