// Package memstore is an in-memory storage.Store, for tests and for
// hosts (e.g. a relay) that need no durability across restarts.
package memstore

import (
	"sync"

	"github.com/piprate/teamkeep/storage"
)

func init() {
	storage.Register("memory", New)
}

// MemStore is a storage.Store backed by a plain map, guarded by a mutex.
type MemStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

var _ storage.Store = (*MemStore)(nil)

// New returns an empty MemStore. params is accepted for symmetry with
// other storage.Constructor backends; it is ignored.
func New(params storage.Parameters) (storage.Store, error) {
	return &MemStore{blobs: make(map[string][]byte)}, nil
}

// Save writes blob under teamName, replacing any prior value.
func (m *MemStore) Save(teamName string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[teamName] = append([]byte(nil), blob...)
	return nil
}

// Load returns the blob last saved under teamName.
func (m *MemStore) Load(teamName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[teamName]
	if !ok {
		return nil, storage.ErrTeamNotFound
	}
	return append([]byte(nil), blob...), nil
}

// Delete removes teamName's blob.
func (m *MemStore) Delete(teamName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[teamName]; !ok {
		return storage.ErrTeamNotFound
	}
	delete(m.blobs, teamName)
	return nil
}

// List returns every team name with a saved blob.
func (m *MemStore) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		names = append(names, name)
	}
	return names, nil
}

// Close is a no-op; MemStore holds no external resources.
func (m *MemStore) Close() error { return nil }
