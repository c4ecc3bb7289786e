package storage_test

import (
	"testing"

	"github.com/piprate/teamkeep/storage"
	"github.com/stretchr/testify/require"
)

type fakeStore struct{}

func (fakeStore) Save(string, []byte) error   { return nil }
func (fakeStore) Load(string) ([]byte, error) { return nil, nil }
func (fakeStore) Delete(string) error         { return nil }
func (fakeStore) List() ([]string, error)     { return nil, nil }
func (fakeStore) Close() error                { return nil }

func TestCreateUnknownBackend(t *testing.T) {
	_, err := storage.Create("does-not-exist", nil)
	require.Error(t, err)
}

func TestRegisterAndCreate(t *testing.T) {
	storage.Register("test-fake", func(storage.Parameters) (storage.Store, error) {
		return fakeStore{}, nil
	})

	s, err := storage.Create("test-fake", nil)
	require.NoError(t, err)
	require.NotNil(t, s)
}
