package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/piprate/teamkeep/storage"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teams.bolt")
	s, err := New(storage.Parameters{"path": path})
	require.NoError(t, err)
	bs := s.(*BoltStore)
	t.Cleanup(func() { _ = bs.Close() })
	return bs
}

func TestMissingPathRejected(t *testing.T) {
	_, err := New(storage.Parameters{})
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("acme", []byte("blob one")))
	blob, err := s.Load("acme")
	require.NoError(t, err)
	require.Equal(t, []byte("blob one"), blob)

	require.NoError(t, s.Save("acme", []byte("blob two")))
	blob, err = s.Load("acme")
	require.NoError(t, err)
	require.Equal(t, []byte("blob two"), blob)
}

func TestLoadMissingTeam(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load("ghost")
	require.ErrorIs(t, err, storage.ErrTeamNotFound)
}

func TestListAndDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("acme", []byte("a")))
	require.NoError(t, s.Save("globex", []byte("b")))

	names, err := s.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"acme", "globex"}, names)

	require.NoError(t, s.Delete("acme"))
	require.ErrorIs(t, s.Delete("acme"), storage.ErrTeamNotFound)

	names, err = s.List()
	require.NoError(t, err)
	require.Equal(t, []string{"globex"}, names)
}

func TestRegisteredViaStorageCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teams.bolt")
	s, err := storage.Create("bolt", storage.Parameters{"path": path})
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NoError(t, s.Close())
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teams.bolt")

	s1, err := New(storage.Parameters{"path": path})
	require.NoError(t, err)
	require.NoError(t, s1.Save("acme", []byte("durable")))
	require.NoError(t, s1.Close())

	s2, err := New(storage.Parameters{"path": path})
	require.NoError(t, err)
	defer s2.Close()
	blob, err := s2.Load("acme")
	require.NoError(t, err)
	require.Equal(t, []byte("durable"), blob)
}
