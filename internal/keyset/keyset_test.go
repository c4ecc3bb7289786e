package keyset_test

import (
	"testing"

	"github.com/piprate/teamkeep/internal/keyset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateKeysetIsReproducibleFromSeed(t *testing.T) {
	seed := []byte("a-fixed-test-seed-value-32bytes!")

	a, err := keyset.CreateKeyset(keyset.ScopeTeam, "t", seed)
	require.NoError(t, err)
	b, err := keyset.CreateKeyset(keyset.ScopeTeam, "t", seed)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, a.HasSecrets())
}

func TestRotateKeysetIncrementsGeneration(t *testing.T) {
	ks, err := keyset.CreateKeyset(keyset.ScopeRole, "admin", nil)
	require.NoError(t, err)

	rotated, err := keyset.RotateKeyset(ks, nil)
	require.NoError(t, err)

	assert.Equal(t, ks.Generation+1, rotated.Generation)
	assert.NotEqual(t, ks.Signature.Public, rotated.Signature.Public)
}

func TestRedactStripsSecrets(t *testing.T) {
	ks, err := keyset.CreateKeyset(keyset.ScopeMember, "alice", nil)
	require.NoError(t, err)

	red := keyset.Redact(ks)
	assert.False(t, red.HasSecrets())
	assert.Equal(t, ks.Signature.Public, red.Signature.Public)
}

func TestLockboxRoundTrip(t *testing.T) {
	recipient, err := keyset.CreateKeyset(keyset.ScopeMember, "bob", nil)
	require.NoError(t, err)

	contents, err := keyset.CreateKeyset(keyset.ScopeTeam, "t", nil)
	require.NoError(t, err)

	lb, err := keyset.CreateLockbox(contents, recipient)
	require.NoError(t, err)

	secret, err := recipient.EncryptionSecretKey()
	require.NoError(t, err)

	opened, err := keyset.OpenLockbox(lb, secret)
	require.NoError(t, err)
	assert.Equal(t, contents, opened)
}

func TestKeyringExpandsToFixpoint(t *testing.T) {
	member, err := keyset.CreateKeyset(keyset.ScopeMember, "alice", nil)
	require.NoError(t, err)

	team, err := keyset.CreateKeyset(keyset.ScopeTeam, "t", nil)
	require.NoError(t, err)
	role, err := keyset.CreateKeyset(keyset.ScopeRole, "admin", nil)
	require.NoError(t, err)

	teamLb, err := keyset.CreateLockbox(team, member)
	require.NoError(t, err)
	// role lockbox sealed to the team keyset (transitively reachable)
	roleLb, err := keyset.CreateLockbox(role, team)
	require.NoError(t, err)

	kr := keyset.NewKeyring(member)
	n := kr.Expand([]keyset.Lockbox{roleLb, teamLb})
	assert.Equal(t, 2, n)

	_, err = kr.Get(team.ID())
	require.NoError(t, err)
	_, err = kr.Get(role.ID())
	require.NoError(t, err)
}

func TestKeyringNotFound(t *testing.T) {
	member, err := keyset.CreateKeyset(keyset.ScopeMember, "alice", nil)
	require.NoError(t, err)

	kr := keyset.NewKeyring(member)
	_, err = kr.Get(keyset.ID{Scope: keyset.ScopeTeam, Name: "t", Generation: 0})
	assert.ErrorIs(t, err, keyset.ErrNotFound)
}
