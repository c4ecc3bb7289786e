package crypto_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	public, secret, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	msg := []byte("link payload")
	sig := crypto.Sign(msg, secret)
	assert.True(t, crypto.Verify(msg, sig, public))
	assert.False(t, crypto.Verify([]byte("tampered"), sig, public))
}

func TestSealUnseal(t *testing.T) {
	recipientPublic, recipientSecret, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	msg := []byte("secret keyset")
	sealed, err := crypto.Seal(msg, recipientPublic, nil)
	require.NoError(t, err)

	opened, err := crypto.Unseal(sealed, nil, recipientSecret)
	require.NoError(t, err)
	assert.Equal(t, msg, opened)
}

func TestAEADRoundTrip(t *testing.T) {
	key := crypto.NewSymmetricKey(crypto.Random(crypto.KeySize))

	msg := []byte("application payload")
	ciphertext, err := crypto.AEADEncrypt(msg, key)
	require.NoError(t, err)

	plaintext, err := crypto.AEADDecrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, msg, plaintext)

	_, err = crypto.AEADDecrypt(ciphertext, crypto.NewSymmetricKey(crypto.Random(crypto.KeySize)))
	assert.Error(t, err)
}

func TestHashIsDomainTagged(t *testing.T) {
	a := crypto.Hash("device_id", []byte("payload"))
	b := crypto.Hash("invitation_id", []byte("payload"))
	assert.NotEqual(t, a, b)
}

func TestStretchIsDeterministic(t *testing.T) {
	k1, err := crypto.Stretch("abcd-efgh-ijkl-mnop")
	require.NoError(t, err)
	k2, err := crypto.Stretch("abcd-efgh-ijkl-mnop")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := crypto.Stretch("different-secret")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := crypto.Random(32)
	s := crypto.Encode(b)
	decoded, err := crypto.Decode(s)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}
