// Package crypto is a thin facade over the primitives the rest of this
// module needs: signing, sender-anonymous sealing, symmetric AEAD, a
// domain-tagged keyed hash, a deliberately slow key-stretch function and
// randomness. Every byte string that leaves this package in a wire message
// or on the graph is base-encoded through Encode.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"

	"github.com/jamesruan/sodium"
	"golang.org/x/crypto/scrypt"
)

// KeySize is the size, in bytes, of a symmetric AEAD key.
const KeySize = 32

// SymmetricKey is a 256-bit AES-GCM key.
type SymmetricKey [KeySize]byte

func (k SymmetricKey) Bytes() []byte { return k[:] }

// NewSymmetricKey wraps val (which must be KeySize bytes) in a SymmetricKey.
func NewSymmetricKey(val []byte) SymmetricKey {
	var k SymmetricKey
	copy(k[:], val)
	return k
}

// Sign signs payload with an Ed25519 secret key.
func Sign(payload []byte, secret ed25519.PrivateKey) []byte {
	return ed25519.Sign(secret, payload)
}

// Verify reports whether sig is a valid Ed25519 signature of payload under public.
func Verify(payload, sig []byte, public ed25519.PublicKey) bool {
	if len(public) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(public, payload, sig)
}

// Seal anonymously encrypts plaintext to recipientPublic using a libsodium
// sealed box: an ephemeral keypair is generated internally, so only the
// holder of recipientPublic's matching secret key can recover plaintext,
// and the sender's identity is not bound to the ciphertext. senderSecret is
// accepted for symmetry with callers that hold a sender identity but is not
// used to authenticate the seal — see DESIGN.md for why this module follows
// the teacher's receiver-anonymous scheme rather than an authenticated one.
func Seal(plaintext []byte, recipientPublic ed25519.PublicKey, _ ed25519.PrivateKey) ([]byte, error) {
	if len(recipientPublic) != ed25519.PublicKeySize {
		return nil, errors.New("crypto: bad recipient public key size")
	}
	boxPublicKey := sodium.SignPublicKey{Bytes: recipientPublic}.ToBox()
	return sodium.Bytes(plaintext).SealedBox(boxPublicKey), nil
}

// Unseal opens a box produced by Seal using the recipient's Ed25519 secret
// key. senderPublic is accepted for interface symmetry with Seal/spec.md
// §4.A but is not required by a sealed box and is ignored.
func Unseal(ciphertext []byte, _ ed25519.PublicKey, recipientSecret ed25519.PrivateKey) (plaintext []byte, err error) {
	if len(recipientSecret) != ed25519.PrivateKeySize {
		return nil, errors.New("crypto: bad recipient secret key size")
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("crypto: unseal failed")
		}
	}()

	publicKey := recipientSecret[32:]
	spk := sodium.SignPublicKey{Bytes: publicKey}
	sk := sodium.SignSecretKey{Bytes: recipientSecret}

	opened, serr := sodium.Bytes(ciphertext).SealedBoxOpen(sodium.BoxKP{
		PublicKey: spk.ToBox(),
		SecretKey: sk.ToBox(),
	})
	if serr != nil {
		return nil, serr
	}
	return []byte(opened), nil
}

// AEADEncrypt encrypts plaintext with 256-bit AES-GCM. The output takes the
// form nonce|ciphertext|tag.
func AEADEncrypt(plaintext []byte, key SymmetricKey) ([]byte, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// AEADDecrypt reverses AEADEncrypt.
func AEADDecrypt(ciphertext []byte, key SymmetricKey) ([]byte, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("crypto: malformed ciphertext")
	}

	return gcm.Open(nil, ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():], nil)
}

// Hash computes a domain-tagged keyed hash (HMAC-SHA-512/256). tag is a
// natural-language string describing the purpose of the hash, such as
// "link" or "invitation_id", and ensures different purposes never collide.
func Hash(tag string, data []byte) []byte {
	h := hmac.New(sha512.New512_256, []byte(tag))
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// scryptN, scryptR, scryptP are interactive-strength scrypt parameters.
// This module has no browser target, so unlike the teacher's default
// (tuned down for WASM/browser use) these are left at scrypt's own
// recommended interactive cost.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Stretch derives a 32-byte symmetric key from a low-entropy secret (an
// invitation code or passphrase) using scrypt. It is deliberately slow to
// resist offline brute-force.
func Stretch(secret string) (SymmetricKey, error) {
	salt := Hash("teamkeep-stretch-salt", []byte(secret))
	derived, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return SymmetricKey{}, err
	}
	return NewSymmetricKey(derived), nil
}

// Random returns n cryptographically random bytes.
func Random(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}

// Encode base64-URL-encodes (no padding) b for use on the wire or in JSON.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
