package keyset

import (
	"crypto/ed25519"
	"fmt"

	"github.com/piprate/teamkeep/internal/crypto"
)

// Recipient identifies, by public key, the keyset a lockbox is sealed to.
type Recipient struct {
	Scope      Scope  `json:"scope"`
	Name       string `json:"name"`
	Generation uint32 `json:"generation"`
	PublicKey  string `json:"publicKey"`
}

// Contents identifies, by public key, the keyset a lockbox's payload
// belongs to (the keyset that can be recovered once opened).
type Contents struct {
	Scope      Scope  `json:"scope"`
	Name       string `json:"name"`
	Generation uint32 `json:"generation"`
	PublicKey  string `json:"publicKey"`
}

// Lockbox seals one full keyset (Contents) to the encryption public key of
// another keyset (Recipient), using a single-use ephemeral keypair — see
// spec.md §3, §4.B. Any holder of Recipient's secret encryption key can
// recover Contents.
type Lockbox struct {
	EncryptionKey string    `json:"encryptionKey"`
	Recipient     Recipient `json:"recipient"`
	Contents      Contents  `json:"contents"`
	Payload       []byte    `json:"encryptedPayload"`
}

func recipientOf(ks Keyset) (Recipient, error) {
	pub, err := ks.EncryptionPublicKey()
	if err != nil {
		return Recipient{}, err
	}
	return Recipient{Scope: ks.Scope, Name: ks.Name, Generation: ks.Generation, PublicKey: crypto.Encode(pub)}, nil
}

// CreateLockbox seals contents (its full, secret-bearing form) to
// recipient's encryption public key. The ephemeral signing keypair named in
// EncryptionKey is single-use and discarded once sealing completes.
func CreateLockbox(contents Keyset, recipient Keyset) (Lockbox, error) {
	recipientPub, err := recipient.EncryptionPublicKey()
	if err != nil {
		return Lockbox{}, fmt.Errorf("lockbox: bad recipient: %w", err)
	}

	ephemeralPub, ephemeralSec, err := ed25519GenerateKey()
	if err != nil {
		return Lockbox{}, err
	}

	contentsBytes, err := marshalKeyset(contents)
	if err != nil {
		return Lockbox{}, err
	}

	sealed, err := crypto.Seal(contentsBytes, recipientPub, ephemeralSec)
	if err != nil {
		return Lockbox{}, fmt.Errorf("lockbox: seal failed: %w", err)
	}

	rcpt, err := recipientOf(recipient)
	if err != nil {
		return Lockbox{}, err
	}
	contentsPub, err := contents.EncryptionPublicKey()
	if err != nil {
		return Lockbox{}, err
	}

	return Lockbox{
		EncryptionKey: crypto.Encode(ephemeralPub),
		Recipient:     rcpt,
		Contents: Contents{
			Scope:      contents.Scope,
			Name:       contents.Name,
			Generation: contents.Generation,
			PublicKey:  crypto.Encode(contentsPub),
		},
		Payload: sealed,
	}, nil
}

// OpenLockbox recovers the full keyset sealed in lb using the recipient's
// encryption secret key.
func OpenLockbox(lb Lockbox, recipientSecret ed25519.PrivateKey) (Keyset, error) {
	plaintext, err := crypto.Unseal(lb.Payload, nil, recipientSecret)
	if err != nil {
		return Keyset{}, fmt.Errorf("lockbox: unseal failed: %w", err)
	}
	return unmarshalKeyset(plaintext)
}

// RotateLockbox re-seals newContents (typically the rotated, generation+1
// form of the same scope) to the same recipient public key a prior lockbox
// targeted, without needing the recipient's secret key.
func RotateLockbox(oldLb Lockbox, newContents Keyset, recipient Keyset) (Lockbox, error) {
	if recipient.Encryption.Public != oldLb.Recipient.PublicKey {
		return Lockbox{}, fmt.Errorf("lockbox: recipient public key does not match original lockbox")
	}
	return CreateLockbox(newContents, recipient)
}

func ed25519GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}
