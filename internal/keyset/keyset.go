// Package keyset implements typed keysets and the lockbox scheme that
// distributes their secrets between principals (spec.md §3, §4.B).
package keyset

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/piprate/teamkeep/internal/crypto"
)

// Scope is the namespace a keyset belongs to.
type Scope string

const (
	ScopeTeam      Scope = "TEAM"
	ScopeRole      Scope = "ROLE"
	ScopeMember    Scope = "MEMBER"
	ScopeDevice    Scope = "DEVICE"
	ScopeServer    Scope = "SERVER"
	ScopeEphemeral Scope = "EPHEMERAL"
)

// KeyPair is one half (signature or encryption) of a Keyset. Secret is nil
// on the public-only form that is allowed to appear on the signature graph.
type KeyPair struct {
	Public string `json:"publicKey"`
	Secret string `json:"secretKey,omitempty"`
}

// Keyset is a named, generation-versioned pair of Ed25519 keypairs: one for
// signing, one for encryption (sealing/unsealing lockboxes). Equality is by
// (Scope, Name, Generation) — spec.md §3.
type Keyset struct {
	Scope      Scope   `json:"scope"`
	Name       string  `json:"name"`
	Generation uint32  `json:"generation"`
	Signature  KeyPair `json:"signature"`
	Encryption KeyPair `json:"encryption"`
}

// ID identifies a keyset by its equality triple, independent of its keys.
type ID struct {
	Scope      Scope
	Name       string
	Generation uint32
}

func (ks Keyset) ID() ID {
	return ID{Scope: ks.Scope, Name: ks.Name, Generation: ks.Generation}
}

// SigningPublicKey decodes the Ed25519 signature public key.
func (ks Keyset) SigningPublicKey() (ed25519.PublicKey, error) {
	b, err := crypto.Decode(ks.Signature.Public)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(b), nil
}

// SigningSecretKey decodes the Ed25519 signature secret key, if present.
func (ks Keyset) SigningSecretKey() (ed25519.PrivateKey, error) {
	if ks.Signature.Secret == "" {
		return nil, errors.New("keyset: signing secret not held")
	}
	b, err := crypto.Decode(ks.Signature.Secret)
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(b), nil
}

// EncryptionPublicKey decodes the Ed25519 encryption public key.
func (ks Keyset) EncryptionPublicKey() (ed25519.PublicKey, error) {
	b, err := crypto.Decode(ks.Encryption.Public)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(b), nil
}

// EncryptionSecretKey decodes the Ed25519 encryption secret key, if present.
func (ks Keyset) EncryptionSecretKey() (ed25519.PrivateKey, error) {
	if ks.Encryption.Secret == "" {
		return nil, errors.New("keyset: encryption secret not held")
	}
	b, err := crypto.Decode(ks.Encryption.Secret)
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(b), nil
}

// HasSecrets reports whether ks carries any secret key material. Only
// keysets without secrets may ever be posted to the signature graph.
func (ks Keyset) HasSecrets() bool {
	return ks.Signature.Secret != "" || ks.Encryption.Secret != ""
}

// Redact strips secrets from ks, yielding the public-only form that is safe
// to post on the graph.
func Redact(ks Keyset) Keyset {
	return Keyset{
		Scope:      ks.Scope,
		Name:       ks.Name,
		Generation: ks.Generation,
		Signature:  KeyPair{Public: ks.Signature.Public},
		Encryption: KeyPair{Public: ks.Encryption.Public},
	}
}

// deriveEdKey derives an Ed25519 keypair from an HD extended key and a
// domain tag, the way the teacher derives storage access keys: hash an HD
// child's serialized bytes under a purpose tag, and use the 32-byte result
// as an Ed25519 seed (model.DeriveStorageAccessKey generalized from one
// fixed purpose to an arbitrary domain tag).
func deriveEdKey(child *hdkeychain.ExtendedKey, tag string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	childPriv, err := child.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}
	seed := crypto.Hash(tag, childPriv.Serialize())
	priv := ed25519.NewKeyFromSeed(seed)
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[32:])
	return pub, priv, nil
}

// CreateKeyset derives a signature keypair and an encryption keypair for
// (scope, name) at generation 0 from one seed. If seed is empty, a fresh
// random 32-byte seed is used. Both keypairs are reproducible from the seed
// alone via two disjoint HD child paths (grounds: model.GenerateNewHDKey +
// LockerParticipant, generalized from one derived key per record index to
// two derived keys per keyset).
func CreateKeyset(scope Scope, name string, seed []byte) (Keyset, error) {
	return createKeyset(scope, name, 0, seed)
}

// RotateKeyset derives a fresh keyset for the same (scope, name) at
// generation+1. Per spec.md §3, the old keyset is never replaced in place —
// rotation only ever adds a new generation.
func RotateKeyset(prev Keyset, seed []byte) (Keyset, error) {
	return createKeyset(prev.Scope, prev.Name, prev.Generation+1, seed)
}

func createKeyset(scope Scope, name string, generation uint32, seed []byte) (Keyset, error) {
	if len(seed) == 0 {
		seed = crypto.Random(32)
	}
	if len(seed) < hdkeychain.RecommendedSeedLen {
		padded := make([]byte, hdkeychain.RecommendedSeedLen)
		copy(padded[hdkeychain.RecommendedSeedLen-len(seed):], seed)
		seed = padded
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return Keyset{}, fmt.Errorf("keyset: failed to derive master key: %w", err)
	}

	sigChild, err := master.Derive(0)
	if err != nil {
		return Keyset{}, fmt.Errorf("keyset: failed to derive signature child: %w", err)
	}
	encChild, err := master.Derive(1)
	if err != nil {
		return Keyset{}, fmt.Errorf("keyset: failed to derive encryption child: %w", err)
	}

	sigPub, sigSec, err := deriveEdKey(sigChild, "teamkeep-signature-key")
	if err != nil {
		return Keyset{}, err
	}
	encPub, encSec, err := deriveEdKey(encChild, "teamkeep-encryption-key")
	if err != nil {
		return Keyset{}, err
	}

	return Keyset{
		Scope:      scope,
		Name:       name,
		Generation: generation,
		Signature: KeyPair{
			Public: crypto.Encode(sigPub),
			Secret: crypto.Encode(sigSec),
		},
		Encryption: KeyPair{
			Public: crypto.Encode(encPub),
			Secret: crypto.Encode(encSec),
		},
	}, nil
}
