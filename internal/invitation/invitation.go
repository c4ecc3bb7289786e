// Package invitation implements the sealed-invitation scheme spec.md §4.E
// describes: a link is invited by a stretched shared secret rather than a
// pre-distributed keyset, so the invitee need not be known to the team
// ahead of time. create seals an invitation payload under the team's
// symmetric key and a single-use signing keypair derived from the secret;
// accept lets the invitee produce a signed proof without any prior contact
// with the team; validate checks that proof against the posted invitation.
//
// This package has no dependency on internal/team: the host-facing team
// façade and the connection protocol (component F) are the only callers
// that bridge an invitation.Posted record into the team package's
// POST_INVITATION action, and a PostedInvitationView into validate.
package invitation

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/jsonw"
)

// Kind distinguishes a member invitation from a device invitation.
type Kind string

const (
	KindMember Kind = "MEMBER"
	KindDevice Kind = "DEVICE"
)

// Failure kinds named by spec.md §4.E / §7.
var (
	ErrNotFound         = errors.New("invitation: not found")
	ErrRevoked          = errors.New("invitation: revoked")
	ErrUsed             = errors.New("invitation: used")
	ErrExpired          = errors.New("invitation: expired")
	ErrNameMismatch     = errors.New("invitation: name mismatch")
	ErrBadSignature     = errors.New("invitation: bad signature")
	ErrDecryptionFailed = errors.New("invitation: decryption failed")
)

// timeNow is substitutable so expiration checks in tests don't depend on
// wall-clock time.
var timeNow = time.Now

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeSecret lowercases secret and strips everything but letters and
// digits, so that "Abcd-Efgh Ijkl_mnop" and "abcdefghijklmnop" derive the
// same keypair.
func normalizeSecret(secret string) string {
	return nonAlphanumeric.ReplaceAllString(strings.ToLower(secret), "")
}

// deriveSigningKey stretches secret and uses the result as an Ed25519 seed
// (grounds: keyset.deriveEdKey's "hash under a purpose tag, use the 32 bytes
// as a seed" pattern, applied to a stretched low-entropy secret instead of
// an HD child key).
func deriveSigningKey(secret string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	stretched, err := crypto.Stretch(normalizeSecret(secret))
	if err != nil {
		return nil, nil, err
	}
	seed := crypto.Hash("invitation_signing_key", stretched.Bytes())
	priv := ed25519.NewKeyFromSeed(seed)
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[32:])
	return pub, priv, nil
}

// Payload is the decrypted body of a posted invitation. UserName/DeviceID
// are empty for an open invitation (any invitee may name themselves in
// accept); when set, validate rejects a proof naming anyone else.
type Payload struct {
	Type       Kind       `json:"type"`
	UserName   string     `json:"userName,omitempty"`
	DeviceID   string     `json:"deviceId,omitempty"`
	PublicKeys string     `json:"publicKeys"`
	Roles      []string   `json:"roles,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
	MaxUses    int        `json:"maxUses"`
}

// Posted is what Create returns: the fields a team.PostedInvitation link
// carries. UsesCount and Revoked are reducer-owned bookkeeping, not part of
// this record.
type Posted struct {
	ID               string
	EncryptedPayload []byte
	PublicSigningKey string
	MaxUses          int
	Expiration       *time.Time
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	TeamKey    crypto.SymmetricKey
	Type       Kind
	UserName   string
	DeviceID   string
	SecretKey  string
	MaxUses    int
	Expiration *time.Time
	Roles      []string
}

// Create normalizes secretKey, stretches it, derives a single-use signing
// keypair, and seals the resulting invitation payload under teamKey.
func Create(p CreateParams) (Posted, error) {
	pub, _, err := deriveSigningKey(p.SecretKey)
	if err != nil {
		return Posted{}, err
	}

	payload := Payload{
		Type:       p.Type,
		UserName:   p.UserName,
		DeviceID:   p.DeviceID,
		PublicKeys: crypto.Encode(pub),
		Roles:      p.Roles,
		Expiration: p.Expiration,
		MaxUses:    p.MaxUses,
	}
	raw, err := jsonw.Marshal(payload)
	if err != nil {
		return Posted{}, err
	}
	encrypted, err := crypto.AEADEncrypt(raw, p.TeamKey)
	if err != nil {
		return Posted{}, err
	}

	return Posted{
		ID:               crypto.Encode(crypto.Hash("invitation_id", pub)),
		EncryptedPayload: encrypted,
		PublicSigningKey: crypto.Encode(pub),
		MaxUses:          p.MaxUses,
		Expiration:       p.Expiration,
	}, nil
}

// Principal is the invitee's own public identity, carried in a proof of
// invitation so the admitting peer can bind the accepted secret to a
// specific member or device keyset.
type Principal struct {
	UserName   string `json:"userName,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	PublicKeys string `json:"publicKeys"`
}

// ProofOfInvitation is produced by Accept and carried to the admitting peer
// (over CLAIM_IDENTITY in the connection protocol, spec.md §4.F).
type ProofOfInvitation struct {
	ID        string    `json:"id"`
	Type      Kind      `json:"type"`
	Payload   Principal `json:"payload"`
	Signature string    `json:"signature"`
}

// signableTuple is the canonical byte form Accept signs and Validate
// re-derives: binds the claimed kind, name, and public keys together so a
// proof cannot be replayed against a swapped identity.
func signableTuple(kind Kind, name, publicKeys string) ([]byte, error) {
	return jsonw.Marshal([]string{string(kind), name, publicKeys})
}

// Accept stretches secretKey, re-derives the single-use signing keypair,
// and signs principal's identity with it. principal is the invitee's own
// redacted public keys, already generated locally — accept does not invent
// an identity, only proves possession of the invitation secret for it.
func Accept(kind Kind, secretKey string, principal Principal) (ProofOfInvitation, error) {
	pub, priv, err := deriveSigningKey(secretKey)
	if err != nil {
		return ProofOfInvitation{}, err
	}

	name := principal.UserName
	if kind == KindDevice {
		name = principal.DeviceID
	}
	tuple, err := signableTuple(kind, name, principal.PublicKeys)
	if err != nil {
		return ProofOfInvitation{}, err
	}

	return ProofOfInvitation{
		ID:        crypto.Encode(crypto.Hash("invitation_id", pub)),
		Type:      kind,
		Payload:   principal,
		Signature: crypto.Encode(crypto.Sign(tuple, priv)),
	}, nil
}

// PostedInvitationView is the subset of a posted invitation's fields
// Validate needs; callers (the host façade, the connection protocol) build
// one from their own team.PostedInvitation record.
type PostedInvitationView struct {
	Type             Kind
	EncryptedPayload []byte
	PublicSigningKey string
	Revoked          bool
	UsesCount        int
	MaxUses          int
	Expiration       *time.Time
}

// Validate decrypts posted's payload with teamKey and checks proof against
// it: identity match, signature, expiration, and use count.
func Validate(proof ProofOfInvitation, posted PostedInvitationView, teamKey crypto.SymmetricKey) error {
	if posted.Revoked {
		return ErrRevoked
	}
	if posted.MaxUses > 0 && posted.UsesCount >= posted.MaxUses {
		return ErrUsed
	}
	if posted.Expiration != nil && timeNow().After(*posted.Expiration) {
		return ErrExpired
	}

	raw, err := crypto.AEADDecrypt(posted.EncryptedPayload, teamKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	var payload Payload
	if err := jsonw.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invitation: corrupt payload: %w", err)
	}

	switch payload.Type {
	case KindMember:
		if payload.UserName != "" && proof.Payload.UserName != payload.UserName {
			return ErrNameMismatch
		}
	case KindDevice:
		if payload.DeviceID != "" && proof.Payload.DeviceID != payload.DeviceID {
			return ErrNameMismatch
		}
	}

	name := proof.Payload.UserName
	if payload.Type == KindDevice {
		name = proof.Payload.DeviceID
	}
	tuple, err := signableTuple(payload.Type, name, proof.Payload.PublicKeys)
	if err != nil {
		return err
	}

	pub, err := crypto.Decode(posted.PublicSigningKey)
	if err != nil {
		return fmt.Errorf("invitation: bad public key: %w", err)
	}
	sig, err := crypto.Decode(proof.Signature)
	if err != nil {
		return ErrBadSignature
	}
	if !crypto.Verify(tuple, sig, ed25519.PublicKey(pub)) {
		return ErrBadSignature
	}
	return nil
}
