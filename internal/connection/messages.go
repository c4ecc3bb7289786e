// Package connection implements the per-peer protocol state machine spec.md
// §4.F describes: identity claim/challenge/prove, invitation admission,
// graph synchronization, session seeding, and a steady state of encrypted
// application messages. One Connection serializes exactly one peer
// relationship; a host owns as many as it has peers.
package connection

import (
	"time"

	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/invitation"
)

// MessageType tags the wire union spec.md §6 names.
type MessageType string

const (
	TypeRequestIdentity   MessageType = "REQUEST_IDENTITY"
	TypeClaimIdentity     MessageType = "CLAIM_IDENTITY"
	TypeChallengeIdentity MessageType = "CHALLENGE_IDENTITY"
	TypeProveIdentity     MessageType = "PROVE_IDENTITY"
	TypeAcceptIdentity    MessageType = "ACCEPT_IDENTITY"
	TypeRejectIdentity    MessageType = "REJECT_IDENTITY"
	TypeAcceptInvitation  MessageType = "ACCEPT_INVITATION"
	TypeSync              MessageType = "SYNC"
	TypeLocalUpdate       MessageType = "LOCAL_UPDATE"
	TypeSeed              MessageType = "SEED"
	TypeEncryptedMessage  MessageType = "ENCRYPTED_MESSAGE"
	TypeDisconnect        MessageType = "DISCONNECT"
	TypeError             MessageType = "ERROR"
	TypeLocalError        MessageType = "LOCAL_ERROR"
)

// Challenge is the nonce a side issues to make the other prove possession of
// a device signing secret (spec.md §4.F step 4).
type Challenge struct {
	Nonce     string `json:"nonce"`
	Scope     string `json:"scope"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectionMessage is the tagged union of every message a Connection can
// send or receive. Exactly the fields relevant to Type are populated; the
// rest are left zero.
type ConnectionMessage struct {
	Type MessageType `json:"type"`

	// CLAIM_IDENTITY
	DeviceID          string                       `json:"deviceId,omitempty"`
	ProofOfInvitation *invitation.ProofOfInvitation `json:"proofOfInvitation,omitempty"`

	// CHALLENGE_IDENTITY / PROVE_IDENTITY
	Challenge *Challenge `json:"challenge,omitempty"`
	Proof     string     `json:"proof,omitempty"`

	// REJECT_IDENTITY / DISCONNECT / ERROR / LOCAL_ERROR
	Message string `json:"message,omitempty"`

	// ACCEPT_INVITATION
	SerializedGraph []byte `json:"serializedGraph,omitempty"`
	TeamKeyring     []byte `json:"teamKeyring,omitempty"`

	// SYNC
	KnownHeads []string              `json:"knownHeads,omitempty"`
	Links      map[string]graph.Link `json:"links,omitempty"`

	// LOCAL_UPDATE
	Head string `json:"head,omitempty"`

	// SEED
	EncryptedSeed []byte `json:"encryptedSeed,omitempty"`

	// ENCRYPTED_MESSAGE
	Ciphertext []byte `json:"ciphertext,omitempty"`
}

// NumberedConnectionMessage wraps a ConnectionMessage with the monotone
// per-sender sequence number spec.md §4.F / §6 requires, so the receiver can
// detect loss or reordering.
type NumberedConnectionMessage struct {
	Index   uint32            `json:"index"`
	Message ConnectionMessage `json:"message"`
}

// Transport is the send half a host supplies; Connection never dials or
// listens itself, matching spec.md §5's "no blocking calls on hot paths"
// (a Transport implementation may block, but that is the host's concern).
type Transport interface {
	Send(NumberedConnectionMessage) error
}

// reorderWindow bounds how far ahead of the next expected index an inbound
// message is tolerated before a resync is requested (spec.md §4.F
// "Failure and ordering").
const reorderWindow = 8

// substateTimeout is the default per-substate deadline (spec.md §4.F).
const substateTimeout = 30 * time.Second
