package connection

import (
	"crypto/ed25519"

	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/identity"
	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/piprate/teamkeep/internal/team"
)

// Host is the surface a Connection needs from the team instance that owns
// it. A host serializes every mutation through one dispatch (spec.md §5),
// so these methods are called from a Connection's own single goroutine and
// never concurrently with one another for the same host.
type Host interface {
	// LocalContext reports which identity.Context this side is connecting
	// as: an existing member's device, a server, or an invitee.
	LocalContext() identity.Context

	// Graph returns the host's current local graph.
	Graph() *graph.Graph

	// State returns the host's current reduced team state.
	State() team.State

	// MergeRemote merges remote into the host's local graph, re-reduces
	// team state under the membership resolver, and reports whether the
	// head advanced.
	MergeRemote(remote *graph.Graph) (advanced bool, err error)

	// DeviceSigningSecret returns the local device's Ed25519 signing
	// secret, used to answer a CHALLENGE_IDENTITY.
	DeviceSigningSecret() (ed25519.PrivateKey, error)

	// DeviceEncryptionKeys returns the local device's encryption keypair,
	// used to unseal a SEED sent to it.
	DeviceEncryptionKeys() (pub ed25519.PublicKey, secret ed25519.PrivateKey, err error)

	// DevicePublicKey resolves deviceID's current signing public key, so a
	// local CHALLENGE_IDENTITY can be verified against the claimed
	// identity's PROVE_IDENTITY response.
	DevicePublicKey(deviceID string) (ed25519.PublicKey, error)

	// PeerEncryptionPublicKey resolves deviceID's owning member's current
	// encryption public key, so a SEED contribution can be sealed to them.
	PeerEncryptionPublicKey(deviceID string) (ed25519.PublicKey, error)

	// ValidateInvitation checks proof against the host's posted invitation
	// record, without consuming it.
	ValidateInvitation(proof invitation.ProofOfInvitation) (team.PostedInvitation, error)

	// AdmitMember appends an ADMIT_INVITED_MEMBER link converting proof
	// into full membership. Called by the side holding existing team
	// state when a peer claims identity via an invitation.
	AdmitMember(proof invitation.ProofOfInvitation) error

	// AdmitDevice appends an ADMIT_INVITED_DEVICE link, used when an
	// already-admitted member enrolls an additional device.
	AdmitDevice(proof invitation.ProofOfInvitation) error

	// ExportForInvitee serializes the graph and the keyring the invitee
	// needs to instantiate team state locally (spec.md §4.F step 3).
	ExportForInvitee() (serializedGraph []byte, teamKeyring []byte, err error)

	// ImportFromInviter loads team state an admitting peer exported,
	// called on the invitee's side after ACCEPT_INVITATION arrives.
	ImportFromInviter(serializedGraph []byte, teamKeyring []byte) error
}
