package team

import (
	"crypto/ed25519"
	"fmt"

	"github.com/piprate/teamkeep/internal/connection"
	"github.com/piprate/teamkeep/internal/events"
	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/identity"
	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/piprate/teamkeep/internal/jsonw"
	"github.com/piprate/teamkeep/internal/keyset"
	itm "github.com/piprate/teamkeep/internal/team"
)

// This file implements internal/connection.Host, the seam the connection
// protocol (component F) uses to reach into a team instance. A Connection
// calls these from its own single dispatch goroutine, never concurrently
// with itself, but multiple Connections (and the façade's own public
// methods) can call in from different goroutines, so every method still
// takes t.mu.

// LocalContext reports this device's identity as an already-admitted
// member — the only context a live *Team ever connects as; an invitee
// connects via identity.InviteeContext directly, before a *Team exists.
func (t *Team) LocalContext() identity.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return identity.MemberContext{User: t.user, Device: t.device, TeamName: t.teamName}
}

// Graph returns the current local graph. Connections only ever read it
// (for SYNC and merge), never mutate it directly.
func (t *Team) Graph() *graph.Graph {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.g
}

// State returns the current reduced team state.
func (t *Team) State() itm.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MergeRemote merges remote into the local graph and re-reduces state
// under the membership resolver, committing only if the merged graph
// reduces validly.
func (t *Team) MergeRemote(remote *graph.Graph) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldHead := t.g.GetHead()
	merged, err := graph.Merge(t.g, remote)
	if err != nil {
		return false, err
	}
	state, vr, err := itm.Replay(merged, t.resolver)
	if err != nil {
		return false, err
	}
	if !vr.IsValid {
		return false, rejectionError(vr)
	}

	t.g = merged
	t.state = state
	t.keyring.Expand(t.state.Lockboxes)

	advanced := merged.GetHead() != oldHead
	if advanced {
		t.bus.Publish(events.Event{Kind: events.Updated, Topic: "", Data: merged.GetHead()}, false)
	}
	return advanced, nil
}

// DeviceSigningSecret returns this device's own signing secret.
func (t *Team) DeviceSigningSecret() (ed25519.PrivateKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deviceKeys.SigningSecretKey()
}

// DeviceEncryptionKeys returns this device's own encryption keypair.
func (t *Team) DeviceEncryptionKeys() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pub, err := t.deviceKeys.EncryptionPublicKey()
	if err != nil {
		return nil, nil, err
	}
	sec, err := t.deviceKeys.EncryptionSecretKey()
	if err != nil {
		return nil, nil, err
	}
	return pub, sec, nil
}

// DevicePublicKey resolves deviceID's current signing public key.
func (t *Team) DevicePublicKey(deviceID string) (ed25519.PublicKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, dev, ok := itm.DeviceOwner(t.state, deviceID)
	if !ok {
		return nil, itm.ErrNotFound
	}
	return dev.Keys.SigningPublicKey()
}

// PeerEncryptionPublicKey resolves deviceID's owning member's current
// encryption public key.
func (t *Team) PeerEncryptionPublicKey(deviceID string) (ed25519.PublicKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ownerName, _, ok := itm.DeviceOwner(t.state, deviceID)
	if !ok {
		return nil, itm.ErrNotFound
	}
	m, ok := t.state.Members[ownerName]
	if !ok {
		return nil, itm.ErrNotFound
	}
	return m.Keys.EncryptionPublicKey()
}

// ValidateInvitation checks proof against the posted invitation record
// without consuming it.
func (t *Team) ValidateInvitation(proof invitation.ProofOfInvitation) (itm.PostedInvitation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.state.Invitations[proof.ID]
	if !ok {
		return itm.PostedInvitation{}, itm.ErrInvitationNotFound
	}
	view, symKey, err := t.invitationView(proof.ID)
	if err != nil {
		return itm.PostedInvitation{}, err
	}
	if err := invitation.Validate(proof, view, symKey); err != nil {
		return itm.PostedInvitation{}, err
	}
	return rec, nil
}

// AdmitMember appends an ADMIT_INVITED_MEMBER link converting proof into
// full membership.
func (t *Team) AdmitMember(proof invitation.ProofOfInvitation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admitMemberLocked(proof)
}

// ExportForInvitee serializes the graph and the team-scope keysets this
// instance holds for a newly admitted invitee to import (spec.md §4.F step 3).
func (t *Team) ExportForInvitee() ([]byte, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	graphBlob, err := jsonw.Marshal(t.g)
	if err != nil {
		return nil, nil, err
	}
	var teamKeysets []keyset.Keyset
	for _, ks := range t.keyring.All() {
		if ks.Scope == keyset.ScopeTeam {
			teamKeysets = append(teamKeysets, ks)
		}
	}
	keyringBlob, err := jsonw.Marshal(teamKeysets)
	if err != nil {
		return nil, nil, err
	}
	return graphBlob, keyringBlob, nil
}

// ImportFromInviter loads a graph and keyring an admitting peer exported.
// Called once, on an invitee's side, immediately after admission — after
// this call succeeds, the *Team built by NewInvitee this was invoked on
// behaves like any other loaded team instance.
func (t *Team) ImportFromInviter(serializedGraph, teamKeyring []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var g graph.Graph
	if err := jsonw.Unmarshal(serializedGraph, &g); err != nil {
		return fmt.Errorf("team: import: %w", err)
	}
	var keysets []keyset.Keyset
	if err := jsonw.Unmarshal(teamKeyring, &keysets); err != nil {
		return fmt.Errorf("team: import: %w", err)
	}

	if t.resolver == nil {
		t.resolver = itm.NewMembershipResolver()
	}
	state, vr, err := itm.Replay(&g, t.resolver)
	if err != nil {
		return fmt.Errorf("team: import: %w", err)
	}
	if !vr.IsValid {
		return rejectionError(vr)
	}

	t.g = &g
	t.state = state
	t.teamName = state.TeamName
	if t.keyring == nil {
		t.keyring = keyset.NewKeyring(t.memberKeys)
	}
	for _, ks := range keysets {
		t.keyring.Add(ks)
	}
	t.keyring.Expand(t.state.Lockboxes)
	return nil
}

// NewInvitee constructs a *Team for a peer that has just accepted an
// invitation but not yet imported any team state — user/device/memberKeys/
// deviceKeys are the invitee's own freshly generated identity (the same
// ones proposed in the invitation proof); ImportFromInviter must be called
// before any other method once the admitting peer's ACCEPT_INVITATION
// arrives.
func NewInvitee(user identity.User, device identity.Device, memberKeys, deviceKeys keyset.Keyset) *Team {
	return &Team{
		user:       user,
		device:     device,
		memberKeys: memberKeys,
		deviceKeys: deviceKeys,
		keyring:    keyset.NewKeyring(memberKeys),
		servers:    map[string]keyset.Lockbox{},
		bus:        events.NewBus(32),
		conns:      map[string]*connection.Connection{},
		resolver:   itm.NewMembershipResolver(),
	}
}

// AdmitDevice appends an ADMIT_INVITED_DEVICE link for proof.
func (t *Team) AdmitDevice(proof invitation.ProofOfInvitation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admitDeviceLocked(proof)
}

// Connect opens a Connection to peerID over transport, wired to this
// instance as its Host, and starts its handshake.
func (t *Team) Connect(peerID string, transport connection.Transport) *connection.Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn := connection.New(peerID, t, transport, t.bus)
	t.conns[peerID] = conn
	conn.Start()
	return conn
}

// Disconnect stops and forgets the connection to peerID, if any.
func (t *Team) Disconnect(peerID string) {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	delete(t.conns, peerID)
	t.mu.Unlock()
	if ok {
		conn.Stop()
	}
}

// Connections returns every peer id this instance currently has a live
// Connection to.
func (t *Team) Connections() map[string]*connection.Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*connection.Connection, len(t.conns))
	for id, c := range t.conns {
		out[id] = c
	}
	return out
}

// Events returns the event bus Connections (and local mutations) publish
// to — spec.md §6's "connected / updated / disconnected / error" stream.
func (t *Team) Events() *events.Bus {
	return t.bus
}
