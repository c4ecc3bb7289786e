package connection

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/events"
	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/identity"
	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/piprate/teamkeep/internal/jsonw"
	"github.com/piprate/teamkeep/internal/keyset"
	"github.com/rs/zerolog/log"
)

// encodePrincipalKeys packs an invitee's proposed public-only member keyset
// into the single opaque string a Principal carries, so the admitting peer
// can recover it from a verified ProofOfInvitation without any prior
// knowledge of the invitee.
func encodePrincipalKeys(ks keyset.Keyset) (string, error) {
	b, err := jsonw.Marshal(keyset.Redact(ks))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// State is a Connection's top-level FSM state (spec.md §4.F).
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateNegotiating    State = "negotiating"
	StateSynchronizing  State = "synchronizing"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
)

// Failure kinds a Connection reports via the LOCAL_ERROR event, per spec.md §7.
var (
	ErrTimeout           = errors.New("connection: timeout")
	ErrProtocolViolation = errors.New("connection: protocol violation")
	ErrBadSignature      = errors.New("connection: bad identity proof")
	ErrDecryptionFailed  = errors.New("connection: decryption failed")
)

// claim records what the peer asserted in CLAIM_IDENTITY, carried across
// the authenticating sub-states until the proof is verified or rejected.
type claim struct {
	deviceID string
	proof    *invitation.ProofOfInvitation
}

// Connection drives the protocol for exactly one peer. All state mutation
// happens on its own goroutine (dispatchLoop); Deliver and Stop are the only
// methods safe to call from another goroutine.
type Connection struct {
	peerID    string
	host      Host
	transport Transport
	bus       *events.Bus

	inbound chan NumberedConnectionMessage
	local   chan func()
	control chan struct{}
	stopped atomic.Bool
	once    sync.Once

	sendIndex uint32
	recvIndex uint32

	state      State
	pendingOut *claim // our own claim, awaiting challenge/accept
	pendingIn  *claim // peer's claim, awaiting our challenge/verdict
	challenge  *Challenge
	sentSync   bool
	ownSeed    []byte
	sessionKey *crypto.SymmetricKey
}

// New builds a Connection to peerID, idle until Start is called.
func New(peerID string, host Host, transport Transport, bus *events.Bus) *Connection {
	return &Connection{
		peerID:    peerID,
		host:      host,
		transport: transport,
		bus:       bus,
		inbound:   make(chan NumberedConnectionMessage, 32),
		local:     make(chan func(), 8),
		control:   make(chan struct{}),
		state:     StateIdle,
	}
}

// State reports the connection's current top-level state.
func (c *Connection) State() State { return c.state }

// Start transitions to connecting and begins the dispatch loop, sending the
// opening REQUEST_IDENTITY (spec.md §4.F step 1).
func (c *Connection) Start() {
	c.state = StateConnecting
	go c.dispatchLoop()
	c.send(ConnectionMessage{Type: TypeRequestIdentity})
}

// Stop is cooperative and idempotent: it asks the dispatch loop to flush
// in-flight work and transition to disconnected (spec.md §5).
func (c *Connection) Stop() {
	c.once.Do(func() {
		c.stopped.Store(true)
		close(c.control)
	})
}

// Deliver feeds an inbound message from the transport into the connection.
// It is a no-op once the connection has stopped.
func (c *Connection) Deliver(msg NumberedConnectionMessage) {
	if c.stopped.Load() {
		return
	}
	select {
	case c.inbound <- msg:
	default:
		log.Warn().Str("peer", c.peerID).Msg("connection: inbound buffer full, dropping message")
	}
}

// NotifyLocalUpdate tells the connection the host's graph head advanced
// locally, so it should open a new SYNC round (spec.md §4.F step 8).
func (c *Connection) NotifyLocalUpdate(head string) {
	c.enqueueLocal(func() { c.beginSync() })
}

// Send encrypts payload under the session key and transmits it as an
// ENCRYPTED_MESSAGE. Only valid once the connection is connected.
func (c *Connection) Send(payload []byte) error {
	if c.sessionKey == nil {
		return fmt.Errorf("%w: no session key established", ErrProtocolViolation)
	}
	ct, err := crypto.AEADEncrypt(payload, *c.sessionKey)
	if err != nil {
		return err
	}
	c.send(ConnectionMessage{Type: TypeEncryptedMessage, Ciphertext: ct})
	return nil
}

func (c *Connection) enqueueLocal(fn func()) {
	if c.stopped.Load() {
		return
	}
	select {
	case c.local <- fn:
	default:
		log.Warn().Str("peer", c.peerID).Msg("connection: local event buffer full, dropping")
	}
}

// dispatchLoop is the single goroutine that owns all of this connection's
// mutable state, patterned on the teacher's startLoop control loop: a select
// over an inbound channel, a local-event channel, and a control channel,
// with a per-substate timeout in between (grounds: ledger/local/ledger.go's
// BoltLedger.startLoop).
func (c *Connection) dispatchLoop() {
	defer c.transition(StateDisconnected, "")

	for {
		timeout := time.NewTimer(substateTimeout)
		select {
		case msg := <-c.inbound:
			timeout.Stop()
			c.handleInbound(msg)
			if c.state == StateDisconnected {
				return
			}

		case fn := <-c.local:
			timeout.Stop()
			fn()
			if c.state == StateDisconnected {
				return
			}

		case <-timeout.C:
			if c.state == StateConnected {
				// steady state has no deadline; re-arm and keep waiting.
				continue
			}
			c.fail(ErrTimeout, "substate timeout")
			return

		case <-c.control:
			timeout.Stop()
			return
		}
	}
}

func (c *Connection) transition(s State, reason string) {
	c.state = s
	if s == StateDisconnected {
		c.bus.Publish(events.Event{Kind: events.Disconnected, Topic: c.peerID, Data: reason}, false)
	} else if s == StateConnected {
		c.bus.Publish(events.Event{Kind: events.Connected, Topic: c.peerID}, false)
	}
}

// fail emits LOCAL_ERROR, sends DISCONNECT to the peer, and transitions to
// disconnected (spec.md §7's protocol-failure policy).
func (c *Connection) fail(err error, message string) {
	c.bus.Publish(events.Event{Kind: events.Error, Topic: c.peerID, Err: err, Data: message}, false)
	c.send(ConnectionMessage{Type: TypeDisconnect, Message: message})
	c.transition(StateDisconnected, message)
}

func (c *Connection) send(msg ConnectionMessage) {
	idx := atomic.AddUint32(&c.sendIndex, 1) - 1
	if err := c.transport.Send(NumberedConnectionMessage{Index: idx, Message: msg}); err != nil {
		log.Err(err).Str("peer", c.peerID).Str("type", string(msg.Type)).Msg("connection: send failed")
	}
}

// handleInbound validates message ordering, then dispatches by type.
func (c *Connection) handleInbound(nm NumberedConnectionMessage) {
	expected := atomic.LoadUint32(&c.recvIndex)
	if nm.Index < expected || nm.Index > expected+reorderWindow {
		log.Warn().Str("peer", c.peerID).Uint32("got", nm.Index).Uint32("want", expected).
			Msg("connection: message out of order, requesting resync")
		c.beginSync()
		return
	}
	atomic.StoreUint32(&c.recvIndex, nm.Index+1)

	msg := nm.Message
	switch msg.Type {
	case TypeRequestIdentity:
		c.onRequestIdentity()
	case TypeClaimIdentity:
		c.onClaimIdentity(msg)
	case TypeAcceptInvitation:
		c.onAcceptInvitation(msg)
	case TypeChallengeIdentity:
		c.onChallengeIdentity(msg)
	case TypeProveIdentity:
		c.onProveIdentity(msg)
	case TypeAcceptIdentity:
		c.onAcceptIdentity()
	case TypeRejectIdentity:
		c.fail(ErrBadSignature, msg.Message)
	case TypeSync:
		c.onSync(msg)
	case TypeSeed:
		c.onSeed(msg)
	case TypeEncryptedMessage:
		c.onEncryptedMessage(msg)
	case TypeDisconnect:
		c.transition(StateDisconnected, msg.Message)
	case TypeError:
		c.bus.Publish(events.Event{Kind: events.Error, Topic: c.peerID, Data: msg.Message}, false)
	default:
		c.fail(fmt.Errorf("%w: unknown message type %q", ErrProtocolViolation, msg.Type), "")
	}
}

// onRequestIdentity answers with our own CLAIM_IDENTITY: a device id if
// this side is already a member, or a proof of invitation if it is an
// unadmitted invitee (spec.md §4.F steps 1-2). Any other local context,
// ServerContext included, fails the connection.
func (c *Connection) onRequestIdentity() {
	c.state = StateAuthenticating

	switch ctx := c.host.LocalContext().(type) {
	case identity.MemberContext:
		did := identity.DeviceID(ctx.Device)
		c.pendingOut = &claim{deviceID: did}
		c.send(ConnectionMessage{Type: TypeClaimIdentity, DeviceID: did})

	case identity.InviteeContext:
		encodedKeys, err := encodePrincipalKeys(ctx.MemberKeys)
		if err != nil {
			c.fail(err, "failed to encode proposed member keys")
			return
		}
		proof, err := invitation.Accept(invitation.KindMember, ctx.InvitationSeed, invitation.Principal{
			UserName:   ctx.User.UserName,
			PublicKeys: encodedKeys,
		})
		if err != nil {
			c.fail(err, "failed to accept invitation locally")
			return
		}
		c.pendingOut = &claim{proof: &proof}
		c.send(ConnectionMessage{Type: TypeClaimIdentity, ProofOfInvitation: &proof})

	default:
		c.fail(fmt.Errorf("%w: unsupported local context", ErrProtocolViolation), "")
	}
}

// onClaimIdentity records the peer's claim and either admits an invitation
// or opens a challenge against a claimed device id.
func (c *Connection) onClaimIdentity(msg ConnectionMessage) {
	c.pendingIn = &claim{deviceID: msg.DeviceID, proof: msg.ProofOfInvitation}

	if msg.ProofOfInvitation != nil {
		if _, err := c.host.ValidateInvitation(*msg.ProofOfInvitation); err != nil {
			c.fail(err, "invitation rejected")
			return
		}
		if err := c.host.AdmitMember(*msg.ProofOfInvitation); err != nil {
			c.fail(err, "failed to admit invited member")
			return
		}
		graphBlob, keyringBlob, err := c.host.ExportForInvitee()
		if err != nil {
			c.fail(err, "failed to export team state for invitee")
			return
		}
		c.send(ConnectionMessage{Type: TypeAcceptInvitation, SerializedGraph: graphBlob, TeamKeyring: keyringBlob})
		// the newcomer re-enters authenticating with a device id once it
		// has loaded the exported state; nothing further to do here.
		return
	}

	c.issueChallenge(msg.DeviceID)
}

// onAcceptInvitation is the invitee side's handling of step 3: load the
// exported graph and keyring, then re-announce with our device id.
func (c *Connection) onAcceptInvitation(msg ConnectionMessage) {
	if err := c.host.ImportFromInviter(msg.SerializedGraph, msg.TeamKeyring); err != nil {
		c.fail(err, "failed to import team state")
		return
	}
	if ctx, ok := c.host.LocalContext().(identity.InviteeContext); ok {
		did := identity.DeviceID(ctx.Device)
		c.send(ConnectionMessage{Type: TypeClaimIdentity, DeviceID: did})
		return
	}
	c.fail(fmt.Errorf("%w: accepted invitation outside invitee context", ErrProtocolViolation), "")
}

func (c *Connection) issueChallenge(deviceID string) {
	ch := &Challenge{
		Nonce:     crypto.Encode(crypto.Random(32)),
		Scope:     deviceID,
		Timestamp: time.Now().UnixMilli(),
	}
	c.challenge = ch
	c.send(ConnectionMessage{Type: TypeChallengeIdentity, Challenge: ch})
}

// onChallengeIdentity answers a challenge issued against our own claimed
// device id by signing it with our device secret (spec.md §4.F step 5).
func (c *Connection) onChallengeIdentity(msg ConnectionMessage) {
	secret, err := c.host.DeviceSigningSecret()
	if err != nil {
		c.fail(err, "no device signing secret")
		return
	}
	sig := crypto.Sign(challengeBytes(msg.Challenge), secret)
	c.send(ConnectionMessage{Type: TypeProveIdentity, Challenge: msg.Challenge, Proof: crypto.Encode(sig)})
}

func challengeBytes(ch *Challenge) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", ch.Nonce, ch.Scope, ch.Timestamp))
}

// onProveIdentity verifies the peer's signature against the device public
// key their earlier CLAIM_IDENTITY named (spec.md §4.F step 5).
func (c *Connection) onProveIdentity(msg ConnectionMessage) {
	if c.pendingIn == nil || c.challenge == nil {
		c.fail(fmt.Errorf("%w: prove without outstanding challenge", ErrProtocolViolation), "")
		return
	}
	pub, err := c.host.DevicePublicKey(c.pendingIn.deviceID)
	if err != nil {
		c.fail(err, "unknown device")
		return
	}
	sig, err := crypto.Decode(msg.Proof)
	if err != nil {
		c.fail(ErrBadSignature, "malformed proof")
		return
	}
	if !crypto.Verify(challengeBytes(msg.Challenge), sig, pub) {
		c.send(ConnectionMessage{Type: TypeRejectIdentity, Message: "bad signature"})
		c.fail(ErrBadSignature, "peer failed identity proof")
		return
	}
	c.challenge = nil
	c.send(ConnectionMessage{Type: TypeAcceptIdentity})
	c.beginSync()
}

// onAcceptIdentity is this side's own claim being accepted; both sides now
// move into the negotiating/synchronizing states.
func (c *Connection) onAcceptIdentity() {
	c.beginSync()
}

// beginSync opens a SYNC round by pushing this side's full set of known
// links (spec.md §4.F step 6). The resolved wire format is a state-based
// push rather than a multi-round head/bloom negotiation: graph.Merge's
// hash-sorted merge body already makes the result order-independent, so a
// single push in each direction is sufficient for both sides to converge on
// an identical head (see DESIGN.md's Open Question note for §4.F's SYNC
// format).
func (c *Connection) beginSync() {
	c.state = StateSynchronizing
	if c.sentSync {
		return
	}
	c.sentSync = true
	g := c.host.Graph()
	c.send(ConnectionMessage{Type: TypeSync, KnownHeads: []string{g.GetHead()}, Links: g.Links})
}

// onSync merges the peer's pushed links into the host's local graph,
// replies in kind if this side has not yet pushed its own, and once both
// directions have exchanged, moves on to seed negotiation.
func (c *Connection) onSync(msg ConnectionMessage) {
	c.state = StateSynchronizing

	if len(msg.Links) > 0 {
		local := c.host.Graph()
		head := local.GetHead()
		if len(msg.KnownHeads) > 0 {
			head = msg.KnownHeads[0]
		}
		remote := &graph.Graph{Root: local.GetRoot(), Head: head, Links: msg.Links}
		if _, err := c.host.MergeRemote(remote); err != nil {
			c.fail(err, "failed to merge remote graph")
			return
		}
	}

	if !c.sentSync {
		c.beginSync()
	}

	c.beginSeedExchange()
}

func (c *Connection) beginSeedExchange() {
	c.state = StateNegotiating
	if c.ownSeed != nil {
		return
	}
	c.ownSeed = crypto.Random(32)

	deviceID := ""
	if c.pendingIn != nil {
		deviceID = c.pendingIn.deviceID
	}
	pub, err := c.host.PeerEncryptionPublicKey(deviceID)
	if err != nil {
		c.fail(err, "no peer encryption key for seed exchange")
		return
	}
	sealed, err := crypto.Seal(c.ownSeed, pub, nil)
	if err != nil {
		c.fail(err, "failed to seal seed")
		return
	}
	c.send(ConnectionMessage{Type: TypeSeed, EncryptedSeed: sealed})
}

// onEncryptedMessage decrypts an application payload under the session key.
func (c *Connection) onEncryptedMessage(msg ConnectionMessage) {
	if c.sessionKey == nil {
		c.fail(fmt.Errorf("%w: encrypted message before session established", ErrProtocolViolation), "")
		return
	}
	if _, err := crypto.AEADDecrypt(msg.Ciphertext, *c.sessionKey); err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrDecryptionFailed, err), "")
		return
	}
	// the decrypted payload is opaque application data; this package only
	// guarantees its authenticity and confidentiality, delivery to the host
	// is out of scope for the protocol state machine itself.
}

// onSeed completes the seed exchange: unseal the peer's contribution,
// combine it with our own, and derive the session key (spec.md §4.F step 7).
func (c *Connection) onSeed(msg ConnectionMessage) {
	_, secret, err := c.host.DeviceEncryptionKeys()
	if err != nil {
		c.fail(err, "no device encryption key")
		return
	}
	peerSeed, err := crypto.Unseal(msg.EncryptedSeed, nil, secret)
	if err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrDecryptionFailed, err), "")
		return
	}
	if c.ownSeed == nil {
		c.fail(fmt.Errorf("%w: seed received before our own was sent", ErrProtocolViolation), "")
		return
	}
	key := deriveSessionKey(c.ownSeed, peerSeed)
	c.sessionKey = &key
	c.transition(StateConnected, "")
}

// deriveSessionKey computes hash("session", sort(a, b)) (spec.md §4.F step 7).
func deriveSessionKey(a, b []byte) crypto.SymmetricKey {
	seeds := [][]byte{a, b}
	sort.Slice(seeds, func(i, j int) bool {
		return crypto.Encode(seeds[i]) < crypto.Encode(seeds[j])
	})
	joined := append(append([]byte{}, seeds[0]...), seeds[1]...)
	return crypto.NewSymmetricKey(crypto.Hash("session", joined))
}
