package connection_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/piprate/teamkeep/internal/connection"
	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/events"
	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/identity"
	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/piprate/teamkeep/internal/team"
	"github.com/stretchr/testify/require"
)

// fakeHost is the minimal connection.Host a unit test needs: two
// already-admitted members sharing one graph, each knowing the other's
// public keys out of band (as a real team façade would, via reduced state).
type fakeHost struct {
	ctx identity.MemberContext
	g   *graph.Graph

	signPub ed25519.PublicKey
	signSec ed25519.PrivateKey
	encPub  ed25519.PublicKey
	encSec  ed25519.PrivateKey

	peerSignPub ed25519.PublicKey
	peerEncPub  ed25519.PublicKey
}

func (h *fakeHost) LocalContext() identity.Context { return h.ctx }
func (h *fakeHost) Graph() *graph.Graph            { return h.g }
func (h *fakeHost) State() team.State              { return team.State{} }

func (h *fakeHost) MergeRemote(remote *graph.Graph) (bool, error) {
	return remote.GetHead() != h.g.GetHead(), nil
}

func (h *fakeHost) DeviceSigningSecret() (ed25519.PrivateKey, error) { return h.signSec, nil }

func (h *fakeHost) DeviceEncryptionKeys() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return h.encPub, h.encSec, nil
}

func (h *fakeHost) DevicePublicKey(string) (ed25519.PublicKey, error) { return h.peerSignPub, nil }

func (h *fakeHost) PeerEncryptionPublicKey(string) (ed25519.PublicKey, error) {
	return h.peerEncPub, nil
}

func (h *fakeHost) ValidateInvitation(invitation.ProofOfInvitation) (team.PostedInvitation, error) {
	panic("not exercised by this test")
}
func (h *fakeHost) AdmitMember(invitation.ProofOfInvitation) error { panic("not exercised") }
func (h *fakeHost) AdmitDevice(invitation.ProofOfInvitation) error { panic("not exercised") }
func (h *fakeHost) ExportForInvitee() ([]byte, []byte, error)      { panic("not exercised") }
func (h *fakeHost) ImportFromInviter([]byte, []byte) error         { panic("not exercised") }

// fakeTransport hands a Connection's outgoing messages directly to its
// peer's Deliver, simulating an already-established duplex channel.
type fakeTransport struct {
	peer *connection.Connection
}

func (t *fakeTransport) Send(msg connection.NumberedConnectionMessage) error {
	t.peer.Deliver(msg)
	return nil
}

func genKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, sec, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, sec
}

func waitForState(t *testing.T, c *connection.Connection, want connection.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, got %q", want, c.State())
}

func TestHandshakeReachesConnected(t *testing.T) {
	aSignPub, aSignSec := genKeys(t)
	bSignPub, bSignSec := genKeys(t)
	aEncPub, aEncSec := genKeys(t)
	bEncPub, bEncSec := genKeys(t)

	root, err := graph.NewRoot([]byte(`{}`), "alice", graph.RootContext{
		UserName:         "alice",
		DeviceID:         "alice-device",
		SigningPublicKey: crypto.Encode(aSignPub),
	}, func(b []byte) []byte { return crypto.Sign(b, aSignSec) })
	require.NoError(t, err)
	g, err := graph.Create(root)
	require.NoError(t, err)

	hostA := &fakeHost{
		ctx: identity.MemberContext{
			User:     identity.User{UserName: "alice"},
			Device:   identity.Device{UserID: "alice", DeviceName: "laptop"},
			TeamName: "t",
		},
		g:           g,
		signPub:     aSignPub,
		signSec:     aSignSec,
		encPub:      aEncPub,
		encSec:      aEncSec,
		peerSignPub: bSignPub,
		peerEncPub:  bEncPub,
	}
	hostB := &fakeHost{
		ctx: identity.MemberContext{
			User:     identity.User{UserName: "bob"},
			Device:   identity.Device{UserID: "bob", DeviceName: "phone"},
			TeamName: "t",
		},
		g:           g,
		signPub:     bSignPub,
		signSec:     bSignSec,
		encPub:      bEncPub,
		encSec:      bEncSec,
		peerSignPub: aSignPub,
		peerEncPub:  aEncPub,
	}

	busA := events.NewBus(8)
	busB := events.NewBus(8)
	defer busA.Close()
	defer busB.Close()

	transportA := &fakeTransport{}
	transportB := &fakeTransport{}
	connA := connection.New("bob", hostA, transportA, busA)
	connB := connection.New("alice", hostB, transportB, busB)
	transportA.peer = connB
	transportB.peer = connA

	connectedA := busA.Subscribe(string(events.Connected))
	connectedB := busB.Subscribe(string(events.Connected))

	connA.Start()
	connB.Start()
	defer connA.Stop()
	defer connB.Stop()

	waitForState(t, connA, connection.StateConnected, 2*time.Second)
	waitForState(t, connB, connection.StateConnected, 2*time.Second)

	select {
	case <-connectedA:
	case <-time.After(time.Second):
		t.Fatal("A never published a connected event")
	}
	select {
	case <-connectedB:
	case <-time.After(time.Second):
		t.Fatal("B never published a connected event")
	}

	require.NoError(t, connA.Send([]byte("hello")))
}

func TestBadIdentityProofDisconnects(t *testing.T) {
	aSignPub, aSignSec := genKeys(t)
	_, bSignSec := genKeys(t)
	wrongPub, _ := genKeys(t)
	aEncPub, aEncSec := genKeys(t)
	bEncPub, bEncSec := genKeys(t)

	root, err := graph.NewRoot([]byte(`{}`), "alice", graph.RootContext{
		UserName:         "alice",
		DeviceID:         "alice-device",
		SigningPublicKey: crypto.Encode(aSignPub),
	}, func(b []byte) []byte { return crypto.Sign(b, aSignSec) })
	require.NoError(t, err)
	g, err := graph.Create(root)
	require.NoError(t, err)

	hostA := &fakeHost{
		ctx:         identity.MemberContext{User: identity.User{UserName: "alice"}, Device: identity.Device{UserID: "alice", DeviceName: "laptop"}},
		g:           g,
		signPub:     aSignPub,
		signSec:     aSignSec,
		encPub:      aEncPub,
		encSec:      aEncSec,
		peerSignPub: wrongPub, // alice expects bob's key to be wrongPub: bob's real proof will fail
		peerEncPub:  bEncPub,
	}
	hostB := &fakeHost{
		ctx:         identity.MemberContext{User: identity.User{UserName: "bob"}, Device: identity.Device{UserID: "bob", DeviceName: "phone"}},
		g:           g,
		signPub:     aSignPub, // irrelevant to this test
		signSec:     bSignSec,
		encPub:      bEncPub,
		encSec:      bEncSec,
		peerSignPub: aSignPub,
		peerEncPub:  aEncPub,
	}

	busA := events.NewBus(8)
	busB := events.NewBus(8)
	defer busA.Close()
	defer busB.Close()

	transportA := &fakeTransport{}
	transportB := &fakeTransport{}
	connA := connection.New("bob", hostA, transportA, busA)
	connB := connection.New("alice", hostB, transportB, busB)
	transportA.peer = connB
	transportB.peer = connA

	connA.Start()
	connB.Start()
	defer connA.Stop()
	defer connB.Stop()

	waitForState(t, connA, connection.StateDisconnected, 2*time.Second)
}
