// Package team is the host-facing façade spec.md §6 names: one struct per
// team instance, wrapping a signature graph (internal/graph), its reduced
// state (internal/team), a local keyring (internal/keyset), and the
// connections (internal/connection) this instance currently has open to
// peers. Structured the way the teacher's wallet.LocalDataWallet is: one
// large struct built up from a sequence of validated operations, guarded by
// a single mutex rather than fine-grained locks per field.
package team

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/piprate/teamkeep/internal/connection"
	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/events"
	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/identity"
	"github.com/piprate/teamkeep/internal/jsonw"
	"github.com/piprate/teamkeep/internal/keyset"
	itm "github.com/piprate/teamkeep/internal/team"
)

// Team is one team instance as seen by one member's one device.
type Team struct {
	mu sync.Mutex

	teamName string
	user     identity.User
	device   identity.Device

	g        *graph.Graph
	state    itm.State
	resolver graph.Resolver

	memberKeys keyset.Keyset
	deviceKeys keyset.Keyset
	keyring    *keyset.Keyring
	servers    map[string]keyset.Lockbox

	bus   *events.Bus
	conns map[string]*connection.Connection
}

var _ connection.Host = (*Team)(nil)

// Create founds a new team named teamName, with user's device as the sole
// founding member holding the admin role (spec.md §4.D ROOT / invariant I1,
// I2).
func Create(teamName string, user identity.User, device identity.Device) (*Team, error) {
	deviceID := identity.DeviceID(device)

	memberKeys, err := keyset.CreateKeyset(keyset.ScopeMember, user.UserName, nil)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	deviceKeys, err := keyset.CreateKeyset(keyset.ScopeDevice, deviceID, nil)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	teamKeys, err := keyset.CreateKeyset(keyset.ScopeTeam, teamName, nil)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	adminKeys, err := keyset.CreateKeyset(keyset.ScopeRole, itm.AdminRole, nil)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}

	memberRecipient := memberKeys
	teamLockbox, err := keyset.CreateLockbox(teamKeys, memberRecipient)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	adminLockbox, err := keyset.CreateLockbox(adminKeys, memberRecipient)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}

	rootMember := itm.Member{
		UserName: user.UserName,
		Keys:     keyset.Redact(memberKeys),
		Roles:    map[string]bool{},
		Devices: map[string]itm.DevicePublic{
			deviceID: {DeviceID: deviceID, Keys: keyset.Redact(deviceKeys)},
		},
	}

	t := &Team{
		teamName:   teamName,
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
	t.keyring.Add(deviceKeys)

	rootAction := itm.RootAction{
		TeamName:   teamName,
		RootMember: rootMember,
		AdminKeys:  keyset.Redact(adminKeys),
		Lockboxes:  []keyset.Lockbox{teamLockbox, adminLockbox},
	}
	action, err := itm.NewAction(itm.ActionRoot, rootAction)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	payload, err := itm.EncodePayload(action)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}

	rootCtx := graph.RootContext{
		UserName:         user.UserName,
		DeviceID:         deviceID,
		SigningPublicKey: memberKeys.Signature.Public,
	}
	rootLink, err := graph.NewRoot([]byte(payload), user.UserName, rootCtx, t.sign)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	g, err := graph.Create(rootLink)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	t.g = g

	state, vr, err := itm.Replay(g, t.resolver)
	if err != nil {
		return nil, fmt.Errorf("team: create: %w", err)
	}
	if !vr.IsValid {
		return nil, rejectionError(vr)
	}
	t.state = state
	t.keyring.Add(teamKeys)
	t.keyring.Add(adminKeys)
	t.keyring.Expand(t.state.Lockboxes)

	return t, nil
}

func rejectionError(vr itm.ValidationResult) error {
	if vr.Error != nil {
		return vr.Error
	}
	return itm.ErrProtocolViolation
}

// sign signs b with this instance's member signing key — every non-root
// link on the graph is authored and verified at the member level, not the
// device level (devices only carry their own key for connection-level
// identity proofs, see internal/connection).
func (t *Team) sign(b []byte) []byte {
	sec, err := t.memberKeys.SigningSecretKey()
	if err != nil {
		// a Team never holds a memberKeys without its signing secret; this
		// would only happen from a programming error constructing Team by
		// hand outside Create/Load.
		panic("team: local member signing secret unavailable")
	}
	return crypto.Sign(b, sec)
}

// apply builds a link for action/body, validates it against the current
// state before ever touching the graph, and only then appends it — a
// rejected action never reaches the graph (spec.md §4.D "Failure
// semantics").
func (t *Team) apply(actionType itm.ActionType, body any) error {
	action, err := itm.NewAction(actionType, body)
	if err != nil {
		return err
	}
	payload, err := itm.EncodePayload(action)
	if err != nil {
		return err
	}
	link, err := graph.NewLink(t.g.Head, []byte(payload), t.user.UserName, t.sign)
	if err != nil {
		return err
	}

	next, vr := itm.Reduce(t.state, link)
	if !vr.IsValid {
		return rejectionError(vr)
	}
	if _, err := t.g.Append(link); err != nil {
		return err
	}
	t.state = next
	t.keyring.Expand(t.state.Lockboxes)

	t.bus.Publish(events.Event{Kind: events.Updated, Topic: "", Data: t.g.GetHead()}, false)
	head := t.g.GetHead()
	for _, c := range t.conns {
		c.NotifyLocalUpdate(head)
	}
	return nil
}

// Members returns every current, non-removed member, sorted by user name.
func (t *Team) Members() []itm.Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]itm.Member, 0, len(t.state.Members))
	for name, m := range t.state.Members {
		if !t.state.RemovedMembers[name] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out
}

// Member returns the named member, if current and not removed.
func (t *Team) Member(userName string) (itm.Member, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.RemovedMembers[userName] {
		return itm.Member{}, false
	}
	m, ok := t.state.Members[userName]
	return m, ok
}

// Roles returns every defined role, sorted by name.
func (t *Team) Roles() []itm.Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]itm.Role, 0, len(t.state.Roles))
	for _, r := range t.state.Roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleName < out[j].RoleName })
	return out
}

// Has reports whether userName is a current, non-removed member.
func (t *Team) Has(userName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Has(userName)
}

// MemberIsAdmin reports whether userName currently holds the admin role.
func (t *Team) MemberIsAdmin(userName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsAdmin(userName)
}

// TeamKeys reports the team scope's current public identity (scope, name
// and generation; no secret material ever leaves this package through it).
func (t *Team) TeamKeys() (keyset.Keyset, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gen, ok := itm.CurrentGeneration(t.state, keyset.ScopeTeam, t.teamName)
	if !ok {
		return keyset.Keyset{}, itm.ErrNotFound
	}
	return keyset.Keyset{Scope: keyset.ScopeTeam, Name: t.teamName, Generation: gen}, nil
}

// Envelope is an asymmetrically sealed payload addressed to whoever
// currently holds a given scope's secret (spec.md §6 "encrypt"/"decrypt").
type Envelope struct {
	Scope      keyset.Scope `json:"scope"`
	Name       string       `json:"name"`
	Generation uint32       `json:"generation"`
	Ciphertext []byte       `json:"ciphertext"`
}

// Encrypt seals payload to the team's current encryption key, or to
// roleName's if given. Any current holder of that scope's secret (anyone
// whose keyring reaches it) can Decrypt it; this package never itself
// checks that the caller is entitled to encrypt under a role — per spec.md
// §1's non-goals, the scheme offers no confidentiality against a principal
// who already holds a scope's key.
func (t *Team) Encrypt(payload []byte, roleName string) (Envelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	scope, name := keyset.ScopeTeam, t.teamName
	if roleName != "" {
		scope, name = keyset.ScopeRole, roleName
	}

	pub, gen, err := t.latestPublicEncryptionKey(scope, name)
	if err != nil {
		return Envelope{}, err
	}
	sealed, err := crypto.Seal(payload, pub, nil)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Scope: scope, Name: name, Generation: gen, Ciphertext: sealed}, nil
}

// Decrypt opens env using whatever secret this instance's keyring currently
// holds for (env.Scope, env.Name, env.Generation).
func (t *Team) Decrypt(env Envelope) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := keyset.ID{Scope: env.Scope, Name: env.Name, Generation: env.Generation}
	ks, err := t.keyring.Get(id)
	if err != nil {
		return nil, fmt.Errorf("team: %w", itm.ErrKeyNotReachable)
	}
	sec, err := ks.EncryptionSecretKey()
	if err != nil {
		return nil, err
	}
	return crypto.Unseal(env.Ciphertext, nil, sec)
}

// SignedEnvelope binds payload to the member who signed it, verifiable
// against that member's current signing key in team state.
type SignedEnvelope struct {
	UserName  string `json:"userName"`
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
}

// Sign signs payload with this instance's own member signing key.
func (t *Team) Sign(payload []byte) (SignedEnvelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sec, err := t.memberKeys.SigningSecretKey()
	if err != nil {
		return SignedEnvelope{}, err
	}
	sig := crypto.Sign(payload, sec)
	return SignedEnvelope{UserName: t.user.UserName, Payload: payload, Signature: crypto.Encode(sig)}, nil
}

// Verify checks env's signature against env.UserName's current signing key.
func (t *Team) Verify(env SignedEnvelope) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.state.Members[env.UserName]
	if !ok || t.state.RemovedMembers[env.UserName] {
		return false, itm.ErrNotFound
	}
	pub, err := m.Keys.SigningPublicKey()
	if err != nil {
		return false, err
	}
	sig, err := crypto.Decode(env.Signature)
	if err != nil {
		return false, err
	}
	return crypto.Verify(env.Payload, sig, pub), nil
}

// latestPublicEncryptionKey reads a scope's current encryption public key
// directly from the lockboxes in reduced state, without needing to hold
// the secret — any lockbox sealing that scope's contents already carries
// its public encryption key (keyset.Contents.PublicKey).
func (t *Team) latestPublicEncryptionKey(scope keyset.Scope, name string) (publicKey []byte, generation uint32, err error) {
	gen, ok := itm.CurrentGeneration(t.state, scope, name)
	if !ok {
		return nil, 0, itm.ErrNotFound
	}
	for _, lb := range t.state.Lockboxes {
		if lb.Contents.Scope == scope && lb.Contents.Name == name && lb.Contents.Generation == gen {
			pub, err := crypto.Decode(lb.Contents.PublicKey)
			if err != nil {
				return nil, 0, err
			}
			return pub, gen, nil
		}
	}
	return nil, 0, itm.ErrKeyNotReachable
}

// persisted is the on-disk shape Save/Load exchange; host storage (e.g.
// storage/boltstore) treats the whole thing as an opaque blob.
type persisted struct {
	TeamName string          `json:"teamName"`
	User     identity.User   `json:"user"`
	Device   identity.Device `json:"device"`
	Graph    json.RawMessage `json:"graph"`
	Keysets  []keyset.Keyset `json:"keysets"`
}

// Save serializes the graph and this instance's own keyring to a single
// blob (spec.md §6 "blob = serialize(graph) + separator + serialize(keyring)",
// realized here as one JSON document rather than a literal separator-joined
// byte string).
func (t *Team) Save() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	graphBlob, err := jsonw.Marshal(t.g)
	if err != nil {
		return nil, err
	}
	return jsonw.Marshal(persisted{
		TeamName: t.teamName,
		User:     t.user,
		Device:   t.device,
		Graph:    graphBlob,
		Keysets:  t.keyring.All(),
	})
}

// Load rebuilds a Team from a blob Save produced, replaying the graph and
// re-expanding the keyring it contains.
func Load(blob []byte) (*Team, error) {
	var p persisted
	if err := jsonw.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("team: load: %w", err)
	}
	var g graph.Graph
	if err := jsonw.Unmarshal(p.Graph, &g); err != nil {
		return nil, fmt.Errorf("team: load: %w", err)
	}
	if len(p.Keysets) == 0 {
		return nil, fmt.Errorf("team: load: empty keyring")
	}

	t := &Team{
		teamName: p.TeamName,
		user:     p.User,
		device:   p.Device,
		servers:  map[string]keyset.Lockbox{},
		bus:      events.NewBus(32),
		conns:    map[string]*connection.Connection{},
		resolver: itm.NewMembershipResolver(),
		keyring:  keyset.NewKeyring(p.Keysets[0]),
	}
	for _, ks := range p.Keysets[1:] {
		t.keyring.Add(ks)
	}

	state, vr, err := itm.Replay(&g, t.resolver)
	if err != nil {
		return nil, fmt.Errorf("team: load: %w", err)
	}
	if !vr.IsValid {
		return nil, rejectionError(vr)
	}
	t.g = &g
	t.state = state
	t.keyring.Expand(t.state.Lockboxes)

	memberKeys, err := t.keyring.GetLatest(keyset.ScopeMember, t.user.UserName)
	if err != nil {
		return nil, fmt.Errorf("team: load: %w: own member keys not in keyring", itm.ErrKeyNotReachable)
	}
	t.memberKeys = memberKeys

	deviceID := identity.DeviceID(t.device)
	deviceKeys, err := t.keyring.GetLatest(keyset.ScopeDevice, deviceID)
	if err != nil {
		return nil, fmt.Errorf("team: load: %w: own device keys not in keyring", itm.ErrKeyNotReachable)
	}
	t.deviceKeys = deviceKeys

	return t, nil
}
