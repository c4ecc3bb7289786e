package team

import (
	"testing"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/keyset"
	"github.com/stretchr/testify/require"
)

// testMember holds one member's full keyset and a ready signer closure, so
// test scenarios read as a sequence of actions rather than key plumbing.
type testMember struct {
	name string
	ks   keyset.Keyset
}

func newTestMember(t *testing.T, name string) testMember {
	t.Helper()
	ks, err := keyset.CreateKeyset(keyset.ScopeMember, name, nil)
	require.NoError(t, err)
	return testMember{name: name, ks: ks}
}

func (tm testMember) sign(b []byte) []byte {
	sec, err := tm.ks.SigningSecretKey()
	if err != nil {
		panic(err)
	}
	return crypto.Sign(b, sec)
}

func (tm testMember) member(roles ...string) Member {
	roleSet := map[string]bool{}
	for _, r := range roles {
		roleSet[r] = true
	}
	return Member{
		UserName: tm.name,
		Keys:     keyset.Redact(tm.ks),
		Roles:    roleSet,
		Devices:  map[string]DevicePublic{},
	}
}

func lockboxTo(t *testing.T, contents, recipient keyset.Keyset) keyset.Lockbox {
	t.Helper()
	lb, err := keyset.CreateLockbox(contents, recipient)
	require.NoError(t, err)
	return lb
}

// buildLink encodes action as a link's payload and signs it as author.
func buildLink(t *testing.T, g *graph.Graph, author testMember, actionType ActionType, body any) graph.Link {
	t.Helper()
	a, err := NewAction(actionType, body)
	require.NoError(t, err)
	payload, err := EncodePayload(a)
	require.NoError(t, err)
	l, err := graph.NewLink(g.GetHead(), payload, author.name, author.sign)
	require.NoError(t, err)
	return l
}

func appendLink(t *testing.T, g *graph.Graph, l graph.Link) {
	t.Helper()
	_, err := g.Append(l)
	require.NoError(t, err)
}

// buildRootGraph starts a one-member team with a posted TEAM-scope lockbox
// sealed to the founder, as validateRoot requires.
func buildRootGraph(t *testing.T, founder testMember) (*graph.Graph, keyset.Keyset, keyset.Keyset) {
	t.Helper()
	teamKs, err := keyset.CreateKeyset(keyset.ScopeTeam, "t", nil)
	require.NoError(t, err)
	adminKs, err := keyset.CreateKeyset(keyset.ScopeRole, AdminRole, nil)
	require.NoError(t, err)

	body := RootAction{
		TeamName:   "t",
		RootMember: founder.member(),
		AdminKeys:  keyset.Redact(adminKs),
		Lockboxes: []keyset.Lockbox{
			lockboxTo(t, teamKs, founder.ks),
			lockboxTo(t, adminKs, founder.ks),
		},
	}
	a, err := NewAction(ActionRoot, body)
	require.NoError(t, err)
	payload, err := EncodePayload(a)
	require.NoError(t, err)

	ctx := graph.RootContext{UserName: founder.name, SigningPublicKey: founder.ks.Signature.Public}
	root, err := graph.NewRoot(payload, founder.name, ctx, founder.sign)
	require.NoError(t, err)

	g, err := graph.Create(root)
	require.NoError(t, err)
	return g, teamKs, adminKs
}

func TestRootInitializesFounderAsAdmin(t *testing.T) {
	alice := newTestMember(t, "alice")
	g, _, _ := buildRootGraph(t, alice)

	s, vr, err := Replay(g, nil)
	require.NoError(t, err)
	require.True(t, vr.IsValid)

	require.True(t, s.IsAdmin("alice"))
	require.Len(t, s.Members, 1)
	require.True(t, s.Roles[AdminRole].HasPermission("*"))
}

func TestAdminCanAddMember(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	g, teamKs, _ := buildRootGraph(t, alice)

	addBob := buildLink(t, g, alice, ActionAddMember, AddMemberAction{
		Member:    bob.member(),
		Lockboxes: []keyset.Lockbox{lockboxTo(t, teamKs, bob.ks)},
	})
	appendLink(t, g, addBob)

	s, vr, err := Replay(g, nil)
	require.NoError(t, err)
	require.True(t, vr.IsValid)
	require.True(t, s.Has("bob"))
	require.False(t, s.IsAdmin("bob"))
}

func TestAddMemberByNonAdminIsRejected(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	carol := newTestMember(t, "carol")
	g, teamKs, _ := buildRootGraph(t, alice)

	addBob := buildLink(t, g, alice, ActionAddMember, AddMemberAction{
		Member:    bob.member(),
		Lockboxes: []keyset.Lockbox{lockboxTo(t, teamKs, bob.ks)},
	})
	appendLink(t, g, addBob)

	// bob (not an admin) tries to add carol.
	addCarol := buildLink(t, g, bob, ActionAddMember, AddMemberAction{
		Member:    carol.member(),
		Lockboxes: []keyset.Lockbox{lockboxTo(t, teamKs, carol.ks)},
	})
	appendLink(t, g, addCarol)

	s, vr, err := Replay(g, nil)
	require.NoError(t, err)
	require.False(t, vr.IsValid)
	require.ErrorIs(t, vr.Error, ErrNotAdmin)
	// state computation halted before carol was added.
	require.False(t, s.Has("carol"))
	require.True(t, s.Has("bob"))
}

func TestRemoveMemberRequiresRotationCoverage(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	g, teamKs, _ := buildRootGraph(t, alice)

	appendLink(t, g, buildLink(t, g, alice, ActionAddMember, AddMemberAction{
		Member:    bob.member(),
		Lockboxes: []keyset.Lockbox{lockboxTo(t, teamKs, bob.ks)},
	}))

	// Remove bob without rotating team keys: rejected.
	removeNoRotation := buildLink(t, g, alice, ActionRemoveMember, RemoveMemberAction{UserName: "bob"})
	appendLink(t, g, removeNoRotation)

	_, vr, err := Replay(g, nil)
	require.NoError(t, err)
	require.False(t, vr.IsValid)
	require.ErrorIs(t, vr.Error, ErrProtocolViolation)
}

func TestRemoveMemberWithRotationSucceeds(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	g, teamKs, _ := buildRootGraph(t, alice)

	appendLink(t, g, buildLink(t, g, alice, ActionAddMember, AddMemberAction{
		Member:    bob.member(),
		Lockboxes: []keyset.Lockbox{lockboxTo(t, teamKs, bob.ks)},
	}))

	rotatedTeamKs, err := keyset.RotateKeyset(teamKs, nil)
	require.NoError(t, err)
	removeBob := buildLink(t, g, alice, ActionRemoveMember, RemoveMemberAction{
		UserName:  "bob",
		Lockboxes: []keyset.Lockbox{lockboxTo(t, rotatedTeamKs, alice.ks)},
	})
	appendLink(t, g, removeBob)

	s, vr, err := Replay(g, nil)
	require.NoError(t, err)
	require.True(t, vr.IsValid)
	require.False(t, s.Has("bob"))
	gen, ok := CurrentGeneration(s, keyset.ScopeTeam, "t")
	require.True(t, ok)
	require.Equal(t, uint32(1), gen)
}

func TestConcurrentRemoveVsWriteIsDropped(t *testing.T) {
	alice := newTestMember(t, "alice")
	carol := newTestMember(t, "carol")
	base, teamKs, _ := buildRootGraph(t, alice)

	appendLink(t, base, buildLink(t, base, alice, ActionAddMember, AddMemberAction{
		Member:    carol.member(),
		Lockboxes: []keyset.Lockbox{lockboxTo(t, teamKs, carol.ks)},
	}))

	a := &graph.Graph{Root: base.Root, Head: base.Head, Links: cloneLinkMap(base.Links)}
	b := &graph.Graph{Root: base.Root, Head: base.Head, Links: cloneLinkMap(base.Links)}

	rotatedTeamKs, err := keyset.RotateKeyset(teamKs, nil)
	require.NoError(t, err)
	appendLink(t, a, buildLink(t, a, alice, ActionRemoveMember, RemoveMemberAction{
		UserName:  "carol",
		Lockboxes: []keyset.Lockbox{lockboxTo(t, rotatedTeamKs, alice.ks)},
	}))

	appendLink(t, b, buildLink(t, b, carol, ActionAddRole, AddRoleAction{
		Role: Role{RoleName: "guest"},
	}))

	merged, err := graph.Merge(a, b)
	require.NoError(t, err)

	s, vr, err := Replay(merged, NewMembershipResolver())
	require.NoError(t, err)
	require.True(t, vr.IsValid)

	require.False(t, s.Has("carol"))
	_, hasGuest := s.Roles["guest"]
	require.False(t, hasGuest, "carol's concurrent write should be dropped by the membership resolver")
}

func TestMutualAdminRemovalPicksDeterministicLoser(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	base, teamKs, adminKs := buildRootGraph(t, alice)

	appendLink(t, base, buildLink(t, base, alice, ActionAddMember, AddMemberAction{
		Member:    bob.member(),
		Lockboxes: []keyset.Lockbox{lockboxTo(t, teamKs, bob.ks)},
	}))
	appendLink(t, base, buildLink(t, base, alice, ActionAddMemberRole, AddMemberRoleAction{
		UserName:  "bob",
		RoleName:  AdminRole,
		Lockboxes: []keyset.Lockbox{lockboxTo(t, adminKs, bob.ks)},
	}))

	a := &graph.Graph{Root: base.Root, Head: base.Head, Links: cloneLinkMap(base.Links)}
	b := &graph.Graph{Root: base.Root, Head: base.Head, Links: cloneLinkMap(base.Links)}

	// both alice and bob now hold TEAM and ROLE/admin, so either's removal
	// must rotate both scopes to satisfy requireRotationCoverage symmetrically.
	rotatedTeam1, err := keyset.RotateKeyset(teamKs, nil)
	require.NoError(t, err)
	rotatedAdmin1, err := keyset.RotateKeyset(adminKs, nil)
	require.NoError(t, err)
	appendLink(t, a, buildLink(t, a, alice, ActionRemoveMember, RemoveMemberAction{
		UserName: "bob",
		Lockboxes: []keyset.Lockbox{
			lockboxTo(t, rotatedTeam1, alice.ks),
			lockboxTo(t, rotatedAdmin1, alice.ks),
		},
	}))

	rotatedTeam2, err := keyset.RotateKeyset(teamKs, nil)
	require.NoError(t, err)
	rotatedAdmin2, err := keyset.RotateKeyset(adminKs, nil)
	require.NoError(t, err)
	appendLink(t, b, buildLink(t, b, bob, ActionRemoveMember, RemoveMemberAction{
		UserName: "alice",
		Lockboxes: []keyset.Lockbox{
			lockboxTo(t, rotatedTeam2, bob.ks),
			lockboxTo(t, rotatedAdmin2, bob.ks),
		},
	}))

	mergedAB, err := graph.Merge(a, b)
	require.NoError(t, err)
	mergedBA, err := graph.Merge(b, a)
	require.NoError(t, err)

	sAB, vrAB, err := Replay(mergedAB, NewMembershipResolver())
	require.NoError(t, err)
	sBA, vrBA, err := Replay(mergedBA, NewMembershipResolver())
	require.NoError(t, err)

	// exactly one of the two mutual removals should have taken effect, and
	// the outcome must agree regardless of merge order.
	require.Equal(t, vrAB.IsValid, vrBA.IsValid)
	require.Equal(t, sAB.Has("alice"), sBA.Has("alice"))
	require.Equal(t, sAB.Has("bob"), sBA.Has("bob"))
	require.True(t, sAB.Has("alice") != sAB.Has("bob"), "exactly one of the mutual removals takes effect")
}

func TestAdmitInvitedMemberTracksUses(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	g, _, _ := buildRootGraph(t, alice)

	invite := PostedInvitation{
		ID:               "inv-1",
		Type:             InvitationMember,
		PublicSigningKey: "unused-in-this-test",
		MaxUses:          1,
	}
	appendLink(t, g, buildLink(t, g, alice, ActionPostInvitation, PostInvitationAction{Invitation: invite}))

	admit := buildLink(t, g, alice, ActionAdmitInvitedMember, AdmitInvitedMemberAction{
		ID:     "inv-1",
		Member: bob.member(),
	})
	appendLink(t, g, admit)

	s, vr, err := Replay(g, nil)
	require.NoError(t, err)
	require.True(t, vr.IsValid)
	require.True(t, s.Has("bob"))
	require.True(t, s.Invitations["inv-1"].Exhausted())

	// a second admit against the same exhausted invitation is rejected.
	secondAdmit := buildLink(t, g, alice, ActionAdmitInvitedMember, AdmitInvitedMemberAction{
		ID:     "inv-1",
		Member: bob.member(),
	})
	appendLink(t, g, secondAdmit)

	_, vr2, err := Replay(g, nil)
	require.NoError(t, err)
	require.False(t, vr2.IsValid)
	require.ErrorIs(t, vr2.Error, ErrInvitationUsed)
}

func cloneLinkMap(in map[string]graph.Link) map[string]graph.Link {
	out := make(map[string]graph.Link, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
