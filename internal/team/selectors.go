package team

import (
	"crypto/ed25519"
	"fmt"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/keyset"
)

// MemberByName returns the named member, if present regardless of removal.
func MemberByName(s State, userName string) (Member, bool) {
	m, ok := s.Members[userName]
	return m, ok
}

// RoleByName returns the named role.
func RoleByName(s State, roleName string) (Role, bool) {
	r, ok := s.Roles[roleName]
	return r, ok
}

// InvitationByID returns the posted invitation with id.
func InvitationByID(s State, id string) (PostedInvitation, bool) {
	pi, ok := s.Invitations[id]
	return pi, ok
}

// DeviceOwner returns the userName of the member who owns deviceID, and the
// device record itself.
func DeviceOwner(s State, deviceID string) (userName string, device DevicePublic, ok bool) {
	for name, m := range s.Members {
		if d, found := m.Devices[deviceID]; found {
			return name, d, true
		}
	}
	return "", DevicePublic{}, false
}

// HasPermission reports whether userName, through any role they currently
// hold, is granted permission.
func HasPermission(s State, userName, permission string) bool {
	m, ok := s.Members[userName]
	if !ok || s.RemovedMembers[userName] {
		return false
	}
	for roleName := range m.Roles {
		if r, ok := s.Roles[roleName]; ok && r.HasPermission(permission) {
			return true
		}
	}
	return false
}

// CurrentGeneration returns the highest generation for (scope, name) visible
// in s.Lockboxes' Contents — the only record of a scope's current public
// keyset that the reduced state carries (spec.md §3 lists no separate
// per-scope keyset field).
func CurrentGeneration(s State, scope keyset.Scope, name string) (uint32, bool) {
	found := false
	var gen uint32
	for _, lb := range s.Lockboxes {
		if lb.Contents.Scope != scope || lb.Contents.Name != name {
			continue
		}
		if !found || lb.Contents.Generation > gen {
			gen = lb.Contents.Generation
			found = true
		}
	}
	return gen, found
}

// signingKeyFor returns the public signing key that link's claimed author
// must have signed with, as known at s — the state immediately preceding
// link in the fold. Used both to verify link.Signature and to supply
// graph.Validate its KeyLookup.
func signingKeyFor(s State, link graph.Link) (ed25519.PublicKey, error) {
	if link.Kind == graph.KindRoot {
		if link.Context == nil {
			return nil, fmt.Errorf("team: %w: root link carries no context", ErrGraphCorrupt)
		}
		pub, err := crypto.Decode(link.Context.SigningPublicKey)
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(pub), nil
	}
	m, ok := s.Members[link.UserName]
	if !ok {
		return nil, fmt.Errorf("team: %w: no such member %q to verify link", ErrNotFound, link.UserName)
	}
	return m.Keys.SigningPublicKey()
}

// KeyLookup adapts signingKeyFor into the graph.KeyLookup signature
// graph.Validate expects, closing over a fixed state snapshot. Used for a
// post-hoc structural re-validation of an already-reduced graph; Fold itself
// verifies each link against the state that precedes it, not a single fixed
// snapshot.
func KeyLookup(s State) graph.KeyLookup {
	return func(link graph.Link) ([]byte, error) {
		return signingKeyFor(s, link)
	}
}
