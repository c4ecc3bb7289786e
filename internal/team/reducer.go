package team

import (
	"fmt"
	"time"

	"github.com/piprate/teamkeep/internal/graph"
	"github.com/piprate/teamkeep/internal/keyset"
)

// timeNow is substitutable so expiration checks in tests don't depend on
// wall-clock time.
var timeNow = time.Now

// transformFunc is the effect half of an action's registry entry: given a
// validated action, it returns the new state.
type transformFunc func(s State, author string, a Action) (State, error)

type registryEntry struct {
	validate  validatorFunc
	transform transformFunc
}

var registry = map[ActionType]registryEntry{
	ActionRoot:               {validateRoot, applyRoot},
	ActionAddMember:          {validateAddMember, applyAddMember},
	ActionRemoveMember:       {validateRemoveMember, applyRemoveMember},
	ActionAddRole:            {validateAddRole, applyAddRole},
	ActionRemoveRole:         {validateRemoveRole, applyRemoveRole},
	ActionAddMemberRole:      {validateAddMemberRole, applyAddMemberRole},
	ActionRemoveMemberRole:   {validateRemoveMemberRole, applyRemoveMemberRole},
	ActionAddDevice:          {validateAddDevice, applyAddDevice},
	ActionRemoveDevice:       {validateRemoveDevice, applyRemoveDevice},
	ActionPostInvitation:     {validatePostInvitation, applyPostInvitation},
	ActionRevokeInvitation:   {validateRevokeInvitation, applyRevokeInvitation},
	ActionAdmitInvitedMember: {validateAdmitInvitedMember, applyAdmitInvitedMember},
	ActionAdmitInvitedDevice: {validateAdmitInvitedDevice, applyAdmitInvitedDevice},
	ActionChangeKeys:         {validateChangeKeys, applyChangeKeys},
}

func applyRoot(s State, author string, a Action) (State, error) {
	var body RootAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	out.TeamName = body.TeamName
	out.RootContext = RootMemberContext{UserName: body.RootMember.UserName}
	member := body.RootMember
	if member.Roles == nil {
		member.Roles = map[string]bool{}
	}
	member.Roles[AdminRole] = true
	if member.Devices == nil {
		member.Devices = map[string]DevicePublic{}
	}
	out.Members[member.UserName] = member
	out.Roles[AdminRole] = Role{RoleName: AdminRole, Keys: body.AdminKeys, Permissions: []string{"*"}}
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyAddMember(s State, author string, a Action) (State, error) {
	var body AddMemberAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	member := body.Member
	if member.Roles == nil {
		member.Roles = map[string]bool{}
	}
	for _, roleName := range body.Roles {
		member.Roles[roleName] = true
	}
	if member.Devices == nil {
		member.Devices = map[string]DevicePublic{}
	}
	out.Members[member.UserName] = member
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyRemoveMember(s State, author string, a Action) (State, error) {
	var body RemoveMemberAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	out.RemovedMembers[body.UserName] = true
	for deviceID := range out.Members[body.UserName].Devices {
		out.RemovedDevices[deviceID] = true
	}
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyAddRole(s State, author string, a Action) (State, error) {
	var body AddRoleAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	out.Roles[body.Role.RoleName] = body.Role
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyRemoveRole(s State, author string, a Action) (State, error) {
	var body RemoveRoleAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	delete(out.Roles, body.RoleName)
	for name, m := range out.Members {
		if m.Roles[body.RoleName] {
			delete(m.Roles, body.RoleName)
			out.Members[name] = m
		}
	}
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyAddMemberRole(s State, author string, a Action) (State, error) {
	var body AddMemberRoleAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	m := out.Members[body.UserName]
	m.Roles[body.RoleName] = true
	out.Members[body.UserName] = m
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyRemoveMemberRole(s State, author string, a Action) (State, error) {
	var body RemoveMemberRoleAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	m := out.Members[body.UserName]
	delete(m.Roles, body.RoleName)
	out.Members[body.UserName] = m
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyAddDevice(s State, author string, a Action) (State, error) {
	var body AddDeviceAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	m := out.Members[body.UserName]
	m.Devices[body.Device.DeviceID] = body.Device
	out.Members[body.UserName] = m
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyRemoveDevice(s State, author string, a Action) (State, error) {
	var body RemoveDeviceAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	m := out.Members[body.UserName]
	delete(m.Devices, body.DeviceID)
	out.Members[body.UserName] = m
	out.RemovedDevices[body.DeviceID] = true
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	return out, nil
}

func applyPostInvitation(s State, author string, a Action) (State, error) {
	var body PostInvitationAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	out.Invitations[body.Invitation.ID] = body.Invitation
	return out, nil
}

func applyRevokeInvitation(s State, author string, a Action) (State, error) {
	var body RevokeInvitationAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	pi := out.Invitations[body.ID]
	pi.Revoked = true
	out.Invitations[body.ID] = pi
	return out, nil
}

func applyAdmitInvitedMember(s State, author string, a Action) (State, error) {
	var body AdmitInvitedMemberAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	member := body.Member
	if member.Roles == nil {
		member.Roles = map[string]bool{}
	}
	for _, roleName := range body.Roles {
		member.Roles[roleName] = true
	}
	if member.Devices == nil {
		member.Devices = map[string]DevicePublic{}
	}
	out.Members[member.UserName] = member
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)
	pi := out.Invitations[body.ID]
	pi.UsesCount++
	out.Invitations[body.ID] = pi
	return out, nil
}

func applyAdmitInvitedDevice(s State, author string, a Action) (State, error) {
	var body AdmitInvitedDeviceAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	m := out.Members[author]
	m.Devices[body.Device.DeviceID] = body.Device
	out.Members[author] = m
	pi := out.Invitations[body.ID]
	pi.UsesCount++
	out.Invitations[body.ID] = pi
	return out, nil
}

func applyChangeKeys(s State, author string, a Action) (State, error) {
	var body ChangeKeysAction
	if err := a.decode(&body); err != nil {
		return s, err
	}
	out := s.clone()
	out.Lockboxes = append(out.Lockboxes, body.Lockboxes...)

	// Advance the rotated principal's own stored keyset, not just its
	// lockboxes — signingKeyFor reads Member.Keys directly, so a member
	// whose keys aren't advanced here would still verify against its
	// pre-rotation key after this link.
	switch body.Scope {
	case keyset.ScopeMember:
		if m, ok := out.Members[body.Name]; ok {
			m.Keys = keyset.Redact(body.NewPublicKey)
			out.Members[body.Name] = m
		}
	case keyset.ScopeRole:
		if r, ok := out.Roles[body.Name]; ok {
			r.Keys = keyset.Redact(body.NewPublicKey)
			out.Roles[body.Name] = r
		}
	case keyset.ScopeDevice:
		if owner, dp, exists := DeviceOwner(out, body.Name); exists {
			m := out.Members[owner]
			dp.Keys = keyset.Redact(body.NewPublicKey)
			m.Devices[body.Name] = dp
			out.Members[owner] = m
		}
	}
	return out, nil
}

// Reduce applies one link to s: decode its action, run the registered
// validator (policy) then transformer (effect). It does not itself verify
// link.Signature — Fold does that against the state immediately preceding
// link, per spec.md §4.D's split between a fatal signature failure and a
// rejecting validation failure.
func Reduce(s State, link graph.Link) (State, ValidationResult) {
	a, err := decodeAction(link.Payload)
	if err != nil {
		return s, invalid(err)
	}
	entry, ok := registry[a.Type]
	if !ok {
		return s, invalid(fmt.Errorf("%w: unknown action %q", ErrProtocolViolation, a.Type))
	}
	if err := entry.validate(s, link.UserName, a); err != nil {
		return s, invalid(err)
	}
	out, err := entry.transform(s, link.UserName, a)
	if err != nil {
		return s, invalid(err)
	}
	return out, valid()
}

// Fold replays links in order from initial, verifying each link's signature
// against the state that precedes it before calling Reduce. A signature
// failure is fatal (ErrGraphCorrupt) and aborts the whole fold; a rejected
// link (failed validator) halts the fold at that link, per spec.md §4.D
// "Failure semantics" — the returned state is the last one computed before
// the rejection, and the ValidationResult/error report which link and why.
func Fold(initial State, links []graph.Link) (State, ValidationResult, error) {
	s := initial
	for i, link := range links {
		pub, err := signingKeyFor(s, link)
		if err != nil {
			return s, invalid(err), fmt.Errorf("team: %w: link %d: %v", ErrGraphCorrupt, i, err)
		}
		ok, err := graph.VerifySignature(link, func() ([]byte, error) { return pub, nil })
		if err != nil {
			return s, invalid(err), fmt.Errorf("team: %w: link %d: %v", ErrGraphCorrupt, i, err)
		}
		if !ok {
			return s, invalid(ErrInvalidSignature), fmt.Errorf("team: %w: link %d", ErrGraphCorrupt, i)
		}

		next, vr := Reduce(s, link)
		if !vr.IsValid {
			return s, vr, nil
		}
		s = next
	}
	return s, valid(), nil
}

// Replay linearizes g with resolver (the membership-aware resolver for an
// already-known team, or graph.TrivialResolver for a fresh one admitting
// its founder) and folds the result from an empty initial state.
func Replay(g *graph.Graph, resolver graph.Resolver) (State, ValidationResult, error) {
	seq, err := graph.GetSequence(g, resolver, "", "")
	if err != nil {
		return State{}, invalid(err), err
	}
	initial := State{
		Members:        map[string]Member{},
		Roles:          map[string]Role{},
		Invitations:    map[string]PostedInvitation{},
		RemovedMembers: map[string]bool{},
		RemovedDevices: map[string]bool{},
	}
	return Fold(initial, seq)
}
