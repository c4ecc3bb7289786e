package team

import "github.com/piprate/teamkeep/internal/keyset"

// A validatorFunc runs first for its action type (policy); it rejects a
// link without mutating state. transformFunc then runs the pure effect.
// Together they are the per-variant pair the registry in reducer.go maps
// action tags to (spec.md §9 "dynamic dispatch over actions").
type validatorFunc func(s State, author string, a Action) error

func validateRoot(s State, author string, a Action) error {
	if s.TeamName != "" || len(s.Members) != 0 {
		return ErrProtocolViolation // ROOT only valid as the first link
	}
	var body RootAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if body.RootMember.UserName != author {
		return ErrNameMismatch
	}
	if len(body.Lockboxes) < 2 {
		return ErrProtocolViolation // must seal at least team keys and admin keys
	}
	sawAdminKeys := false
	for _, lb := range body.Lockboxes {
		if lb.Recipient.PublicKey != body.RootMember.Keys.Encryption.Public {
			return ErrProtocolViolation
		}
		if lb.Contents.Scope == body.AdminKeys.Scope && lb.Contents.Name == body.AdminKeys.Name &&
			lb.Contents.Generation == body.AdminKeys.Generation {
			sawAdminKeys = true
		}
	}
	if !sawAdminKeys {
		return ErrProtocolViolation
	}
	return nil
}

func validateAddMember(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body AddMemberAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if _, exists := s.Members[body.Member.UserName]; exists {
		return ErrAlreadyMember
	}
	for _, roleName := range body.Roles {
		if _, ok := s.Roles[roleName]; !ok {
			return ErrNotFound
		}
	}
	for _, lb := range body.Lockboxes {
		if lb.Recipient.PublicKey != body.Member.Keys.Encryption.Public {
			return ErrProtocolViolation
		}
	}
	return nil
}

func validateRemoveMember(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body RemoveMemberAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if author == body.UserName {
		return ErrProtocolViolation // an admin cannot remove themselves
	}
	if !s.Has(body.UserName) {
		return ErrNotFound
	}
	toRotate := downstreamScopes(s.Members[body.UserName].Keys.ID(), s.Lockboxes)
	return requireRotationCoverage(toRotate, body.Lockboxes)
}

func validateAddRole(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body AddRoleAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if _, exists := s.Roles[body.Role.RoleName]; exists {
		return ErrProtocolViolation
	}
	return nil
}

func validateRemoveRole(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body RemoveRoleAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if body.RoleName == AdminRole {
		return ErrProtocolViolation // the admin role is never removable
	}
	role, ok := s.Roles[body.RoleName]
	if !ok {
		return ErrNotFound
	}
	toRotate := downstreamScopes(role.Keys.ID(), s.Lockboxes)
	return requireRotationCoverage(toRotate, body.Lockboxes)
}

func validateAddMemberRole(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body AddMemberRoleAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if !s.Has(body.UserName) {
		return ErrNotFound
	}
	if _, ok := s.Roles[body.RoleName]; !ok {
		return ErrNotFound
	}
	if s.Members[body.UserName].HasRole(body.RoleName) {
		return ErrProtocolViolation
	}
	return nil
}

func validateRemoveMemberRole(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body RemoveMemberRoleAction
	if err := a.decode(&body); err != nil {
		return err
	}
	m, ok := s.Members[body.UserName]
	if !ok {
		return ErrNotFound
	}
	if !m.HasRole(body.RoleName) {
		return ErrNotFound
	}
	if body.RoleName == AdminRole && body.UserName == s.RootContext.UserName {
		return ErrProtocolViolation // the founding admin always keeps admin
	}
	return nil
}

func validateAddDevice(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body AddDeviceAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if !s.Has(body.UserName) {
		return ErrNotFound
	}
	if _, _, exists := DeviceOwner(s, body.Device.DeviceID); exists {
		return ErrProtocolViolation
	}
	for _, lb := range body.Lockboxes {
		if lb.Recipient.PublicKey != body.Device.Keys.Encryption.Public {
			return ErrProtocolViolation
		}
	}
	return nil
}

func validateRemoveDevice(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body RemoveDeviceAction
	if err := a.decode(&body); err != nil {
		return err
	}
	m, ok := s.Members[body.UserName]
	if !ok {
		return ErrNotFound
	}
	dev, ok := m.Devices[body.DeviceID]
	if !ok {
		return ErrNotFound
	}
	toRotate := downstreamScopes(dev.Keys.ID(), s.Lockboxes)
	return requireRotationCoverage(toRotate, body.Lockboxes)
}

func validatePostInvitation(s State, author string, a Action) error {
	var body PostInvitationAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if !s.Has(author) {
		return ErrNotFound
	}
	if body.Invitation.Type == InvitationMember && !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	if _, exists := s.Invitations[body.Invitation.ID]; exists {
		return ErrProtocolViolation
	}
	return nil
}

func validateRevokeInvitation(s State, author string, a Action) error {
	if !s.IsAdmin(author) {
		return ErrNotAdmin
	}
	var body RevokeInvitationAction
	if err := a.decode(&body); err != nil {
		return err
	}
	pi, ok := s.Invitations[body.ID]
	if !ok {
		return ErrInvitationNotFound
	}
	if pi.Revoked {
		return ErrInvitationRevoked
	}
	return nil
}

func validateAdmitInvitedMember(s State, author string, a Action) error {
	if !s.Has(author) {
		return ErrNotFound
	}
	var body AdmitInvitedMemberAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if _, err := validateInvitationUsable(s, body.ID, InvitationMember); err != nil {
		return err
	}
	if _, exists := s.Members[body.Member.UserName]; exists {
		return ErrAlreadyMember
	}
	for _, roleName := range body.Roles {
		if _, ok := s.Roles[roleName]; !ok {
			return ErrNotFound
		}
	}
	return nil
}

func validateAdmitInvitedDevice(s State, author string, a Action) error {
	if !s.Has(author) {
		return ErrNotFound
	}
	var body AdmitInvitedDeviceAction
	if err := a.decode(&body); err != nil {
		return err
	}
	if _, err := validateInvitationUsable(s, body.ID, InvitationDevice); err != nil {
		return err
	}
	if _, _, exists := DeviceOwner(s, body.Device.DeviceID); exists {
		return ErrProtocolViolation
	}
	return nil
}

func validateInvitationUsable(s State, id string, want InvitationType) (PostedInvitation, error) {
	pi, ok := s.Invitations[id]
	if !ok {
		return PostedInvitation{}, ErrInvitationNotFound
	}
	if pi.Type != want {
		return PostedInvitation{}, ErrProtocolViolation
	}
	if pi.Revoked {
		return PostedInvitation{}, ErrInvitationRevoked
	}
	if pi.Exhausted() {
		return PostedInvitation{}, ErrInvitationUsed
	}
	if pi.Expired(timeNow()) {
		return PostedInvitation{}, ErrInvitationExpired
	}
	return pi, nil
}

func validateChangeKeys(s State, author string, a Action) error {
	var body ChangeKeysAction
	if err := a.decode(&body); err != nil {
		return err
	}

	switch body.Scope {
	case keyset.ScopeTeam, keyset.ScopeRole, keyset.ScopeServer:
		if !s.IsAdmin(author) {
			return ErrNotAdmin
		}
	case keyset.ScopeMember:
		if author != body.Name && !s.IsAdmin(author) {
			return ErrNotAdmin
		}
	case keyset.ScopeDevice:
		owner, _, exists := DeviceOwner(s, body.Name)
		if !exists {
			return ErrNotFound
		}
		if owner != author && !s.IsAdmin(author) {
			return ErrNotAdmin
		}
	default:
		return ErrProtocolViolation
	}

	gen, ok := CurrentGeneration(s, body.Scope, body.Name)
	wantGen := uint32(0)
	if ok {
		wantGen = gen + 1
	}
	if body.NewPublicKey.Generation != wantGen {
		return ErrProtocolViolation
	}
	return nil
}
