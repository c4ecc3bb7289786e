package team

import (
	"fmt"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/keyset"
	itm "github.com/piprate/teamkeep/internal/team"
)

// rotationFixpoint replicates internal/team's unexported scopesToRotate /
// downstreamScopes: starting from compromised, it walks the lockbox graph
// forward (a scope that can open another scope's secret "reaches" it) until
// no more scopes are newly reached, then reports every reached scope except
// compromised itself — the set whose secrets a host must mint fresh
// generations for and reseal to remaining holders. internal/team's
// validators only check that a host-proposed rotation *covers* this set;
// they don't compute it, so the host has to.
func rotationFixpoint(compromised keyset.ID, lockboxes []keyset.Lockbox) map[keyset.ID]bool {
	reached := map[keyset.ID]bool{compromised: true}
	for {
		progressed := false
		for _, lb := range lockboxes {
			rcpt := keyset.ID{Scope: lb.Recipient.Scope, Name: lb.Recipient.Name, Generation: lb.Recipient.Generation}
			contents := keyset.ID{Scope: lb.Contents.Scope, Name: lb.Contents.Name, Generation: lb.Contents.Generation}
			if reached[rcpt] && !reached[contents] {
				reached[contents] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	delete(reached, compromised)
	return reached
}

// rotateScopes mints a fresh generation for every id in toRotate and reseals
// it to every current holder found in t.state.Lockboxes, except a holder
// whose encryption public key equals excludeRecipientPub (the principal
// being removed, who must not receive the new generation).
func (t *Team) rotateScopes(toRotate map[keyset.ID]bool, excludeRecipientPub string) ([]keyset.Lockbox, error) {
	var out []keyset.Lockbox
	for id := range toRotate {
		prev := keyset.Keyset{Scope: id.Scope, Name: id.Name, Generation: id.Generation}
		newKs, err := keyset.RotateKeyset(prev, nil)
		if err != nil {
			return nil, fmt.Errorf("team: rotate %s/%s: %w", id.Scope, id.Name, err)
		}

		seen := map[string]bool{}
		for _, lb := range t.state.Lockboxes {
			if lb.Contents.Scope != id.Scope || lb.Contents.Name != id.Name || lb.Contents.Generation != id.Generation {
				continue
			}
			if lb.Recipient.PublicKey == excludeRecipientPub || seen[lb.Recipient.PublicKey] {
				continue
			}
			seen[lb.Recipient.PublicKey] = true

			recipient := keyset.Keyset{
				Scope:      lb.Recipient.Scope,
				Name:       lb.Recipient.Name,
				Generation: lb.Recipient.Generation,
				Encryption: keyset.KeyPair{Public: lb.Recipient.PublicKey},
			}
			newLb, err := keyset.RotateLockbox(lb, newKs, recipient)
			if err != nil {
				return nil, fmt.Errorf("team: reseal %s/%s: %w", id.Scope, id.Name, err)
			}
			out = append(out, newLb)
		}
	}
	return out, nil
}

// teamSymmetricKey derives the AEAD key invitation payloads are sealed
// under from the team scope's encryption secret, the same domain-tagged
// hash pattern internal/keyset uses to derive signing keys from seeds —
// anyone whose keyring reaches the team scope derives the identical key.
func teamSymmetricKey(ks keyset.Keyset) (crypto.SymmetricKey, error) {
	sec, err := ks.EncryptionSecretKey()
	if err != nil {
		return crypto.SymmetricKey{}, err
	}
	return crypto.NewSymmetricKey(crypto.Hash("team_invitation_key", sec)), nil
}

// AddMember admits memberPublicKeys directly, without going through an
// invitation, granting the new member the team key and each named role's
// key. memberPublicKeys.Name must be the new member's user name.
func (t *Team) AddMember(memberPublicKeys keyset.Keyset, roles []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	teamKeys, err := t.keyring.GetLatest(keyset.ScopeTeam, t.teamName)
	if err != nil {
		return fmt.Errorf("team: add member: %w", err)
	}
	recipient := memberPublicKeys

	lockboxes := make([]keyset.Lockbox, 0, len(roles)+1)
	teamLb, err := keyset.CreateLockbox(teamKeys, recipient)
	if err != nil {
		return fmt.Errorf("team: add member: %w", err)
	}
	lockboxes = append(lockboxes, teamLb)

	for _, roleName := range roles {
		roleKeys, err := t.keyring.GetLatest(keyset.ScopeRole, roleName)
		if err != nil {
			return fmt.Errorf("team: add member: role %q: %w", roleName, itm.ErrKeyNotReachable)
		}
		roleLb, err := keyset.CreateLockbox(roleKeys, recipient)
		if err != nil {
			return fmt.Errorf("team: add member: %w", err)
		}
		lockboxes = append(lockboxes, roleLb)
	}

	member := itm.Member{
		UserName: memberPublicKeys.Name,
		Keys:     keyset.Redact(memberPublicKeys),
		Roles:    map[string]bool{},
		Devices:  map[string]itm.DevicePublic{},
	}
	return t.apply(itm.ActionAddMember, itm.AddMemberAction{Member: member, Roles: roles, Lockboxes: lockboxes})
}

// Remove removes userName from the team and rotates every scope their
// membership could reach (spec.md invariant I7).
func (t *Team) Remove(userName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	member, ok := t.state.Members[userName]
	if !ok {
		return itm.ErrNotFound
	}
	toRotate := rotationFixpoint(member.Keys.ID(), t.state.Lockboxes)
	lockboxes, err := t.rotateScopes(toRotate, member.Keys.Encryption.Public)
	if err != nil {
		return fmt.Errorf("team: remove %s: %w", userName, err)
	}
	return t.apply(itm.ActionRemoveMember, itm.RemoveMemberAction{UserName: userName, Lockboxes: lockboxes})
}

// AddRole defines a new role, seals its key to the caller, and grants it
// the given permissions.
func (t *Team) AddRole(roleName string, permissions []string, accessLevel int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	roleKeys, err := keyset.CreateKeyset(keyset.ScopeRole, roleName, nil)
	if err != nil {
		return fmt.Errorf("team: add role: %w", err)
	}
	recipient := t.memberKeys
	lb, err := keyset.CreateLockbox(roleKeys, recipient)
	if err != nil {
		return fmt.Errorf("team: add role: %w", err)
	}

	role := itm.Role{
		RoleName:    roleName,
		Keys:        keyset.Redact(roleKeys),
		Permissions: permissions,
		AccessLevel: accessLevel,
	}
	return t.apply(itm.ActionAddRole, itm.AddRoleAction{Role: role, Lockboxes: []keyset.Lockbox{lb}})
}

// RemoveRole removes roleName and rotates every scope it could reach.
func (t *Team) RemoveRole(roleName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	role, ok := t.state.Roles[roleName]
	if !ok {
		return itm.ErrNotFound
	}
	toRotate := rotationFixpoint(role.Keys.ID(), t.state.Lockboxes)
	lockboxes, err := t.rotateScopes(toRotate, "")
	if err != nil {
		return fmt.Errorf("team: remove role %s: %w", roleName, err)
	}
	return t.apply(itm.ActionRemoveRole, itm.RemoveRoleAction{RoleName: roleName, Lockboxes: lockboxes})
}

// AddMemberRole grants userName roleName's current key.
func (t *Team) AddMemberRole(userName, roleName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	member, ok := t.state.Members[userName]
	if !ok {
		return itm.ErrNotFound
	}
	roleKeys, err := t.keyring.GetLatest(keyset.ScopeRole, roleName)
	if err != nil {
		return fmt.Errorf("team: add member role: %w", itm.ErrKeyNotReachable)
	}
	recipient := member.Keys
	lb, err := keyset.CreateLockbox(roleKeys, recipient)
	if err != nil {
		return fmt.Errorf("team: add member role: %w", err)
	}
	return t.apply(itm.ActionAddMemberRole, itm.AddMemberRoleAction{
		UserName: userName, RoleName: roleName, Lockboxes: []keyset.Lockbox{lb},
	})
}

// RemoveMemberRole revokes roleName's membership record for userName.
// Per spec.md's non-goals, this is bookkeeping only: it does not rotate
// roleName's key, since userName may already have cached its plaintext —
// only RemoveRole (removing the role altogether) gives that guarantee.
func (t *Team) RemoveMemberRole(userName, roleName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apply(itm.ActionRemoveMemberRole, itm.RemoveMemberRoleAction{UserName: userName, RoleName: roleName})
}

// AddDevice enrolls a device directly for an existing member, without an
// invitation.
func (t *Team) AddDevice(userName string, devicePublicKeys keyset.Keyset) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.state.Members[userName]; !ok {
		return itm.ErrNotFound
	}
	device := itm.DevicePublic{DeviceID: devicePublicKeys.Name, Keys: keyset.Redact(devicePublicKeys)}
	return t.apply(itm.ActionAddDevice, itm.AddDeviceAction{UserName: userName, Device: device})
}

// RemoveDevice removes deviceID from userName's device list and rotates
// any scope it could reach.
func (t *Team) RemoveDevice(userName, deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	member, ok := t.state.Members[userName]
	if !ok {
		return itm.ErrNotFound
	}
	dev, ok := member.Devices[deviceID]
	if !ok {
		return itm.ErrNotFound
	}
	toRotate := rotationFixpoint(dev.Keys.ID(), t.state.Lockboxes)
	lockboxes, err := t.rotateScopes(toRotate, dev.Keys.Encryption.Public)
	if err != nil {
		return fmt.Errorf("team: remove device %s: %w", deviceID, err)
	}
	return t.apply(itm.ActionRemoveDevice, itm.RemoveDeviceAction{UserName: userName, DeviceID: deviceID, Lockboxes: lockboxes})
}

// ChangeKeys rotates (scope, name) to a fresh generation and reseals it to
// every current holder — the general-purpose key-change operation spec.md
// §6 names, usable for a self-service key change as well as an admin-driven
// one (internal/team's validator gates who may call it per scope).
func (t *Team) ChangeKeys(scope keyset.Scope, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	gen, ok := itm.CurrentGeneration(t.state, scope, name)
	if !ok {
		return itm.ErrNotFound
	}
	id := keyset.ID{Scope: scope, Name: name, Generation: gen}
	lockboxes, err := t.rotateScopes(map[keyset.ID]bool{id: true}, "")
	if err != nil {
		return fmt.Errorf("team: change keys %s/%s: %w", scope, name, err)
	}
	newKs, err := keyset.RotateKeyset(keyset.Keyset{Scope: scope, Name: name, Generation: gen}, nil)
	if err != nil {
		return fmt.Errorf("team: change keys %s/%s: %w", scope, name, err)
	}
	return t.apply(itm.ActionChangeKeys, itm.ChangeKeysAction{
		Scope: scope, Name: name, NewPublicKey: keyset.Redact(newKs), Lockboxes: lockboxes,
	})
}

// AddServer mints a SERVER-scoped keyset for host and seals the current
// team key to it, so a non-member relay can decrypt team-scoped envelopes
// without being a graph principal. Unlike members and roles, servers are
// not represented in team state at all — spec.md's data model has no
// REMOVE_SERVER-style action, so this bookkeeping is local to the host and
// not synced across the graph. The returned keyset carries its secret; the
// caller is responsible for delivering it to the server out of band.
func (t *Team) AddServer(server string) (keyset.Keyset, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	serverKeys, err := keyset.CreateKeyset(keyset.ScopeServer, server, nil)
	if err != nil {
		return keyset.Keyset{}, fmt.Errorf("team: add server: %w", err)
	}
	teamKeys, err := t.keyring.GetLatest(keyset.ScopeTeam, t.teamName)
	if err != nil {
		return keyset.Keyset{}, fmt.Errorf("team: add server: %w", err)
	}
	lb, err := keyset.CreateLockbox(teamKeys, serverKeys)
	if err != nil {
		return keyset.Keyset{}, fmt.Errorf("team: add server: %w", err)
	}
	t.servers[server] = lb
	return serverKeys, nil
}

// RemoveServer forgets a previously added server.
func (t *Team) RemoveServer(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.servers, host)
}
