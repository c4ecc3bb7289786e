package team

import (
	"fmt"
	"time"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/piprate/teamkeep/internal/jsonw"
	"github.com/piprate/teamkeep/internal/keyset"
	itm "github.com/piprate/teamkeep/internal/team"
)

// InviteMember posts a sealed member invitation under secretKey, usable up
// to maxUses times (0 meaning unlimited) until expiration (nil meaning
// never).
func (t *Team) InviteMember(secretKey string, maxUses int, expiration *time.Time) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.postInvitation(invitation.KindMember, secretKey, maxUses, expiration, nil)
}

// InviteDevice posts a sealed invitation for a new device of the caller's
// own account.
func (t *Team) InviteDevice(secretKey string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.postInvitation(invitation.KindDevice, secretKey, 1, nil, nil)
}

func (t *Team) postInvitation(kind invitation.Kind, secretKey string, maxUses int, expiration *time.Time, roles []string) (string, error) {
	teamKeys, err := t.keyring.GetLatest(keyset.ScopeTeam, t.teamName)
	if err != nil {
		return "", fmt.Errorf("team: invite: %w", err)
	}
	symKey, err := teamSymmetricKey(teamKeys)
	if err != nil {
		return "", fmt.Errorf("team: invite: %w", err)
	}

	// Member invitations are open: any invitee may name themselves when
	// accepting, so the payload carries no UserName. Device invitations
	// bind to the inviter, since a device invite only ever enrolls a new
	// device of the inviting member's own account.
	userName := ""
	if kind == invitation.KindDevice {
		userName = t.user.UserName
	}

	posted, err := invitation.Create(invitation.CreateParams{
		TeamKey:    symKey,
		Type:       kind,
		UserName:   userName,
		SecretKey:  secretKey,
		MaxUses:    maxUses,
		Expiration: expiration,
		Roles:      roles,
	})
	if err != nil {
		return "", fmt.Errorf("team: invite: %w", err)
	}

	rec := itm.PostedInvitation{
		ID:               posted.ID,
		Type:             itm.InvitationType(kind),
		EncryptedPayload: posted.EncryptedPayload,
		PublicSigningKey: posted.PublicSigningKey,
		MaxUses:          posted.MaxUses,
		Expiration:       posted.Expiration,
	}
	if err := t.apply(itm.ActionPostInvitation, itm.PostInvitationAction{Invitation: rec}); err != nil {
		return "", err
	}
	return posted.ID, nil
}

// RevokeInvitation revokes a posted invitation by id; already-used
// admissions are unaffected.
func (t *Team) RevokeInvitation(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apply(itm.ActionRevokeInvitation, itm.RevokeInvitationAction{ID: id})
}

// invitationView builds the subset of a posted invitation's fields
// invitation.Validate needs, and the team symmetric key to decrypt it.
func (t *Team) invitationView(id string) (invitation.PostedInvitationView, crypto.SymmetricKey, error) {
	rec, ok := t.state.Invitations[id]
	if !ok {
		return invitation.PostedInvitationView{}, crypto.SymmetricKey{}, itm.ErrInvitationNotFound
	}
	teamKeys, err := t.keyring.GetLatest(keyset.ScopeTeam, t.teamName)
	if err != nil {
		return invitation.PostedInvitationView{}, crypto.SymmetricKey{}, err
	}
	symKey, err := teamSymmetricKey(teamKeys)
	if err != nil {
		return invitation.PostedInvitationView{}, crypto.SymmetricKey{}, err
	}
	view := invitation.PostedInvitationView{
		Type:             invitation.Kind(rec.Type),
		EncryptedPayload: rec.EncryptedPayload,
		PublicSigningKey: rec.PublicSigningKey,
		Revoked:          rec.Revoked,
		UsesCount:        rec.UsesCount,
		MaxUses:          rec.MaxUses,
		Expiration:       rec.Expiration,
	}
	return view, symKey, nil
}

// Admit validates proof against a posted member invitation and, if valid,
// admits the prover as a new member holding the team key. Role inheritance
// from the invitation's encrypted payload is not wired through here —
// invitation.Validate only reports pass/fail, not the decrypted payload —
// so any roles the inviter intended are granted afterwards via
// AddMemberRole. This is a deliberate simplification, not an oversight.
func (t *Team) Admit(proof invitation.ProofOfInvitation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admitMemberLocked(proof)
}

func (t *Team) admitMemberLocked(proof invitation.ProofOfInvitation) error {
	view, symKey, err := t.invitationView(proof.ID)
	if err != nil {
		return fmt.Errorf("team: admit: %w", err)
	}
	if err := invitation.Validate(proof, view, symKey); err != nil {
		return fmt.Errorf("team: admit: %w", err)
	}

	var memberKeys keyset.Keyset
	if err := jsonw.Unmarshal([]byte(proof.Payload.PublicKeys), &memberKeys); err != nil {
		return fmt.Errorf("team: admit: malformed proposed keys: %w", err)
	}

	teamKeys, err := t.keyring.GetLatest(keyset.ScopeTeam, t.teamName)
	if err != nil {
		return fmt.Errorf("team: admit: %w", err)
	}
	recipient := memberKeys
	lb, err := keyset.CreateLockbox(teamKeys, recipient)
	if err != nil {
		return fmt.Errorf("team: admit: %w", err)
	}

	member := itm.Member{
		UserName: proof.Payload.UserName,
		Keys:     keyset.Redact(memberKeys),
		Roles:    map[string]bool{},
		Devices:  map[string]itm.DevicePublic{},
	}
	return t.apply(itm.ActionAdmitInvitedMember, itm.AdmitInvitedMemberAction{
		ID: proof.ID, Member: member, Lockboxes: []keyset.Lockbox{lb},
	})
}

// admitDeviceLocked validates proof against a posted device invitation and,
// if valid, adds the prover as a new device of the calling member's own
// account — per internal/team's reducer, a link's author always owns the
// device it enrolls, so this can only enroll a device for the local user.
// Exported as AdmitDevice in host.go, which also satisfies
// internal/connection.Host.
func (t *Team) admitDeviceLocked(proof invitation.ProofOfInvitation) error {
	view, symKey, err := t.invitationView(proof.ID)
	if err != nil {
		return fmt.Errorf("team: admit device: %w", err)
	}
	if err := invitation.Validate(proof, view, symKey); err != nil {
		return fmt.Errorf("team: admit device: %w", err)
	}

	var deviceKeys keyset.Keyset
	if err := jsonw.Unmarshal([]byte(proof.Payload.PublicKeys), &deviceKeys); err != nil {
		return fmt.Errorf("team: admit device: malformed proposed keys: %w", err)
	}

	device := itm.DevicePublic{DeviceID: proof.Payload.DeviceID, Keys: keyset.Redact(deviceKeys)}
	return t.apply(itm.ActionAdmitInvitedDevice, itm.AdmitInvitedDeviceAction{ID: proof.ID, Device: device})
}
