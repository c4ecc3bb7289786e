package team

import (
	"encoding/json"
	"fmt"

	"github.com/piprate/teamkeep/internal/jsonw"
	"github.com/piprate/teamkeep/internal/keyset"
)

// ActionType tags the variant of a link's payload (spec.md §9: "dynamic
// dispatch over actions ... realized as a tagged variant").
type ActionType string

const (
	ActionRoot               ActionType = "ROOT"
	ActionAddMember          ActionType = "ADD_MEMBER"
	ActionRemoveMember       ActionType = "REMOVE_MEMBER"
	ActionAddRole            ActionType = "ADD_ROLE"
	ActionRemoveRole         ActionType = "REMOVE_ROLE"
	ActionAddMemberRole      ActionType = "ADD_MEMBER_ROLE"
	ActionRemoveMemberRole   ActionType = "REMOVE_MEMBER_ROLE"
	ActionAddDevice          ActionType = "ADD_DEVICE"
	ActionRemoveDevice       ActionType = "REMOVE_DEVICE"
	ActionPostInvitation     ActionType = "POST_INVITATION"
	ActionRevokeInvitation   ActionType = "REVOKE_INVITATION"
	ActionAdmitInvitedMember ActionType = "ADMIT_INVITED_MEMBER"
	ActionAdmitInvitedDevice ActionType = "ADMIT_INVITED_DEVICE"
	ActionChangeKeys         ActionType = "CHANGE_KEYS"
)

// Action is the envelope every link's payload carries. Body is the
// variant-specific struct, held as raw JSON until the registry dispatches
// on Type.
type Action struct {
	Type ActionType      `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NewAction builds an Action envelope around body, marshaled to its raw
// form. Exported so the host-facing team façade (a separate package) can
// construct a link payload without reaching into this package's internals.
func NewAction(t ActionType, body any) (Action, error) {
	b, err := jsonw.Marshal(body)
	if err != nil {
		return Action{}, err
	}
	return Action{Type: t, Body: b}, nil
}

func (a Action) decode(out any) error {
	if err := jsonw.Unmarshal(a.Body, out); err != nil {
		return fmt.Errorf("team: bad action body for %s: %w", a.Type, err)
	}
	return nil
}

// decodeAction unmarshals a link's raw payload into its Action envelope.
func decodeAction(payload json.RawMessage) (Action, error) {
	var a Action
	if err := jsonw.Unmarshal(payload, &a); err != nil {
		return Action{}, fmt.Errorf("team: bad link payload: %w", err)
	}
	return a, nil
}

// EncodePayload marshals an Action envelope for use as a link's payload.
func EncodePayload(a Action) (json.RawMessage, error) {
	b, err := jsonw.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// RootAction initializes team state. rootMember becomes the sole member,
// holding the admin role.
type RootAction struct {
	TeamName   string           `json:"teamName"`
	RootMember Member           `json:"rootMember"`
	AdminKeys  keyset.Keyset    `json:"adminKeys"`
	Lockboxes  []keyset.Lockbox `json:"lockboxes"`
}

// AddMemberAction admits member directly (not via invitation).
type AddMemberAction struct {
	Member    Member           `json:"member"`
	Roles     []string         `json:"roles"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

// RemoveMemberAction removes a member and rotates the scopes they could reach.
type RemoveMemberAction struct {
	UserName  string           `json:"userName"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type AddRoleAction struct {
	Role      Role             `json:"role"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type RemoveRoleAction struct {
	RoleName  string           `json:"roleName"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type AddMemberRoleAction struct {
	UserName  string           `json:"userName"`
	RoleName  string           `json:"roleName"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type RemoveMemberRoleAction struct {
	UserName  string           `json:"userName"`
	RoleName  string           `json:"roleName"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type AddDeviceAction struct {
	UserName  string           `json:"userName"`
	Device    DevicePublic     `json:"device"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type RemoveDeviceAction struct {
	UserName  string           `json:"userName"`
	DeviceID  string           `json:"deviceId"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type PostInvitationAction struct {
	Invitation PostedInvitation `json:"invitation"`
}

type RevokeInvitationAction struct {
	ID string `json:"id"`
}

type AdmitInvitedMemberAction struct {
	ID        string           `json:"id"`
	Member    Member           `json:"member"`
	Roles     []string         `json:"roles"`
	Lockboxes []keyset.Lockbox `json:"lockboxes"`
}

type AdmitInvitedDeviceAction struct {
	ID     string       `json:"id"`
	Device DevicePublic `json:"device"`
}

type ChangeKeysAction struct {
	Scope        keyset.Scope     `json:"scope"`
	Name         string           `json:"name"`
	NewPublicKey keyset.Keyset    `json:"newPublicKeys"`
	Lockboxes    []keyset.Lockbox `json:"lockboxes"`
}
