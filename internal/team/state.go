// Package team implements the pure fold over a linearized signature graph
// that maintains a team's members, roles, devices, invitations and
// lockboxes (spec.md §4.D), plus the membership-aware merge resolver
// (spec.md §4.C) that the reducer owns because it needs reduced state to
// decide what a concurrent branch dropped.
package team

import (
	"time"

	"github.com/piprate/teamkeep/internal/keyset"
)

// DevicePublic is a member's enrolled device, keyed by device id.
type DevicePublic struct {
	DeviceID string        `json:"deviceId"`
	Keys     keyset.Keyset `json:"keys"`
}

// Member is one team member: their public keys, role memberships, and
// enrolled devices.
type Member struct {
	UserName string                  `json:"userName"`
	Keys     keyset.Keyset           `json:"keys"`
	Roles    map[string]bool         `json:"roles"`
	Devices  map[string]DevicePublic `json:"devices"`
}

// HasRole reports whether m belongs to roleName.
func (m Member) HasRole(roleName string) bool {
	return m.Roles[roleName]
}

// Role is a named permission set. AccessLevel is a supplemental field (see
// SPEC_FULL.md [D]) recorded when a role is added; nothing in this module
// reads it, so it gates no action. It plays no part in any invariant from
// spec.md §3.
type Role struct {
	RoleName    string        `json:"roleName"`
	Keys        keyset.Keyset `json:"keys"`
	Permissions []string      `json:"permissions"`
	AccessLevel int           `json:"accessLevel,omitempty"`
}

// HasPermission reports whether r grants permission.
func (r Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// InvitationType distinguishes a member invitation from a device invitation.
type InvitationType string

const (
	InvitationMember InvitationType = "MEMBER"
	InvitationDevice InvitationType = "DEVICE"
)

// PostedInvitation is the graph-visible record of an invitation.
type PostedInvitation struct {
	ID               string         `json:"id"`
	Type             InvitationType `json:"type"`
	EncryptedPayload []byte         `json:"encryptedPayload"`
	PublicSigningKey string         `json:"publicSigningKey"`
	MaxUses          int            `json:"maxUses"`
	UsesCount        int            `json:"usesCount"`
	Expiration       *time.Time     `json:"expiration,omitempty"`
	Revoked          bool           `json:"revoked"`
}

// Exhausted reports whether the invitation has reached its use limit.
func (pi PostedInvitation) Exhausted() bool {
	return pi.MaxUses > 0 && pi.UsesCount >= pi.MaxUses
}

// Expired reports whether the invitation's expiration has passed as of now.
func (pi PostedInvitation) Expired(now time.Time) bool {
	return pi.Expiration != nil && now.After(*pi.Expiration)
}

const AdminRole = "admin"

// State is the team's reduced state: the result of folding the reducer
// over every link in the graph's deterministic linearization.
type State struct {
	TeamName       string                      `json:"teamName"`
	RootContext    RootMemberContext           `json:"rootContext"`
	Members        map[string]Member           `json:"members"`
	Roles          map[string]Role             `json:"roles"`
	Lockboxes      []keyset.Lockbox            `json:"lockboxes"`
	Invitations    map[string]PostedInvitation `json:"invitations"`
	RemovedMembers map[string]bool             `json:"removedMembers"`
	RemovedDevices map[string]bool             `json:"removedDevices"`
}

// RootMemberContext records the founding member's public info, as carried
// by the graph's root link context (spec.md §3).
type RootMemberContext struct {
	UserName string `json:"userName"`
	DeviceID string `json:"deviceId"`
}

// clone returns a deep-enough copy of s for copy-then-mutate validators
// (grounds: model/account.ChangePassphrase's acct.Copy() pattern).
func (s State) clone() State {
	out := State{
		TeamName:       s.TeamName,
		RootContext:    s.RootContext,
		Members:        make(map[string]Member, len(s.Members)),
		Roles:          make(map[string]Role, len(s.Roles)),
		Lockboxes:      append([]keyset.Lockbox(nil), s.Lockboxes...),
		Invitations:    make(map[string]PostedInvitation, len(s.Invitations)),
		RemovedMembers: make(map[string]bool, len(s.RemovedMembers)),
		RemovedDevices: make(map[string]bool, len(s.RemovedDevices)),
	}
	for k, m := range s.Members {
		roles := make(map[string]bool, len(m.Roles))
		for r := range m.Roles {
			roles[r] = true
		}
		devices := make(map[string]DevicePublic, len(m.Devices))
		for d, dp := range m.Devices {
			devices[d] = dp
		}
		m.Roles = roles
		m.Devices = devices
		out.Members[k] = m
	}
	for k, r := range s.Roles {
		out.Roles[k] = r
	}
	for k, pi := range s.Invitations {
		out.Invitations[k] = pi
	}
	for k := range s.RemovedMembers {
		out.RemovedMembers[k] = true
	}
	for k := range s.RemovedDevices {
		out.RemovedDevices[k] = true
	}
	return out
}

// IsAdmin reports whether userName is a current, non-removed admin.
func (s State) IsAdmin(userName string) bool {
	m, ok := s.Members[userName]
	if !ok || s.RemovedMembers[userName] {
		return false
	}
	return m.HasRole(AdminRole)
}

// Has reports whether userName is a current, non-removed member.
func (s State) Has(userName string) bool {
	_, ok := s.Members[userName]
	return ok && !s.RemovedMembers[userName]
}
