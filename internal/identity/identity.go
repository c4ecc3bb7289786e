// Package identity defines the small set of entities a connection needs to
// know about before any team state exists: a device, a user, and the
// context a connection starts in (an existing member, a server, or an
// invitee holding only a secret).
package identity

import (
	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/keyset"
)

// Device identifies one device belonging to a user.
type Device struct {
	UserID     string `json:"userId"`
	DeviceName string `json:"deviceName"`
}

// DeviceID derives a stable id for a device from its owning user and name,
// the same shape as a keyset scope name: base-encode(hash("device_id", ...)).
func DeviceID(d Device) string {
	return crypto.Encode(crypto.Hash("device_id", []byte(d.UserID+"::"+d.DeviceName)))
}

// User identifies a team member independent of any specific device.
type User struct {
	UserName string `json:"userName"`
}

// Server identifies a non-interactive peer (e.g. a relay) that can hold a
// SERVER-scoped keyset without being a team member.
type Server struct {
	Host string `json:"host"`
}

// Context selects what role a connection's local side plays when it starts:
// an existing member on one of their devices, a server entity, or an
// invitee who has not yet been admitted and holds only an invitation seed.
type Context interface {
	isContext()
}

// MemberContext is used by an already-admitted member's device.
type MemberContext struct {
	User     User
	Device   Device
	TeamName string
}

func (MemberContext) isContext() {}

// ServerContext is used by a non-member server peer (e.g. a relay node).
type ServerContext struct {
	Server Server
}

func (ServerContext) isContext() {}

// InviteeContext is used by a peer that has not yet joined the team and
// authenticates via proof of an invitation secret instead of a device id.
// MemberKeys/DeviceKeys are the invitee's own freshly generated, public-only
// keysets, proposed to the admitting peer as part of the invitation proof —
// the admitting side has no other way to learn them before membership
// exists.
type InviteeContext struct {
	User           User
	Device         Device
	InvitationSeed string
	MemberKeys     keyset.Keyset
	DeviceKeys     keyset.Keyset
}

func (InviteeContext) isContext() {}
