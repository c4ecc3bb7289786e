package identity_test

import (
	"testing"

	"github.com/piprate/teamkeep/internal/identity"
	"github.com/stretchr/testify/assert"
)

func TestDeviceIDIsStableAndDistinct(t *testing.T) {
	a := identity.Device{UserID: "alice", DeviceName: "laptop"}
	b := identity.Device{UserID: "alice", DeviceName: "phone"}

	assert.Equal(t, identity.DeviceID(a), identity.DeviceID(a))
	assert.NotEqual(t, identity.DeviceID(a), identity.DeviceID(b))
}
