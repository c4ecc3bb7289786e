package actions

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/piprate/teamkeep/internal/identity"
	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/piprate/teamkeep/internal/jsonw"
	"github.com/piprate/teamkeep/internal/keyset"
	"github.com/urfave/cli/v2"
)

// localIdentity is what an invitee keeps to itself after accepting: its own
// freshly generated keysets, including the secrets the proof of invitation
// never carries. A later join step (outside this CLI's scope) would feed
// this alongside the admitting peer's ExportForInvitee export into
// team.NewInvitee/ImportFromInviter to materialize a *team.Team.
type localIdentity struct {
	User       identity.User   `json:"user"`
	Device     identity.Device `json:"device"`
	MemberKeys keyset.Keyset   `json:"memberKeys"`
	DeviceKeys keyset.Keyset   `json:"deviceKeys"`
}

// AcceptInvitation generates a fresh local identity for a not-yet-a-member
// peer and proves possession of an invitation secret against it, without
// any prior contact with the team (spec.md §4.E "accept"). It writes the
// proof (safe to hand to the admitting peer) and the local identity
// (private, never shared) to separate files.
func AcceptInvitation(c *cli.Context) error {
	secret, err := requireString(c, "secret")
	if err != nil {
		return err
	}
	userName, err := requireString(c, "user")
	if err != nil {
		return err
	}
	deviceName, err := requireString(c, "device")
	if err != nil {
		return err
	}

	device := identity.Device{UserID: userName, DeviceName: deviceName}
	deviceID := identity.DeviceID(device)

	memberKeys, err := keyset.CreateKeyset(keyset.ScopeMember, userName, nil)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}
	deviceKeys, err := keyset.CreateKeyset(keyset.ScopeDevice, deviceID, nil)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}

	kind := invitation.KindMember
	principal := invitation.Principal{UserName: userName}
	keysForProof := keyset.Redact(memberKeys)
	if c.Bool("for-device") {
		kind = invitation.KindDevice
		principal = invitation.Principal{DeviceID: deviceID}
		keysForProof = keyset.Redact(deviceKeys)
	}
	encodedKeys, err := jsonw.Marshal(keysForProof)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}
	principal.PublicKeys = string(encodedKeys)

	proof, err := invitation.Accept(kind, secret, principal)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}

	proofOut := c.String("proof-out")
	if err := writeJSONFile(proofOut, proof); err != nil {
		return cli.Exit(err, OperationFailed)
	}

	identityOut := c.String("identity-out")
	if err := writeJSONFile(identityOut, localIdentity{
		User:       identity.User{UserName: userName},
		Device:     device,
		MemberKeys: memberKeys,
		DeviceKeys: deviceKeys,
	}); err != nil {
		return cli.Exit(err, OperationFailed)
	}

	fmt.Printf("invitation id: %s\nproof written to %s (share with the inviter)\n", proof.ID, proofOut)
	fmt.Printf("local identity written to %s (keep private)\n", identityOut)
	return nil
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func readJSONFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
