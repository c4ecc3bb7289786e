package actions

import (
	"fmt"
	"time"

	"github.com/piprate/teamkeep/internal/identity"
	"github.com/piprate/teamkeep/team"
	"github.com/urfave/cli/v2"
)

// CreateTeam founds a new team named by the "team" flag, with the caller's
// user/device as its sole admin member, and persists it to the local store.
func CreateTeam(c *cli.Context) error {
	teamName, err := requireString(c, "team")
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

	t, err := team.Create(teamName, identity.User{UserName: userName}, identity.Device{UserID: userName, DeviceName: deviceName})
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}

	st, err := openStore()
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}
	defer st.Close()

	if err := saveTeam(st, teamName, t); err != nil {
		return cli.Exit(err, OperationFailed)
	}

	fmt.Printf("created team %q, founding member %q\n", teamName, userName)
	return nil
}

// InviteCommand posts a new invitation on the named team and prints its id
// and the secret the invitee must be told out of band.
func InviteCommand(c *cli.Context) error {
	teamName, err := requireString(c, "team")
	if err != nil {
		return err
	}
	secret, err := requireString(c, "secret")
	if err != nil {
		return err
	}

	t, st, err := loadTeam(teamName)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}
	defer st.Close()

	var expiration *time.Time
	if d := c.Duration("expires"); d > 0 {
		t := time.Now().Add(d)
		expiration = &t
	}

	var (
		id        string
		inviteErr error
	)
	if c.Bool("device") {
		id, inviteErr = t.InviteDevice(secret)
	} else {
		id, inviteErr = t.InviteMember(secret, c.Int("max-uses"), expiration)
	}
	if inviteErr != nil {
		return cli.Exit(inviteErr, OperationFailed)
	}

	if err := saveTeam(st, teamName, t); err != nil {
		return cli.Exit(err, OperationFailed)
	}

	fmt.Printf("invitation id: %s\nsecret (share out of band): %s\n", id, secret)
	return nil
}

// MembersCommand lists a team's current members and their roles.
func MembersCommand(c *cli.Context) error {
	teamName, err := requireString(c, "team")
	if err != nil {
		return err
	}

	t, st, err := loadTeam(teamName)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}
	defer st.Close()

	for _, m := range t.Members() {
		admin := ""
		if t.MemberIsAdmin(m.UserName) {
			admin = " (admin)"
		}
		fmt.Printf("%s%s - %d device(s)\n", m.UserName, admin, len(m.Devices))
	}
	return nil
}
