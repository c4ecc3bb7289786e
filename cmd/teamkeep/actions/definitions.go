package actions

import "github.com/urfave/cli/v2"

var StandardSet = []*cli.Command{
	{
		Name:   "create",
		Usage:  "found a new team with this device as its sole admin member",
		Action: CreateTeam,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "team", Usage: "team name"},
			&cli.StringFlag{Name: "user", Usage: "founding member's user name"},
			&cli.StringFlag{Name: "device", Usage: "founding member's device name"},
		},
	},
	{
		Name:   "invite",
		Usage:  "post a new member or device invitation",
		Action: InviteCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "team", Usage: "team name"},
			&cli.StringFlag{Name: "secret", Usage: "low-entropy secret to share with the invitee out of band"},
			&cli.BoolFlag{Name: "device", Usage: "invite a new device of the caller's own account, instead of a new member"},
			&cli.IntFlag{Name: "max-uses", Usage: "maximum number of admissions (0 = unlimited)"},
			&cli.DurationFlag{Name: "expires", Usage: "invitation lifetime, e.g. 24h (0 = never expires)"},
		},
	},
	{
		Name:   "accept",
		Usage:  "generate a local identity and prove possession of an invitation secret",
		Action: AcceptInvitation,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Usage: "the invitation secret"},
			&cli.StringFlag{Name: "user", Usage: "invitee's user name"},
			&cli.StringFlag{Name: "device", Usage: "invitee's device name"},
			&cli.BoolFlag{Name: "for-device", Usage: "accept a device invitation rather than a member invitation"},
			&cli.StringFlag{Name: "proof-out", Value: "proof.json", Usage: "where to write the proof of invitation"},
			&cli.StringFlag{Name: "identity-out", Value: "identity.json", Usage: "where to write the invitee's private local identity"},
		},
	},
	{
		Name:   "admit",
		Usage:  "admit a proof of invitation into a team",
		Action: AdmitCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "team", Usage: "team name"},
			&cli.StringFlag{Name: "proof-file", Usage: "path to a proof.json written by accept"},
		},
	},
	{
		Name:   "members",
		Usage:  "list a team's current members",
		Action: MembersCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "team", Usage: "team name"},
		},
	},
	{
		Name:   "connect",
		Usage:  "connect to a peer through a relay room and stream connection events",
		Action: ConnectCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "team", Usage: "team name"},
			&cli.StringFlag{Name: "relay", Usage: "relay base url, e.g. http://127.0.0.1:8901"},
			&cli.StringFlag{Name: "room", Usage: "rendezvous room id both peers agreed on out of band"},
			&cli.StringFlag{Name: "peer", Usage: "the peer's device id"},
		},
	},
	{
		Name:   "relay",
		Usage:  "run the rendezvous relay server",
		Action: RunRelay,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "relay", Usage: "config name ($HOME/.teamkeep/{name}.yaml)"},
		},
	},
}
