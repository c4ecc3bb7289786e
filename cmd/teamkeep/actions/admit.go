package actions

import (
	"fmt"

	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/urfave/cli/v2"
)

// AdmitCommand loads a proof of invitation an invitee produced with
// accept, validates it against the named team, and admits the prover as a
// member or a device of an existing member, depending on the proof's kind.
func AdmitCommand(c *cli.Context) error {
	teamName, err := requireString(c, "team")
	if err != nil {
		return err
	}
	proofFile, err := requireString(c, "proof-file")
	if err != nil {
		return err
	}

	var proof invitation.ProofOfInvitation
	if err := readJSONFile(proofFile, &proof); err != nil {
		return cli.Exit(fmt.Errorf("read proof file: %w", err), InvalidParameter)
	}

	t, st, err := loadTeam(teamName)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}
	defer st.Close()

	switch proof.Type {
	case invitation.KindMember:
		err = t.Admit(proof)
	case invitation.KindDevice:
		err = t.AdmitDevice(proof)
	default:
		err = fmt.Errorf("admit: unknown invitation type %q", proof.Type)
	}
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}

	if err := saveTeam(st, teamName, t); err != nil {
		return cli.Exit(err, OperationFailed)
	}

	fmt.Printf("admitted proof for invitation %s into team %q\n", proof.ID, teamName)
	return nil
}
