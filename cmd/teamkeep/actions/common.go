package actions

import (
	"fmt"

	"github.com/piprate/teamkeep/cmd"
	"github.com/piprate/teamkeep/storage"
	_ "github.com/piprate/teamkeep/storage/boltstore"
	"github.com/piprate/teamkeep/team"
	"github.com/urfave/cli/v2"
)

const (
	InvalidParameter = 1
	OperationFailed  = 2

	TeamkeepVersion = "0.0.1"
)

// openStore opens this machine's bolt-backed team store, creating its file
// under the user's config directory on first use.
func openStore() (storage.Store, error) {
	path, err := cmd.StorePath()
	if err != nil {
		return nil, err
	}
	return storage.Create("bolt", storage.Parameters{"path": path})
}

// loadTeam opens the store, loads teamName's saved blob and rebuilds the
// in-memory *team.Team it represents.
func loadTeam(teamName string) (*team.Team, storage.Store, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	blob, err := st.Load(teamName)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("load team %q: %w", teamName, err)
	}
	t, err := team.Load(blob)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("load team %q: %w", teamName, err)
	}
	return t, st, nil
}

// saveTeam serializes t and writes it back to st under teamName.
func saveTeam(st storage.Store, teamName string, t *team.Team) error {
	blob, err := t.Save()
	if err != nil {
		return err
	}
	return st.Save(teamName, blob)
}

func requireString(c *cli.Context, name string) (string, error) {
	val := c.String(name)
	if val == "" {
		return "", cli.Exit(fmt.Sprintf("missing required flag: --%s", name), InvalidParameter)
	}
	return val, nil
}
