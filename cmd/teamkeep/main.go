package main

import (
	"os"
	"time"

	"github.com/piprate/teamkeep/cmd"
	"github.com/piprate/teamkeep/cmd/teamkeep/actions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "teamkeep"
	app.Usage = "a CLI for founding, inviting into, and connecting members of a team"
	app.Version = actions.TeamkeepVersion
	app.Flags = actions.StandardFlags
	app.Before = func(c *cli.Context) error {
		cmd.SetConfigDirName(".teamkeep")
		if c.Bool("debug") {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp})
		return nil
	}
	app.Commands = actions.StandardSet

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("teamkeep command failed")
	}
}
