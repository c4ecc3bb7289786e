package actions

import "github.com/urfave/cli/v2"

var StandardFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "debug",
		Usage: "if true, enable debug logging",
	},
}
