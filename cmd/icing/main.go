// Command icing is a standalone CLI front-end for the embeddable search
// core: one cli.Command per operation, wired under a single app.
package main

import (
	"log"

	"gopkg.in/urfave/cli.v1"
)

var version = ""

func main() {
	app := cli.NewApp()

	app.Name = "icing"
	app.HelpName = "icing"
	app.Usage = "embeddable on-device search core"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "base-dir", Usage: "path to the engine's base directory", EnvVar: "ICING_BASE_DIR"},
		cli.StringFlag{Name: "config", Usage: "path to a YAML config file (overrides base-dir defaults)"},
	}

	app.Commands = []cli.Command{
		schemaCommand,
		putCommand,
		getCommand,
		deleteCommand,
		searchCommand,
		optimizeCommand,
		statsCommand,
		resetCommand,
	}

	app.Before = func(ctx *cli.Context) error {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
		return nil
	}

	app.RunAndExitOnError()
}
