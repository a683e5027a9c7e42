package main

import (
	"fmt"

	"gopkg.in/urfave/cli.v1"
)

var resetCommand = cli.Command{
	Name:   "reset",
	Usage:  "wipe the base directory and start over empty",
	Action: runReset,
}

func runReset(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	if err := e.Reset(); err != nil {
		return err
	}
	fmt.Println("reset complete")
	return nil
}
