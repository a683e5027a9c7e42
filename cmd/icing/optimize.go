package main

import (
	"fmt"

	"gopkg.in/urfave/cli.v1"
)

var optimizeCommand = cli.Command{
	Name:   "optimize",
	Usage:  "compact the document log and rebuild the index",
	Action: runOptimize,
}

func runOptimize(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	if err := e.Optimize(); err != nil {
		return err
	}
	fmt.Println("optimize complete")
	return nil
}
