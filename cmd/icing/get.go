package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"
)

var getCommand = cli.Command{
	Name:  "get",
	Usage: "print a document as JSON",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "namespace", Usage: "document namespace"},
		cli.StringFlag{Name: "uri", Usage: "document URI"},
	},
	Action: runGet,
}

func runGet(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}

	doc, err := e.Get(ctx.String("namespace"), ctx.String("uri"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	fmt.Println(string(data))
	return nil
}
