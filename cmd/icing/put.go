package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/PixelPlusUI-SnowCone/external-icing/docstore"
)

var putCommand = cli.Command{
	Name:  "put",
	Usage: "add or replace a document, reading its JSON body from a file or stdin",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "file", Usage: "path to a document JSON file; defaults to stdin"},
	},
	Action: runPut,
}

func runPut(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}

	data, err := readInput(ctx.String("file"))
	if err != nil {
		return err
	}

	var doc docstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "parsing document JSON")
	}

	return e.Put(&doc)
}
