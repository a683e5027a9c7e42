package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/PixelPlusUI-SnowCone/external-icing/schemastore"
)

var schemaCommand = cli.Command{
	Name:  "schema",
	Usage: "inspect or replace the engine's schema",
	Subcommands: []cli.Command{
		schemaGetCommand,
		schemaSetCommand,
	},
}

var schemaGetCommand = cli.Command{
	Name:   "get",
	Usage:  "print the current schema as JSON",
	Action: runSchemaGet,
}

func runSchemaGet(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}

	schema, err := e.GetSchema()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding schema")
	}
	fmt.Println(string(data))
	return nil
}

var schemaSetCommand = cli.Command{
	Name:  "set",
	Usage: "replace the schema with JSON read from a file or stdin",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "file", Usage: "path to a schema JSON file; defaults to stdin"},
		cli.BoolFlag{Name: "force", Usage: "ignore incompatible-change errors and delete affected documents"},
	},
	Action: runSchemaSet,
}

func runSchemaSet(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}

	data, err := readInput(ctx.String("file"))
	if err != nil {
		return err
	}

	var schema schemastore.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return errors.Wrap(err, "parsing schema JSON")
	}

	result, err := e.SetSchema(&schema, ctx.Bool("force"))
	if err != nil {
		return err
	}

	fmt.Printf("success=%v incompatible=%v deleted=%v index_restoration_required=%v\n",
		result.Success, result.IncompatibleSchemaTypes, result.DeletedSchemaTypes, result.IndexRestorationRequired)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return ioutil.ReadAll(os.Stdin)
	}
	return ioutil.ReadFile(path)
}
