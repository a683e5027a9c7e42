package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"
)

var deleteCommand = cli.Command{
	Name:  "delete",
	Usage: "delete a document, a whole namespace, or a whole schema type",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "namespace", Usage: "document namespace"},
		cli.StringFlag{Name: "uri", Usage: "document URI; if set, deletes exactly one document"},
		cli.StringFlag{Name: "schema-type", Usage: "if set (with no --uri), deletes every document of this type"},
	},
	Action: runDelete,
}

func runDelete(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}

	switch {
	case ctx.String("uri") != "":
		return e.Delete(ctx.String("namespace"), ctx.String("uri"))
	case ctx.String("schema-type") != "":
		n, err := e.DeleteBySchemaType(ctx.String("schema-type"))
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d documents\n", n)
		return nil
	case ctx.String("namespace") != "":
		n, err := e.DeleteByNamespace(ctx.String("namespace"))
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d documents\n", n)
		return nil
	default:
		return errors.New("one of --uri, --schema-type, or --namespace must be set")
	}
}
