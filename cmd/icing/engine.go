package main

import (
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/PixelPlusUI-SnowCone/external-icing/config"
	"github.com/PixelPlusUI-SnowCone/external-icing/engine"
)

// openEngine resolves options from --config or --base-dir and initializes
// an engine ready for one CLI operation. The CLI is a one-shot process, so
// there's no need to keep the engine around past the command's Action.
func openEngine(ctx *cli.Context) (*engine.Engine, error) {
	var opts *config.EngineOptions
	var err error

	if path := ctx.GlobalString("config"); path != "" {
		opts, err = config.LoadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		baseDir := ctx.GlobalString("base-dir")
		if baseDir == "" {
			return nil, errors.New("either --base-dir or --config must be set")
		}
		opts = config.Default(baseDir)
	}

	e := engine.New(opts, engine.Deps{})
	if _, err := e.Initialize(); err != nil {
		return nil, errors.Wrap(err, "initializing engine")
	}
	return e, nil
}
