package main

import (
	"github.com/alecthomas/kong"

	"github.com/rsjsoftware/rsjbuild/cmd/rsjbuild/commands"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

func main() {
	var cli commands.CLI
	parser := kong.Parse(&cli,
		kong.Name("rsjbuild"),
		kong.Description("rsjbuild: compile Python applications into native executables and package them for release"),
		kong.UsageOnError(),
		commands.Vars(),
	)
	global := &commands.Global{}
	if err := parser.Run(global, &cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, nil).HandleError(err)
	}
}
