package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Example bool `help:"Write an example configuration instead of installing dependencies"`
	Force   bool `help:"Overwrite an existing configuration file (with --example)"`

	out io.Writer
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	w := i.out
	if w == nil {
		w = os.Stdout
	}
	if i.Example {
		if err := config.WriteExample(root.Config, i.Force); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryConfig, "write example configuration").
				WithContext("path", root.Config).Build()
		}
		_, _ = fmt.Fprintf(w, "Wrote example configuration to %s\n", root.Config)
		return nil
	}

	cfg, _, err := root.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return RunInit(ctx, g.runner(), root.ProjectRoot(), cfg, w)
}

// RunInit installs the locked npm dependencies of every configured npm directory.
func RunInit(ctx context.Context, runner toolchain.Runner, projectRoot string, cfg *config.Config, w io.Writer) error {
	for _, dir := range cfg.Npm {
		abs := filepath.Join(projectRoot, dir)
		_, _ = fmt.Fprintf(w, "npm ci in %s\n", dir)
		if err := runner.Run(ctx, toolchain.Command{Name: "npm", Args: []string{"ci"}, Dir: abs}); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryToolchain, "npm ci failed").
				WithContext("dir", dir).Build()
		}
	}
	_, _ = fmt.Fprintf(w, "Initialized %d npm directories\n", len(cfg.Npm))
	return nil
}
