package commands

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	"github.com/rsjsoftware/rsjbuild/internal/build"
	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/license"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
	"github.com/rsjsoftware/rsjbuild/internal/version"
)

// Global carries collaborators shared by subcommands. Zero values are replaced with the real
// implementations; tests set them to fakes.
type Global struct {
	Logger  *slog.Logger
	Service build.BuildService
	Runner  toolchain.Runner
}

func (g *Global) service() build.BuildService {
	if g.Service == nil {
		g.Service = build.NewBuildService()
	}
	return g.Service
}

func (g *Global) runner() toolchain.Runner {
	if g.Runner == nil {
		g.Runner = toolchain.NewExecRunner(nil)
	}
	return g.Runner
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Build configuration file" default:"build.json"`
	EnvFile []string         `name:"env-file" help:"Env files with secrets (default .env, .env.local)"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build      BuildCmd   `cmd:"" default:"1" help:"Build executables and distribution artifacts"`
	Init       InitCmd    `cmd:"" help:"Install npm dependencies (and optionally write an example configuration)"`
	Keytool    KeytoolCmd `cmd:"" help:"Issue a signed license token"`
	Catalog    CatalogCmd `cmd:"" help:"Merge translation catalogs"`
	Watch      WatchCmd   `cmd:"" help:"Recompile executables when sources change"`
	VersionCmd VersionCmd `cmd:"" name:"version" help:"Print the rsjbuild version"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// ProjectRoot is the directory holding the configuration file; all configured paths are
// relative to it.
func (c *CLI) ProjectRoot() string {
	return filepath.Dir(c.Config)
}

func (c *CLI) load() (*config.Config, config.Secrets, error) {
	secrets, err := config.LoadSecrets(c.EnvFile...)
	if err != nil {
		return nil, config.Secrets{}, err
	}
	cfg, err := config.Load(c.Config, secrets)
	if err != nil {
		return nil, config.Secrets{}, err
	}
	return cfg, secrets, nil
}

// Vars are the kong interpolation variables used by the command definitions.
func Vars() kong.Vars {
	return kong.Vars{
		"version":  version.String(),
		"licensee": license.DefaultLicensee,
	}
}
