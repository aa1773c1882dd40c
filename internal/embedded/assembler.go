package embedded

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/fileops"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
	"github.com/rsjsoftware/rsjbuild/internal/workspace"
)

// DefaultBaseURL hosts the windows embeddable distributions.
const DefaultBaseURL = "https://www.python.org/ftp/python"

// RequirementsFile is the locked dependency list exported by uv, relative to the project root.
var RequirementsFile = filepath.Join(workspace.BuildDir, "requirements.txt")

// Assembler builds the embed directory.
type Assembler struct {
	Runner      toolchain.Runner
	Interpreter *platform.Interpreter
	Target      platform.Target
	Layout      *workspace.Layout
	// Downloader fetches the embeddable distribution and URL copy sources.
	Downloader fileops.Downloader
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	// UV is the uv executable, "uv" when empty.
	UV string
}

// Assemble recreates the embed directory from scratch. exeName is written into the windows
// path file so the executables find their own archive.
func (a *Assembler) Assemble(ctx context.Context, exeName string, cfg config.EmbeddedConfig) error {
	if a.Interpreter == nil || a.Layout == nil {
		return ferrors.InternalError("embedded assembler is not configured").Build()
	}
	embed := a.Layout.Embed
	if err := os.RemoveAll(embed); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "clean embed directory").Build()
	}
	if err := os.MkdirAll(a.Layout.Build, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create build directory").Build()
	}

	ctx = observability.WithPlatform(ctx, a.Target.String())
	observability.InfoContext(ctx, "Assembling embedded runtime",
		logfields.Path(embed), logfields.Version(a.Interpreter.FullVersion()))

	if err := a.createRuntime(ctx); err != nil {
		return err
	}
	if err := a.installRequirements(ctx); err != nil {
		return err
	}

	copier := fileops.Copier{Downloader: a.Downloader}
	plan := cfg.CopyOptions
	plan.DeleteFiles = nil
	if err := copier.Apply(ctx, &plan, embed, a.Layout.Root); err != nil {
		return err
	}

	if err := WriteLicenses(filepath.Join(embed, "license.txt"), embed,
		filepath.Join(a.Layout.Root, "install", "license.txt")); err != nil {
		return err
	}

	if a.Target.IsWindows() {
		if err := a.finishWindows(ctx, exeName, cfg); err != nil {
			return err
		}
	}

	if len(cfg.DeleteFiles) > 0 {
		if _, err := fileops.DeleteMatching(embed, cfg.DeleteFiles); err != nil {
			return err
		}
	}
	observability.InfoContext(ctx, "Embedded runtime ready", logfields.Path(embed))
	return nil
}

func (a *Assembler) uv() string {
	if a.UV != "" {
		return a.UV
	}
	return "uv"
}

func (a *Assembler) createRuntime(ctx context.Context) error {
	if !a.Target.IsWindows() {
		return a.run(ctx, toolchain.Command{
			Name: a.uv(),
			Args: []string{"venv", "--python", a.Interpreter.ShortVersion(), a.Layout.Embed},
			Dir:  a.Layout.Root,
		})
	}

	dist, err := a.distribution(ctx)
	if err != nil {
		return err
	}
	if _, err := fileops.Extract(ctx, dist, a.Layout.Embed); err != nil {
		return err
	}
	return nil
}

// distribution returns the cached embeddable archive, downloading it on first use.
func (a *Assembler) distribution(ctx context.Context) (string, error) {
	name := a.Interpreter.EmbedArchiveName()
	dst := filepath.Join(a.Layout.Build, name)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if a.Downloader == nil {
		return "", ferrors.ConfigError("embeddable distribution missing and no downloader configured").
			WithContext("path", dst).Build()
	}
	base := a.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(base, "/"), a.Interpreter.FullVersion(), name)
	if err := a.Downloader.Download(ctx, url, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (a *Assembler) installRequirements(ctx context.Context) error {
	err := a.run(ctx, toolchain.Command{
		Name: a.uv(),
		Args: []string{"export", "--no-dev", "--output-file", RequirementsFile},
		Dir:  a.Layout.Root,
	})
	if err != nil {
		return err
	}

	install := toolchain.Command{
		Name: a.uv(),
		Args: []string{"pip", "install", "--upgrade", "--no-deps"},
		Dir:  a.Layout.Root,
	}
	if a.Target.IsWindows() {
		install.Args = append(install.Args, "--target", a.Layout.Embed)
	} else {
		install.Env = []string{"VIRTUAL_ENV=" + a.Layout.Embed}
	}
	install.Args = append(install.Args, "-r", RequirementsFile)
	return a.run(ctx, install)
}

func (a *Assembler) run(ctx context.Context, cmd toolchain.Command) error {
	if err := a.Runner.Run(ctx, cmd); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryToolchain, "embedded runtime command failed").
			WithContext("command", cmd.String()).Fatal().Build()
	}
	return nil
}
