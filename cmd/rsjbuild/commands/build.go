package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rsjsoftware/rsjbuild/internal/build"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Force         bool `help:"Recompile every module regardless of cached objects"`
	BuildEmbed    bool `name:"build-embed" help:"Recreate the embedded interpreter runtime"`
	WithInstaller bool `name:"with-installer" help:"Build installers (windows)"`
	WithZip       bool `name:"with-zip" help:"Build zip distributions (linux)"`
	WithUnzip     bool `name:"with-unzip" help:"Extract configured archives into the output"`
	Sign          bool `help:"Code-sign installers"`
	Upload        bool `help:"Upload artifacts and announce the release"`
	Publish       bool `help:"Write update descriptors for installers (requires --upload)"`
	NoConsole     bool `name:"no-console" help:"Build GUI executables without a console window"`

	out io.Writer
}

func (b *BuildCmd) options() build.BuildOptions {
	return build.BuildOptions{
		Force:         b.Force,
		BuildEmbed:    b.BuildEmbed,
		WithInstaller: b.WithInstaller,
		WithZip:       b.WithZip,
		WithUnzip:     b.WithUnzip,
		Sign:          b.Sign,
		Upload:        b.Upload,
		Publish:       b.Publish,
		NoConsole:     b.NoConsole,
	}
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	ctx, stop := signalContext()
	defer stop()
	return RunBuild(ctx, g, root, b.options(), b.writer())
}

func (b *BuildCmd) writer() io.Writer {
	if b.out != nil {
		return b.out
	}
	return os.Stdout
}

// RunBuild loads the configuration, runs one build and prints a summary to w.
func RunBuild(ctx context.Context, g *Global, root *CLI, opts build.BuildOptions, w io.Writer) error {
	cfg, secrets, err := root.load()
	if err != nil {
		return err
	}
	result, err := g.service().Run(ctx, build.BuildRequest{
		Config:     cfg,
		Secrets:    secrets,
		Root:       root.ProjectRoot(),
		ConfigPath: root.Config,
		Options:    opts,
	})
	if result != nil {
		printSummary(w, result)
	}
	return err
}

func printSummary(w io.Writer, r *build.BuildResult) {
	_, _ = fmt.Fprintf(w, "Build %s: version %s in %s\n", r.Status, r.Version, r.Duration.Round(time.Millisecond))
	for _, exe := range r.Executables {
		_, _ = fmt.Fprintf(w, "  executable %s%s\n", exe, sizeSuffix(exe))
	}
	for _, a := range r.Artifacts {
		_, _ = fmt.Fprintf(w, "  artifact   %s%s\n", a, sizeSuffix(a))
	}
	if r.Uploaded > 0 {
		_, _ = fmt.Fprintf(w, "  uploaded   %d files\n", r.Uploaded)
	}
	if r.ManifestPath != "" {
		_, _ = fmt.Fprintf(w, "  manifest   %s\n", filepath.ToSlash(r.ManifestPath))
	}
}

func sizeSuffix(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return " (" + humanize.Bytes(uint64(info.Size())) + ")"
}
