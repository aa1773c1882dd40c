package commands

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/rsjsoftware/rsjbuild/internal/build"
	"github.com/rsjsoftware/rsjbuild/internal/watch"
	"github.com/rsjsoftware/rsjbuild/internal/workspace"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Every   time.Duration `help:"Also rebuild (forced) on this interval, e.g. 30m"`
	Force   bool          `help:"Force the initial build"`
	Initial bool          `help:"Build once before waiting for changes" default:"true" negatable:""`
}

func (wc *WatchCmd) Run(g *Global, root *CLI) error {
	ctx, stop := signalContext()
	defer stop()
	return wc.run(ctx, g, root, io.Discard)
}

func (wc *WatchCmd) run(ctx context.Context, g *Global, root *CLI, w io.Writer) error {
	cfg, _, err := root.load()
	if err != nil {
		return err
	}
	debounce := cfg.Watch.Debounce
	if debounce <= 0 {
		debounce = watch.DefaultDebounce
	}
	projectRoot := root.ProjectRoot()
	first := true
	watcher := watch.New(func(ctx context.Context, t watch.Trigger) error {
		opts := build.BuildOptions{CompileOnly: true, Force: t.Force || (first && wc.Force)}
		first = false
		return RunBuild(ctx, g, root, opts, w)
	}, watch.Options{
		Roots:    []string{filepath.Join(projectRoot, cfg.SourcePath)},
		Patterns: []string{"*.py", "*.pyx"},
		Ignore: []string{
			filepath.Join(projectRoot, workspace.BuildDir),
			filepath.Join(projectRoot, workspace.EmbedDir),
			filepath.Join(projectRoot, workspace.OutputDir),
		},
		Debounce: debounce,
		Every:    wc.Every,
		Initial:  wc.Initial,
	})
	return watcher.Run(ctx)
}
