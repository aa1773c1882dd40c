package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rsjsoftware/rsjbuild/internal/catalog"
	"github.com/rsjsoftware/rsjbuild/internal/compiler"
	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/embedded"
	"github.com/rsjsoftware/rsjbuild/internal/fileops"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/manifest"
	"github.com/rsjsoftware/rsjbuild/internal/metrics"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
	"github.com/rsjsoftware/rsjbuild/internal/retry"
	"github.com/rsjsoftware/rsjbuild/internal/stage"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
	"github.com/rsjsoftware/rsjbuild/internal/versioning"
	"github.com/rsjsoftware/rsjbuild/internal/workspace"
)

// Stage names of the outer pipeline, in execution order.
const (
	StageDecode    stage.Name = "decode"
	StageVersion   stage.Name = "version"
	StageWorkspace stage.Name = "workspace"
	StageProbe     stage.Name = "probe"
	StageEmbedded  stage.Name = "embedded"
	StageTemplates stage.Name = "templates"
	StageStamp     stage.Name = "stamp"
	StageEmbedData stage.Name = "embed_data"
	StageCompile   stage.Name = "compile"
	StageCatalog   stage.Name = "catalog"
	StageLocale    stage.Name = "locale"
	StageUserguide stage.Name = "userguide"
	StagePnpm      stage.Name = "pnpm"
	StageRequire   stage.Name = "require"
	StageGzip      stage.Name = "gzip"
	StageLateCopy  stage.Name = "late_copy"
	StageInstaller stage.Name = "installers"
	StageZip       stage.Name = "zips"
	StageUnzip     stage.Name = "unzip"
	StagePublish   stage.Name = "publish"
	StageUpload    stage.Name = "upload"
	StageNotify    stage.Name = "notify"
)

// NodeOptions is passed to every pnpm build.
const NodeOptions = "NODE_OPTIONS=--max-old-space-size=8192"

// MessagesTemplate is the extracted message template, relative to the build directory.
const MessagesTemplate = "messages.pot"

// pipelineRun is the mutable state of one Run.
type pipelineRun struct {
	svc        *DefaultBuildService
	req        BuildRequest
	cfg        *config.Config
	layout     *workspace.Layout
	target     platform.Target
	recorder   metrics.Recorder
	runner     toolchain.Runner
	downloader fileops.Downloader
	policy     retry.Policy
	result     *BuildResult
	manifest   *manifest.BuildManifest

	sourceDir   string
	interp      *platform.Interpreter
	layoutReady bool
}

func (r *pipelineRun) stages() []stage.Def {
	cfg, opts := r.cfg, r.req.Options
	release := !opts.CompileOnly
	return stage.NewPipeline().
		AddIf(len(cfg.Base64Decode) > 0, StageDecode, r.decode).
		Add(StageVersion, r.version).
		Add(StageWorkspace, r.workspace).
		Add(StageProbe, r.probe).
		AddIf(opts.BuildEmbed, StageEmbedded, r.embedded).
		AddIf(len(cfg.Template) > 0, StageTemplates, r.templates).
		Add(StageStamp, r.stamp).
		AddIf(len(cfg.EmbedData) > 0, StageEmbedData, r.embedData).
		Add(StageCompile, r.compile).
		AddIf(release, StageCatalog, r.catalog).
		AddIf(release, StageLocale, r.locale).
		AddIf(release && cfg.Userguide != "", StageUserguide, r.userguide).
		AddIf(release && len(cfg.Pnpm) > 0, StagePnpm, r.pnpm).
		AddIf(release && len(cfg.Require) > 0, StageRequire, r.require).
		AddIf(release && len(cfg.Gzip) > 0, StageGzip, r.gzip).
		AddIf(release && !cfg.LateCopy.Empty(), StageLateCopy, r.lateCopy).
		AddIf(release && opts.WithInstaller && r.target.IsWindows(), StageInstaller, r.installers).
		AddIf(release && opts.WithZip && !r.target.IsWindows(), StageZip, r.zips).
		AddIf(release && opts.WithUnzip && len(cfg.Unzip) > 0, StageUnzip, r.unzip).
		AddIf(release && opts.Upload && opts.Publish, StagePublish, r.publish).
		AddIf(release && opts.Upload && cfg.ActiveUploadHost(), StageUpload, r.upload).
		AddIf(release && opts.Upload && cfg.Notify.Enabled(), StageNotify, r.notify).
		Build()
}

func (r *pipelineRun) copier() fileops.Copier {
	return fileops.Copier{Downloader: r.downloader}
}

func (r *pipelineRun) command(dir, name string, args ...string) toolchain.Command {
	return toolchain.Command{Name: name, Args: args, Dir: dir}
}

func (r *pipelineRun) run(ctx context.Context, cmd toolchain.Command, what string) error {
	if err := r.runner.Run(ctx, cmd); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryToolchain, what).
			WithContext("command", cmd.String()).Fatal().Build()
	}
	return nil
}

// decode writes base64-encoded secrets to files below the project root.
func (r *pipelineRun) decode(ctx context.Context) error {
	written, err := fileops.DecodeBase64(ctx, r.req.Secrets, r.cfg.Base64Decode, r.layout.Root)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		return stage.ErrSkipped
	}
	return nil
}

func (r *pipelineRun) version(ctx context.Context) error {
	info := r.svc.resolveVersion(ctx, r.layout.Root)
	r.result.Version = info
	r.manifest.Version = info.String()
	r.manifest.Commit = info.Commit
	return nil
}

func (r *pipelineRun) workspace(_ context.Context) error {
	if err := r.layout.Create(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create workspace").Build()
	}
	r.layoutReady = true
	return nil
}

func (r *pipelineRun) probe(ctx context.Context) error {
	python := r.cfg.Interpreter.Python
	probe := r.svc.probe
	if probe == nil {
		probe = func(ctx context.Context, python string) (*platform.Interpreter, error) {
			return platform.ProbeInterpreter(ctx, r.runner, python)
		}
	}
	interp, err := probe(ctx, python)
	if err != nil {
		return ferrors.ToolchainError("cannot query interpreter").
			WithCause(fmt.Errorf("%w: %w", ErrInterpreter, err)).
			WithContext("python", python).UserAction().Build()
	}
	r.interp = interp
	observability.InfoContext(ctx, "Using interpreter",
		logfields.Path(interp.Executable), logfields.Version(interp.FullVersion()))
	return nil
}

func (r *pipelineRun) embedded(ctx context.Context) error {
	a := &embedded.Assembler{
		Runner:      r.runner,
		Interpreter: r.interp,
		Target:      r.target,
		Layout:      r.layout,
		Downloader:  r.downloader,
		BaseURL:     r.cfg.Interpreter.EmbedBaseURL,
	}
	return a.Assemble(ctx, r.cfg.ExeName, r.cfg.Embedded)
}

// templates renders secret templates from the project root into embed.
func (r *pipelineRun) templates(ctx context.Context) error {
	written, err := fileops.RenderSecretTemplates(ctx, r.req.Secrets, r.cfg.Template, r.layout.Root, r.layout.Embed)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		return stage.ErrSkipped
	}
	return nil
}

func (r *pipelineRun) stamp(ctx context.Context) error {
	if _, err := versioning.Stamp(ctx, r.sourceDir, r.target, r.result.Version); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to stamp version").Build()
	}
	return nil
}

func (r *pipelineRun) embedData(ctx context.Context) error {
	_, err := fileops.EmbedData(ctx, r.cfg.EmbedData, r.sourceDir, r.layout.Root)
	return err
}

// compile builds every executable enabled for the target and installs it into embed.
func (r *pipelineRun) compile(ctx context.Context) error {
	driver := r.svc.builderFactory(compiler.DriverConfig{
		Runner:         r.runner,
		Interpreter:    r.interp,
		Target:         r.target,
		Toolchain:      r.cfg.Toolchain,
		Recorder:       r.recorder,
		TranspilerArgs: r.cfg.Interpreter.TranspilerArgs,
		StaticArchive:  r.cfg.Interpreter.StaticArchive,
	})

	binDir := r.layout.BinDir(r.target)
	if err := os.MkdirAll(binDir, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create bin directory").Build()
	}

	names := make([]string, 0, len(r.cfg.Compile))
	for name := range r.cfg.Compile {
		names = append(names, name)
	}
	sort.Strings(names)

	built := 0
	for _, name := range names {
		t := r.cfg.Compile[name]
		if !r.target.Matches(t.OnlyOn) {
			observability.DebugContext(ctx, "Executable not built on this platform", logfields.Exe(name))
			continue
		}
		opts := compiler.FromTarget(name, r.sourceDir, t)
		opts.Force = r.req.Options.Force
		opts.NoConsole = opts.NoConsole || r.req.Options.NoConsole
		opts.OutputDir = r.layout.Build

		res, err := driver.Build(ctx, opts)
		if err != nil {
			return err
		}
		installed := filepath.Join(binDir, filepath.Base(res.Executable))
		if err := fileops.CopyFile(res.Executable, installed); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "install executable").
				WithContext("path", installed).Build()
		}
		r.result.Executables = append(r.result.Executables, installed)

		exe := manifest.Executable{
			Name:    name,
			Path:    installed,
			Dirty:   res.Dirty,
			Reused:  len(res.ReusedObjects),
			Objects: len(res.Objects),
		}
		if sum, err := manifest.FileSHA256(installed); err == nil {
			exe.SHA256 = sum
		}
		r.manifest.Executables = append(r.manifest.Executables, exe)
		built++
	}
	if built == 0 {
		return stage.ErrSkipped
	}
	return nil
}

// catalog refreshes the translation catalogs of the main executable's domain.
func (r *pipelineRun) catalog(ctx context.Context) error {
	localeDir := r.layout.Path(workspace.LocaleDir)
	if !isDir(localeDir) {
		return stage.ErrSkipped
	}
	u := &catalog.Updater{
		Runner: r.runner,
		Babel:  r.interp.ScriptPath("pybabel"),
		Dir:    r.layout.Root,
	}
	written, err := u.Update(ctx, r.sourceDir, localeDir, r.cfg.ExeName, filepath.Join(r.layout.Build, MessagesTemplate))
	if err != nil {
		return err
	}
	observability.InfoContext(ctx, "Catalogs updated", logfields.Count(len(written)))
	return nil
}

// locale copies compiled catalogs into embed/locale.
func (r *pipelineRun) locale(_ context.Context) error {
	localeDir := r.layout.Path(workspace.LocaleDir)
	if !isDir(localeDir) {
		return stage.ErrSkipped
	}
	dst := filepath.Join(r.layout.Embed, workspace.LocaleDir)
	if err := fileops.CopyTree(localeDir, dst, fileops.SkipSuffixes(".po")); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "copy locale").Build()
	}
	return nil
}

// userguide builds every mkdocs project below the user guide directory and copies each site
// into embed.
func (r *pipelineRun) userguide(ctx context.Context) error {
	src := r.layout.Path(r.cfg.Userguide)
	entries, err := os.ReadDir(src)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "read user guide directory").
			WithContext("path", src).Build()
	}
	mkdocs := r.interp.ScriptPath("mkdocs")
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(src, e.Name())
		if err := r.run(ctx, r.command(dir, mkdocs, "build"), "user guide build failed"); err != nil {
			return err
		}
		dst := filepath.Join(r.layout.Embed, r.cfg.Userguide, e.Name(), "site")
		if err := fileops.CopyTree(filepath.Join(dir, "site"), dst, nil); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "copy user guide").
				WithContext("guide", e.Name()).Build()
		}
		observability.InfoContext(ctx, "User guide built", logfields.Name(e.Name()))
	}
	return nil
}

func (r *pipelineRun) pnpmBuild(ctx context.Context, dir string) error {
	for _, args := range [][]string{{"i"}, {"run", "build"}} {
		cmd := r.command(dir, "pnpm", args...)
		cmd.Env = []string{NodeOptions}
		if err := r.run(ctx, cmd, "pnpm failed"); err != nil {
			return err
		}
	}
	return nil
}

func (r *pipelineRun) pnpm(ctx context.Context) error {
	for _, dir := range r.cfg.Pnpm {
		if err := r.pnpmBuild(ctx, r.layout.Path(dir)); err != nil {
			return err
		}
	}
	return nil
}

// require runs each prepare script with the interpreter, then the pnpm build of its directory.
func (r *pipelineRun) require(ctx context.Context) error {
	for _, dir := range []string{"buildout", "buildcss"} {
		if _, err := r.layout.CreateSubdir(dir); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create require output").Build()
		}
	}
	for _, source := range sortedKeys(r.cfg.Require) {
		prepare := strings.Fields(r.cfg.Require[source])
		if len(prepare) > 0 {
			if err := r.run(ctx, r.command(r.layout.Root, r.interp.Executable, prepare...), "require prepare failed"); err != nil {
				return err
			}
		}
		if err := r.pnpmBuild(ctx, r.layout.Path(source)); err != nil {
			return err
		}
	}
	return nil
}

func (r *pipelineRun) gzip(ctx context.Context) error {
	total := 0
	for _, dir := range r.cfg.Gzip {
		n, err := fileops.GzipTree(ctx, r.layout.Path(dir))
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "gzip").WithContext("path", dir).Build()
		}
		total += n
	}
	observability.InfoContext(ctx, "Compressed files", logfields.Count(total))
	return nil
}

func (r *pipelineRun) lateCopy(ctx context.Context) error {
	return r.copier().Apply(ctx, r.cfg.LateCopy, r.layout.Embed, r.layout.Root)
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func missing(path string) error {
	return ferrors.NotFoundError("artifact not found").
		WithCause(fmt.Errorf("%w: %s", ErrArtifact, path)).
		WithContext("path", path).Build()
}
