package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/metrics"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
	"github.com/rsjsoftware/rsjbuild/internal/stage"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// Stage names of the compiler pipeline.
const (
	StageDiscover  stage.Name = "discover"
	StageBootstrap stage.Name = "bootstrap"
	StageTranspile stage.Name = "transpile"
	StageCompile   stage.Name = "compile"
	StageLink      stage.Name = "link"
	StagePayload   stage.Name = "payload"
	StageFinalize  stage.Name = "finalize"
)

// Options describe one executable to build.
type Options struct {
	SourceRoot string
	Patterns   []string
	MainModule string
	ExeName    string
	// BuildDir holds generated units and cached objects. Defaults to SourceRoot/build.
	BuildDir string
	// OutputDir receives the executable and holds library.zip on windows. Defaults to "build".
	OutputDir string
	Force     bool
	NoConsole bool
	Library   bool
	Parallel  bool
}

// FromTarget fills Options from a compile entry of build.json.
func FromTarget(exeName, sourceRoot string, t config.CompileTarget) Options {
	return Options{
		SourceRoot: sourceRoot,
		Patterns:   t.Sources,
		MainModule: t.MainModule,
		ExeName:    exeName,
		NoConsole:  t.NoConsole,
		Library:    t.Library,
		Parallel:   t.Parallel,
	}
}

// Result summarises a finished build.
type Result struct {
	Executable    string
	Objects       []string
	CompiledUnits []string
	ReusedObjects []string
	// Dirty lists qualified names of the modules that were rebuilt.
	Dirty    []string
	Packages []string
	Report   *stage.Report
}

// DriverConfig wires the driver to its collaborators.
type DriverConfig struct {
	Runner      toolchain.Runner
	Interpreter *platform.Interpreter
	Target      platform.Target
	// Compiler defaults to toolchain.New(Target, Runner, Toolchain).
	Compiler       toolchain.CCompiler
	Toolchain      config.ToolchainConfig
	Recorder       metrics.Recorder
	TemplateDir    string
	TranspilerArgs []string
	// StaticArchive overrides the interpreter's static library path on linux.
	StaticArchive string
}

// Driver builds native executables.
type Driver struct {
	target        platform.Target
	interp        *platform.Interpreter
	cc            toolchain.CCompiler
	recorder      metrics.Recorder
	bootstrapper  Bootstrapper
	transpiler    Transpiler
	staticArchive string
}

// NewDriver creates a driver for cfg.Target.
func NewDriver(cfg DriverConfig) *Driver {
	if cfg.Target == "" {
		cfg.Target = platform.Current()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}
	if cfg.Compiler == nil {
		cfg.Compiler = toolchain.New(cfg.Target, cfg.Runner, cfg.Toolchain)
	}
	return &Driver{
		target:       cfg.Target,
		interp:       cfg.Interpreter,
		cc:           cfg.Compiler,
		recorder:     cfg.Recorder,
		bootstrapper: Bootstrapper{TemplateDir: cfg.TemplateDir},
		transpiler: Transpiler{
			Runner:    cfg.Runner,
			Python:    cfg.Interpreter.Executable,
			ExtraArgs: cfg.TranspilerArgs,
		},
		staticArchive: cfg.StaticArchive,
	}
}

type buildState struct {
	opts      Options
	settings  CompileSettings
	discovery *Discovery
	bootstrap []BootstrapUnit
	units     []string
	compiled  []string
	reused    []string
	plan      *LinkPlan
	result    *Result
}

// Build runs discover, bootstrap, transpile, compile and link, then either concatenates the
// payload (windows) or marks the executable as runnable.
func (d *Driver) Build(ctx context.Context, opts Options) (*Result, error) {
	if err := d.normalize(&opts); err != nil {
		return nil, err
	}
	ctx = observability.WithTarget(ctx, opts.ExeName)
	ctx = observability.WithPlatform(ctx, d.target.String())

	st := &buildState{
		opts:     opts,
		settings: Settings(d.target, d.interp, opts.Library),
		result:   &Result{},
	}

	defs := stage.NewPipeline().
		Add(StageDiscover, func(ctx context.Context) error { return d.discover(ctx, st) }).
		Add(StageBootstrap, func(ctx context.Context) error { return d.renderBootstrap(ctx, st) }).
		Add(StageTranspile, func(ctx context.Context) error { return d.transpile(ctx, st) }).
		Add(StageCompile, func(ctx context.Context) error { return d.compile(ctx, st) }).
		Add(StageLink, func(ctx context.Context) error { return d.link(ctx, st) }).
		AddIf(d.target.IsWindows(), StagePayload, func(ctx context.Context) error { return d.payload(ctx, st) }).
		AddIf(!d.target.IsWindows(), StageFinalize, func(ctx context.Context) error { return MakeExecutable(st.plan.Executable) }).
		Build()

	report, err := stage.Run(ctx, defs, d.recorder)
	st.result.Report = report
	if err != nil {
		return st.result, classify(err)
	}

	observability.InfoContext(ctx, "Executable built",
		logfields.Exe(st.result.Executable),
		slog.Int("dirty", len(st.result.Dirty)),
		slog.Int("reused", len(st.result.ReusedObjects)),
		logfields.DurationMS(float64(report.Total().Milliseconds())))
	return st.result, nil
}

func (d *Driver) normalize(opts *Options) error {
	switch {
	case opts.ExeName == "":
		return ferrors.ValidationError("executable name is required").Build()
	case opts.MainModule == "":
		return ferrors.ValidationError("main module is required").WithContext("exe", opts.ExeName).Build()
	case len(opts.Patterns) == 0:
		return ferrors.ValidationError("no source patterns").WithContext("exe", opts.ExeName).Build()
	}
	if opts.SourceRoot == "" {
		opts.SourceRoot = "."
	}
	if opts.BuildDir == "" {
		opts.BuildDir = filepath.Join(opts.SourceRoot, "build")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "build"
	}
	for _, dir := range []string{opts.BuildDir, opts.OutputDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create build directory").
				WithContext("path", dir).Fatal().Build()
		}
	}
	return nil
}

func (d *Driver) discover(ctx context.Context, st *buildState) error {
	disc, err := Discover(DiscoverOptions{
		SourceRoot:   st.opts.SourceRoot,
		Patterns:     st.opts.Patterns,
		BuildDir:     st.opts.BuildDir,
		ObjectSuffix: d.target.ObjectSuffix(),
		Force:        st.opts.Force,
	})
	if err != nil {
		return err
	}
	if len(disc.Modules) == 0 {
		return fmt.Errorf("%w: %v in %s", ErrNoSources, st.opts.Patterns, st.opts.SourceRoot)
	}
	st.discovery = disc

	for _, m := range disc.Modules {
		if m.Dirty {
			st.result.Dirty = append(st.result.Dirty, m.Qualified())
		} else {
			st.reused = append(st.reused, m.Object)
		}
	}
	st.result.Packages = disc.PackageNames()
	d.recorder.ObserveModules(st.opts.ExeName, len(st.result.Dirty), len(st.reused))

	observability.InfoContext(ctx, "Modules discovered",
		logfields.Count(len(disc.Modules)),
		slog.Int("dirty", len(st.result.Dirty)),
		slog.Int("packages", len(disc.Packages)))
	return nil
}

func (d *Driver) renderBootstrap(ctx context.Context, st *buildState) error {
	units, err := d.bootstrapper.Render(st.opts.BuildDir, st.discovery, st.opts.MainModule)
	if err != nil {
		return err
	}
	st.bootstrap = units
	observability.DebugContext(ctx, "Bootstrap units rendered", logfields.Count(len(units)))
	return nil
}

func (d *Driver) transpile(ctx context.Context, st *buildState) error {
	var root BootstrapUnit
	var batch []string

	if d.target.IsWindows() {
		rc := filepath.Join(st.opts.BuildDir, st.opts.ExeName+".rc")
		if _, err := os.Stat(rc); err == nil {
			st.units = append(st.units, rc)
		}
	}
	for _, m := range st.discovery.DirtyModules() {
		batch = append(batch, m.Source)
		st.units = append(st.units, m.Unit)
	}
	for _, u := range st.bootstrap {
		if u.Root {
			root = u
			continue
		}
		batch = append(batch, u.Source)
	}

	if err := d.transpiler.Embed(ctx, root.Source); err != nil {
		return err
	}
	st.units = append(st.units, root.C)
	for _, u := range st.bootstrap {
		if !u.Root {
			st.units = append(st.units, u.C)
		}
	}

	if err := d.transpiler.Transpile(ctx, st.opts.BuildDir, batch, st.opts.Parallel); err != nil {
		return err
	}
	observability.DebugContext(ctx, "Transpiled sources", logfields.Count(len(batch)+1))
	return nil
}

func (d *Driver) compile(ctx context.Context, st *buildState) error {
	jobs := 1
	if st.opts.Parallel {
		jobs = runtime.NumCPU()
	}

	rootC := ""
	for _, u := range st.bootstrap {
		if u.Root {
			rootC = u.C
		}
	}
	others := slices.DeleteFunc(slices.Clone(st.units), func(u string) bool { return u == rootC })

	rootObjs, err := d.cc.Compile(ctx, []string{rootC}, st.settings.Options(false, 1))
	if err != nil {
		return fmt.Errorf("%w: %v: %w", ErrCompile, []string{rootC}, err)
	}
	otherObjs, err := d.cc.Compile(ctx, others, st.settings.Options(true, jobs))
	if err != nil {
		return fmt.Errorf("%w: %v: %w", ErrCompile, others, err)
	}

	byUnit := make(map[string]string, len(st.units))
	byUnit[rootC] = rootObjs[0]
	for i, u := range others {
		byUnit[u] = otherObjs[i]
	}
	for _, u := range st.units {
		st.compiled = append(st.compiled, byUnit[u])
	}

	st.result.CompiledUnits = slices.Clone(st.units)
	st.result.ReusedObjects = slices.Clone(st.reused)
	observability.InfoContext(ctx, "Compiled units",
		logfields.Count(len(st.units)),
		slog.Int("reused", len(st.reused)))
	return nil
}

func (d *Driver) link(ctx context.Context, st *buildState) error {
	objects := slices.Concat(st.reused, st.compiled)
	plan, err := PlanLink(LinkInput{
		Target:        d.target,
		Interp:        d.interp,
		Settings:      st.settings,
		Objects:       objects,
		ExeName:       st.opts.ExeName,
		OutputDir:     st.opts.OutputDir,
		NoConsole:     st.opts.NoConsole,
		StaticArchive: d.staticArchive,
	})
	if err != nil {
		return err
	}
	st.plan = plan

	if _, err := d.cc.Link(ctx, plan.Objects, plan.Options); err != nil {
		return fmt.Errorf("%w: %w", ErrLink, err)
	}
	st.result.Objects = plan.Objects
	st.result.Executable = plan.Executable
	observability.DebugContext(ctx, "Linked", logfields.Path(plan.Linked), logfields.Count(len(plan.Objects)))
	return nil
}

func (d *Driver) payload(ctx context.Context, st *buildState) error {
	if err := Concat(st.plan.Linked, st.plan.Payload, st.plan.Executable); err != nil {
		return err
	}
	observability.DebugContext(ctx, "Payload appended", logfields.Path(st.plan.Executable))
	return nil
}

// classify maps pipeline failures onto error categories for exit codes.
func classify(err error) error {
	var b *ferrors.ErrorBuilder
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		b = ferrors.WrapError(err, ferrors.CategoryRuntime, "build canceled")
	case errors.Is(err, ErrTranspile), errors.Is(err, ErrCompile), errors.Is(err, ErrLink):
		b = ferrors.WrapError(err, ferrors.CategoryToolchain, "toolchain failed").Fatal()
	case errors.Is(err, ErrLibraryNotFound):
		b = ferrors.WrapError(err, ferrors.CategoryConfig, "library not found").Fatal()
	case errors.Is(err, ErrTemplate), errors.Is(err, ErrReservedModule), errors.Is(err, ErrNestedPackage),
		errors.Is(err, ErrDuplicateModule), errors.Is(err, ErrNoSources):
		b = ferrors.WrapError(err, ferrors.CategoryConfig, "invalid sources").Fatal()
	default:
		b = ferrors.WrapError(err, ferrors.CategoryFileSystem, "build failed").Fatal()
	}
	var se *stage.Error
	if errors.As(err, &se) {
		b = b.WithContext("stage", string(se.Stage))
	}
	return b.Build()
}
