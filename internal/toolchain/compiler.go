package toolchain

import (
	"context"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
)

// Macro is a preprocessor definition. An empty Value defines the name without a value.
type Macro struct {
	Name  string
	Value string
}

func (m Macro) String() string {
	if m.Value == "" {
		return m.Name
	}
	return m.Name + "=" + m.Value
}

// CompileOptions configure one compile call.
type CompileOptions struct {
	Macros      []Macro
	IncludeDirs []string
	// ExtraArgs are appended after the per-source arguments.
	ExtraArgs []string
	// Jobs bounds concurrent compiler processes; <=1 compiles sequentially.
	Jobs int
}

// LinkOptions configure the link of one executable.
type LinkOptions struct {
	OutputDir   string
	OutputName  string
	LibraryDirs []string
	Libraries   []string
	// PreArgs are placed before the object list.
	PreArgs []string
}

// CCompiler compiles C translation units and links executables.
type CCompiler interface {
	// ObjectPath returns the object produced for a source unit: same directory and stem, platform suffix.
	ObjectPath(source string) string
	// Compile builds every source and returns the object paths in source order.
	Compile(ctx context.Context, sources []string, opts CompileOptions) ([]string, error)
	// Link produces OutputDir/OutputName plus the platform executable suffix and returns its path.
	Link(ctx context.Context, objects []string, opts LinkOptions) (string, error)
	// Target returns the platform this compiler builds for.
	Target() platform.Target
}

// New returns the compiler family used on target, honouring executable overrides.
func New(target platform.Target, r Runner, tc config.ToolchainConfig) CCompiler {
	if target.IsWindows() {
		return &MSVC{
			runner: r,
			cl:     orDefault(tc.CC, "cl.exe"),
			rc:     orDefault(tc.RC, "rc.exe"),
			link:   orDefault(tc.Link, "link.exe"),
		}
	}
	cc := orDefault(tc.CC, "cc")
	return &GCC{
		runner: r,
		target: target,
		cc:     cc,
		linker: orDefault(tc.Link, cc),
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// compileEach runs compileOne for every source, up to jobs at a time, keeping the result order.
func compileEach(ctx context.Context, sources []string, jobs int, compileOne func(ctx context.Context, src string) (string, error)) ([]string, error) {
	objects := make([]string, len(sources))
	if jobs <= 1 {
		for i, src := range sources {
			obj, err := compileOne(ctx, src)
			if err != nil {
				return nil, err
			}
			objects[i] = obj
		}
		return objects, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, src := range sources {
		g.Go(func() error {
			obj, err := compileOne(gctx, src)
			if err != nil {
				return err
			}
			objects[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}
