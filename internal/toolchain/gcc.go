package toolchain

import (
	"context"
	"path/filepath"

	"github.com/rsjsoftware/rsjbuild/internal/platform"
)

// GCC drives a Unix cc-compatible compiler (gcc, clang).
type GCC struct {
	runner Runner
	target platform.Target
	cc     string
	linker string
}

// Target implements CCompiler.
func (g *GCC) Target() platform.Target { return g.target }

// ObjectPath implements CCompiler.
func (g *GCC) ObjectPath(source string) string {
	return replaceExt(source, g.target.ObjectSuffix())
}

// Compile implements CCompiler.
func (g *GCC) Compile(ctx context.Context, sources []string, opts CompileOptions) ([]string, error) {
	return compileEach(ctx, sources, opts.Jobs, func(ctx context.Context, src string) (string, error) {
		obj := g.ObjectPath(src)
		args := make([]string, 0, len(opts.Macros)+len(opts.IncludeDirs)+len(opts.ExtraArgs)+4)
		for _, m := range opts.Macros {
			args = append(args, "-D"+m.String())
		}
		for _, dir := range opts.IncludeDirs {
			args = append(args, "-I"+dir)
		}
		args = append(args, "-c", src, "-o", obj)
		args = append(args, opts.ExtraArgs...)
		if err := g.runner.Run(ctx, Command{Name: g.cc, Args: args}); err != nil {
			return "", err
		}
		return obj, nil
	})
}

// Link implements CCompiler. Argument order follows the classic cc driver:
// preargs, objects, -L dirs, -l libs, -o output.
func (g *GCC) Link(ctx context.Context, objects []string, opts LinkOptions) (string, error) {
	output := filepath.Join(opts.OutputDir, opts.OutputName+g.target.ExecutableSuffix())
	args := make([]string, 0, len(opts.PreArgs)+len(objects)+len(opts.LibraryDirs)+len(opts.Libraries)+2)
	args = append(args, opts.PreArgs...)
	args = append(args, objects...)
	for _, dir := range opts.LibraryDirs {
		args = append(args, "-L"+dir)
	}
	for _, lib := range opts.Libraries {
		args = append(args, "-l"+lib)
	}
	args = append(args, "-o", output)
	if err := g.runner.Run(ctx, Command{Name: g.linker, Args: args}); err != nil {
		return "", err
	}
	return output, nil
}
