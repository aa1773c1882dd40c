package toolchain

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rsjsoftware/rsjbuild/internal/platform"
)

// MSVC drives cl.exe, rc.exe and link.exe.
type MSVC struct {
	runner Runner
	cl     string
	rc     string
	link   string
}

// Target implements CCompiler.
func (m *MSVC) Target() platform.Target { return platform.Windows }

// ObjectPath implements CCompiler. Resource scripts compile to .res files.
func (m *MSVC) ObjectPath(source string) string {
	if strings.EqualFold(filepath.Ext(source), ".rc") {
		return replaceExt(source, ".res")
	}
	return replaceExt(source, platform.Windows.ObjectSuffix())
}

// Compile implements CCompiler.
func (m *MSVC) Compile(ctx context.Context, sources []string, opts CompileOptions) ([]string, error) {
	return compileEach(ctx, sources, opts.Jobs, func(ctx context.Context, src string) (string, error) {
		obj := m.ObjectPath(src)
		var cmd Command
		if strings.EqualFold(filepath.Ext(src), ".rc") {
			cmd = Command{Name: m.rc, Args: []string{"/nologo", "/fo", obj, src}}
		} else {
			args := []string{"/c", "/nologo", "/O2", "/W3", "/MD"}
			for _, mac := range opts.Macros {
				args = append(args, "/D"+mac.String())
			}
			for _, dir := range opts.IncludeDirs {
				args = append(args, "/I"+dir)
			}
			args = append(args, "/Tc"+src, "/Fo"+obj)
			args = append(args, opts.ExtraArgs...)
			cmd = Command{Name: m.cl, Args: args}
		}
		if err := m.runner.Run(ctx, cmd); err != nil {
			return "", err
		}
		return obj, nil
	})
}

// Link implements CCompiler. Bare library names get a .lib suffix; entries already ending in
// .lib are passed through.
func (m *MSVC) Link(ctx context.Context, objects []string, opts LinkOptions) (string, error) {
	output := filepath.Join(opts.OutputDir, opts.OutputName+platform.Windows.ExecutableSuffix())
	args := make([]string, 0, len(opts.PreArgs)+len(objects)+len(opts.LibraryDirs)+len(opts.Libraries)+3)
	args = append(args, opts.PreArgs...)
	args = append(args, "/nologo", "/INCREMENTAL:NO")
	for _, dir := range opts.LibraryDirs {
		args = append(args, "/LIBPATH:"+dir)
	}
	for _, lib := range opts.Libraries {
		if !strings.HasSuffix(strings.ToLower(lib), ".lib") {
			lib += ".lib"
		}
		args = append(args, lib)
	}
	args = append(args, objects...)
	args = append(args, "/OUT:"+output)
	if err := m.runner.Run(ctx, Command{Name: m.link, Args: args}); err != nil {
		return "", err
	}
	return output, nil
}
