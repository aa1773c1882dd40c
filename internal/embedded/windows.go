package embedded

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/fileops"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// LibraryArchive is the zipped standard library appended to windows executables.
const LibraryArchive = "library.zip"

// compileScript byte-compiles every .py file below argv[1] into a sibling .pyc. Files that
// fail to compile are left alone and shipped as source.
const compileScript = `import pathlib, py_compile, sys
for src in pathlib.Path(sys.argv[1]).rglob("*.py"):
    try:
        py_compile.compile(str(src), cfile=str(src.with_suffix(".pyc")), optimize=2, doraise=True)
    except Exception as exc:
        print(f"{src}: {exc}", file=sys.stderr)
`

// PathFileContent is the sys.path pinning file for an embeddable distribution.
func PathFileContent(exeName string) string {
	return exeName + "\n" + exeName + ".exe\n.\nlib\nlib/site-packages\nimport site\n"
}

func (a *Assembler) finishWindows(ctx context.Context, exeName string, cfg config.EmbeddedConfig) error {
	embed := a.Layout.Embed
	pth := filepath.Join(embed, a.Interpreter.PathFileName())
	if err := os.WriteFile(pth, []byte(PathFileContent(exeName)), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write path file").Build()
	}

	if cfg.WithTkinter {
		if err := a.copyTkinter(); err != nil {
			return err
		}
	}
	if cfg.RemoveTests {
		n, err := RemoveTestDirs(embed)
		if err != nil {
			return err
		}
		observability.DebugContext(ctx, "Removed test directories", logfields.Count(n))
	}

	if err := a.buildLibrary(ctx, cfg.CompModules); err != nil {
		return err
	}
	return StripMetadata(ctx, embed)
}

func (a *Assembler) copyTkinter() error {
	base := a.Interpreter.PlatBase
	if base == "" {
		return ferrors.ConfigError("tkinter requested but the interpreter install base is unknown").Build()
	}
	trees := []struct{ src, dst string }{
		{filepath.Join(base, "tcl"), filepath.Join(a.Layout.Embed, "tcl")},
		{filepath.Join(base, "Lib", "tkinter"), filepath.Join(a.Layout.Embed, "tkinter")},
		{filepath.Join(base, "DLLs"), a.Layout.Embed},
	}
	for _, t := range trees {
		if err := fileops.CopyTree(t.src, t.dst, nil); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "copy tkinter runtime").
				WithContext("path", t.src).Build()
		}
	}
	return nil
}

// RemoveTestDirs deletes every directory named "tests" (any case) below root.
func RemoveTestDirs(root string) (int, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.EqualFold(d.Name(), "tests") {
			dirs = append(dirs, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "scan for test directories").Build()
	}
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "remove test directory").
				WithContext("path", d).Build()
		}
	}
	return len(dirs), nil
}

// StripMetadata removes install metadata and caches from the top of the embed directory.
func StripMetadata(ctx context.Context, root string) error {
	n, err := fileops.DeleteMatching(root, []string{"*.dist-info", "*.egg-info", "bin", "__pycache__"})
	if err != nil {
		return err
	}
	observability.DebugContext(ctx, "Stripped install metadata", logfields.Count(n))
	return nil
}

// buildLibrary writes build/library.zip: the distribution's zipped standard library followed
// by the compiled compModules packages, which are then removed from embed.
func (a *Assembler) buildLibrary(ctx context.Context, compModules []string) error {
	embed := a.Layout.Embed
	dst := filepath.Join(a.Layout.Build, LibraryArchive)
	stdlib := filepath.Join(embed, a.Interpreter.StdlibArchiveName())

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create library archive").Build()
	}
	zw := zip.NewWriter(out)
	count := 0

	err = func() error {
		if _, statErr := os.Stat(stdlib); statErr == nil {
			n, err := copyEntries(zw, stdlib)
			if err != nil {
				return err
			}
			count += n
		}
		for _, mod := range compModules {
			n, err := a.addCompiledModule(ctx, zw, mod)
			if err != nil {
				observability.WarnContext(ctx, "Could not add module to library archive",
					logfields.Module(mod), logfields.Error(err))
				continue
			}
			count += n
		}
		return nil
	}()
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "build library archive").
			WithContext("path", dst).Build()
	}
	if err := os.Remove(stdlib); err != nil && !os.IsNotExist(err) {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "remove stdlib archive").Build()
	}
	observability.InfoContext(ctx, "Library archive written", logfields.Path(dst), logfields.Count(count))
	return nil
}

func copyEntries(zw *zip.Writer, src string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if err := zw.Copy(f); err != nil {
			return 0, err
		}
	}
	return len(zr.File), nil
}

// addCompiledModule byte-compiles the package directory mod below embed, adds each module
// (compiled when possible) under mod/ and removes the directory.
func (a *Assembler) addCompiledModule(ctx context.Context, zw *zip.Writer, mod string) (int, error) {
	dir := filepath.Join(a.Layout.Embed, filepath.FromSlash(mod))
	if _, err := os.Stat(dir); err != nil {
		return 0, err
	}
	err := a.Runner.Run(ctx, toolchain.Command{
		Name: a.Interpreter.Executable,
		Args: []string{"-c", compileScript, dir},
	})
	if err != nil {
		return 0, err
	}

	sources, err := doublestar.Glob(os.DirFS(dir), "**/*.py")
	if err != nil {
		return 0, err
	}
	for _, rel := range sources {
		file := rel
		if compiled := strings.TrimSuffix(rel, ".py") + ".pyc"; exists(filepath.Join(dir, filepath.FromSlash(compiled))) {
			file = compiled
		}
		w, err := zw.Create(path.Join(filepath.ToSlash(mod), file))
		if err != nil {
			return 0, err
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(file)))
		if err != nil {
			return 0, err
		}
		if _, err := w.Write(data); err != nil {
			return 0, err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, err
	}
	observability.DebugContext(ctx, "Compiled module into library archive",
		logfields.Module(mod), logfields.Count(len(sources)))
	return len(sources), nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
