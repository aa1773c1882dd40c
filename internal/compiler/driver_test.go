package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
	"github.com/rsjsoftware/rsjbuild/internal/stage"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// fakeToolchain returns a runner whose commands create the files the real tools would write.
func fakeToolchain(t *testing.T) *toolchain.FakeRunner {
	t.Helper()
	write := func(path string) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		return os.WriteFile(path, []byte("<"+filepath.Base(path)+">"), 0o600)
	}
	return &toolchain.FakeRunner{Handler: func(cmd toolchain.Command) error {
		args := cmd.Args
		if i := slices.Index(args, "--output-file"); i >= 0 {
			for _, f := range args[i+2:] {
				stem := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
				if err := write(filepath.Join(args[i+1], stem+".c")); err != nil {
					return err
				}
			}
			return nil
		}
		if slices.Contains(args, "--embed") {
			src := args[len(args)-1]
			return write(strings.TrimSuffix(src, filepath.Ext(src)) + ".c")
		}
		for i, a := range args {
			switch {
			case (a == "-o" || a == "/fo") && i+1 < len(args):
				return write(args[i+1])
			case strings.HasPrefix(a, "/Fo"):
				return write(strings.TrimPrefix(a, "/Fo"))
			case strings.HasPrefix(a, "/OUT:"):
				return write(strings.TrimPrefix(a, "/OUT:"))
			}
		}
		return nil
	}}
}

type project struct {
	root    string
	output  string
	archive string
}

func newProject(t *testing.T) project {
	t.Helper()
	base := t.TempDir()
	p := project{
		root:    filepath.Join(base, "src"),
		output:  filepath.Join(base, "out"),
		archive: filepath.Join(base, "libpython3.11-pic.a"),
	}
	writeTree(t, p.root, "main.py", "pkg/helper.py", "pkg/__init__.py")
	writeTree(t, base, "libpython3.11-pic.a")
	past := time.Now().Add(-time.Hour)
	for _, f := range []string{"main.py", "pkg/helper.py", "pkg/__init__.py"} {
		touch(t, filepath.Join(p.root, filepath.FromSlash(f)), past)
	}
	return p
}

func (p project) options() Options {
	return Options{
		SourceRoot: p.root,
		Patterns:   []string{"**/*.py"},
		MainModule: "main",
		ExeName:    "app",
		OutputDir:  p.output,
	}
}

func linuxDriver(r toolchain.Runner, archive string) *Driver {
	return NewDriver(DriverConfig{
		Runner:        r,
		Interpreter:   linuxInterpreter(),
		Target:        platform.Linux,
		StaticArchive: archive,
	})
}

func TestBuildLinuxEndToEnd(t *testing.T) {
	p := newProject(t)
	r := fakeToolchain(t)

	res, err := linuxDriver(r, p.archive).Build(context.Background(), p.options())
	require.NoError(t, err)

	build := filepath.Join(p.root, "build")
	assert.Equal(t, filepath.Join(p.output, "app"), res.Executable)
	assert.Equal(t, []string{"main", "pkg.helper"}, res.Dirty)
	assert.Equal(t, []string{"pkg"}, res.Packages)
	assert.Empty(t, res.ReusedObjects)
	assert.Equal(t, []string{
		filepath.Join(build, "main.c"),
		filepath.Join(build, "helper.c"),
		filepath.Join(build, "bootstrap.c"),
		filepath.Join(build, "pkg.c"),
	}, res.CompiledUnits)
	assert.Equal(t, []string{
		p.archive,
		filepath.Join(build, "main.o"),
		filepath.Join(build, "helper.o"),
		filepath.Join(build, "bootstrap.o"),
		filepath.Join(build, "pkg.o"),
	}, res.Objects)

	embed := r.CallsTo("--embed")
	require.Len(t, embed, 1)
	assert.Equal(t, filepath.Join(build, "bootstrap.pyx"), embed[0].Args[len(embed[0].Args)-1])

	batch := r.CallsTo("--output-file")
	require.Len(t, batch, 1)
	assert.Equal(t, []string{
		filepath.Join(p.root, "main.py"),
		filepath.Join(p.root, "pkg", "helper.py"),
		filepath.Join(build, "pkg.pyx"),
	}, batch[0].Args[6:])

	var rootCompile, moduleCompile toolchain.Command
	for _, c := range callsOf(r, "cc") {
		switch {
		case slices.Contains(c.Args, filepath.Join(build, "bootstrap.c")):
			rootCompile = c
		case slices.Contains(c.Args, filepath.Join(build, "main.c")):
			moduleCompile = c
		}
	}
	assert.NotContains(t, rootCompile.Args, "-D"+NoInitExportMacro+"=1")
	assert.Contains(t, moduleCompile.Args, "-D"+NoInitExportMacro+"=1")
	assert.Contains(t, moduleCompile.Args, "-DNDEBUG")

	link := r.Commands()[len(r.Commands())-1]
	assert.Contains(t, link.Args, "--copy-dt-needed-entries")
	assert.Equal(t, filepath.Join(p.output, "app"), link.Args[len(link.Args)-1])

	if runtime.GOOS != "windows" {
		info, err := os.Stat(res.Executable)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0o111)
	}

	for _, name := range []stage.Name{StageDiscover, StageBootstrap, StageTranspile, StageCompile, StageLink, StageFinalize} {
		assert.Contains(t, stageNames(res), name)
	}
}

func TestBuildReusesCleanObjects(t *testing.T) {
	p := newProject(t)
	r := fakeToolchain(t)
	d := linuxDriver(r, p.archive)

	_, err := d.Build(context.Background(), p.options())
	require.NoError(t, err)
	r.Reset()

	res, err := d.Build(context.Background(), p.options())
	require.NoError(t, err)

	build := filepath.Join(p.root, "build")
	assert.Empty(t, res.Dirty)
	assert.Equal(t, []string{filepath.Join(build, "main.o"), filepath.Join(build, "helper.o")}, res.ReusedObjects)
	assert.Empty(t, r.CallsTo(filepath.Join(p.root, "main.py")), "clean modules are not transpiled again")
	assert.Empty(t, r.CallsTo(filepath.Join(build, "main.c")), "clean modules are not compiled again")
	assert.Equal(t, []string{
		p.archive,
		filepath.Join(build, "main.o"),
		filepath.Join(build, "helper.o"),
		filepath.Join(build, "bootstrap.o"),
		filepath.Join(build, "pkg.o"),
	}, res.Objects)

	r.Reset()
	opts := p.options()
	opts.Force = true
	res, err = d.Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Dirty, 2)
	assert.Len(t, r.CallsTo(filepath.Join(build, "main.c")), 1)
}

func TestBuildIgnoresGeneratedSourcesOnRebuild(t *testing.T) {
	p := newProject(t)
	writeTree(t, p.root, "fast.pyx")
	touch(t, filepath.Join(p.root, "fast.pyx"), time.Now().Add(-time.Hour))
	r := fakeToolchain(t)
	d := linuxDriver(r, p.archive)
	opts := p.options()
	opts.Patterns = []string{"**/*.py", "**/*.pyx"}

	first, err := d.Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "main", "pkg.helper"}, first.Dirty)
	build := filepath.Join(p.root, "build")
	require.FileExists(t, filepath.Join(build, "bootstrap.pyx"))
	require.FileExists(t, filepath.Join(build, "pkg.pyx"))

	r.Reset()
	second, err := d.Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, second.Dirty)
	assert.Equal(t, []string{"pkg"}, second.Packages)
	assert.Contains(t, second.ReusedObjects, filepath.Join(build, "fast.o"))
	assert.NotContains(t, second.ReusedObjects, filepath.Join(build, "bootstrap.o"))
}

func TestBuildFailures(t *testing.T) {
	t.Run("no sources", func(t *testing.T) {
		p := newProject(t)
		opts := p.options()
		opts.Patterns = []string{"*.pyx"}
		_, err := linuxDriver(fakeToolchain(t), p.archive).Build(context.Background(), opts)
		require.ErrorIs(t, err, ErrNoSources)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
	})

	t.Run("compile error stops the build", func(t *testing.T) {
		p := newProject(t)
		fake := fakeToolchain(t)
		inner := fake.Handler
		fake.Handler = func(cmd toolchain.Command) error {
			if cmd.Name == "cc" && slices.Contains(cmd.Args, "-c") && strings.HasSuffix(cmd.Args[slices.Index(cmd.Args, "-c")+1], "helper.c") {
				return &toolchain.ToolError{Command: cmd, ExitCode: 1, Stderr: "helper.c:1: error"}
			}
			return inner(cmd)
		}
		_, err := linuxDriver(fake, p.archive).Build(context.Background(), p.options())
		require.ErrorIs(t, err, ErrCompile)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryToolchain))
		assert.Contains(t, err.Error(), "helper.c:1: error")
		assert.NoFileExists(t, filepath.Join(p.output, "app"))
	})

	t.Run("missing static archive", func(t *testing.T) {
		p := newProject(t)
		_, err := linuxDriver(fakeToolchain(t), filepath.Join(t.TempDir(), "nope.a")).Build(context.Background(), p.options())
		require.ErrorIs(t, err, ErrLibraryNotFound)
	})

	t.Run("canceled", func(t *testing.T) {
		p := newProject(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := linuxDriver(fakeToolchain(t), p.archive).Build(ctx, p.options())
		require.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("missing main module", func(t *testing.T) {
		opts := newProject(t).options()
		opts.MainModule = ""
		_, err := linuxDriver(fakeToolchain(t), "").Build(context.Background(), opts)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	})
}

func TestBuildWindowsAppendsPayload(t *testing.T) {
	p := newProject(t)
	build := filepath.Join(p.root, "build")
	writeTree(t, build, "app.rc")
	writeTree(t, p.output, LibraryArchive)

	r := fakeToolchain(t)
	d := NewDriver(DriverConfig{
		Runner:      r,
		Interpreter: &platform.Interpreter{Executable: "python.exe", Major: 3, Minor: 11, PlatBase: `C:\Python311`},
		Target:      platform.Windows,
	})
	opts := p.options()
	opts.NoConsole = true
	res, err := d.Build(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(build, "app.rc"), res.CompiledUnits[0])
	assert.Equal(t, filepath.Join(build, "app.res"), res.Objects[0])
	assert.Equal(t, filepath.Join(p.output, "app.exe"), res.Executable)

	rc := callsOf(r, "rc")
	require.Len(t, rc, 1)

	link := callsOf(r, "link")
	require.Len(t, link, 1)
	assert.Equal(t, "/subsystem:windows", link[0].Args[0])
	assert.Equal(t, "/OUT:"+filepath.Join(p.output, "tmp.exe"), link[0].Args[len(link[0].Args)-1])

	got, err := os.ReadFile(res.Executable)
	require.NoError(t, err)
	assert.Equal(t, "<tmp.exe># library.zip\n", string(got))
	assert.Contains(t, stageNames(res), StagePayload)
}

func stageNames(res *Result) []stage.Name {
	var names []stage.Name
	for _, s := range res.Report.Stages {
		names = append(names, s.Stage)
	}
	return names
}

func callsOf(r *toolchain.FakeRunner, tool string) []toolchain.Command {
	var out []toolchain.Command
	for _, c := range r.Commands() {
		if c.Tool() == tool {
			out = append(out, c)
		}
	}
	return out
}
