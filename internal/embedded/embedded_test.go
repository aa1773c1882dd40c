package embedded

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
	helpers "github.com/rsjsoftware/rsjbuild/internal/testutil/testutils"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
	"github.com/rsjsoftware/rsjbuild/internal/workspace"
)

func interpreter() *platform.Interpreter {
	return &platform.Interpreter{Executable: "python", Major: 3, Minor: 11, Micro: 9}
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[n]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zipEntries(t *testing.T, p string) []string {
	t.Helper()
	zr, err := zip.OpenReader(p)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

type distDownloader struct {
	t    *testing.T
	urls []string
}

func (d *distDownloader) Download(_ context.Context, url, dst string) error {
	d.urls = append(d.urls, url)
	stdlib := zipBytes(d.t, map[string]string{"os.pyc": "compiled os", "encodings/__init__.pyc": "enc"})
	dist := zipBytes(d.t, map[string]string{
		"python.exe":      "MZ",
		"python311._pth":  "python311.zip\n.\n",
		"python311.zip":   string(stdlib),
		"__pycache__/x.c": "cache",
	})
	return os.WriteFile(dst, dist, 0o600)
}

// pipInstall simulates uv installing two packages into the embed directory.
func pipInstall(embed string) error {
	files := map[string]string{
		"requests/__init__.py":               "import os",
		"requests/bad.py":                    "def (",
		"requests-2.31.0.dist-info/LICENSE":  "Apache requests",
		"requests-2.31.0.dist-info/METADATA": "meta",
		"other/__init__.py":                  "",
		"other/tests/test_other.py":          "",
		"other/Tests/test_more.py":           "",
		"bin/activate":                       "",
	}
	for rel, content := range files {
		p := filepath.Join(embed, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}

// byteCompile creates a .pyc next to every .py except files named bad.py.
func byteCompile(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".py") || filepath.Base(p) == "bad.py" {
			return err
		}
		return os.WriteFile(strings.TrimSuffix(p, ".py")+".pyc", []byte("pyc"), 0o600)
	})
}

func newRunner(layout *workspace.Layout) *toolchain.FakeRunner {
	return &toolchain.FakeRunner{Handler: func(cmd toolchain.Command) error {
		switch {
		case cmd.Tool() == "uv" && len(cmd.Args) > 1 && cmd.Args[0] == "pip":
			return pipInstall(layout.Embed)
		case cmd.Tool() == "uv" && cmd.Args[0] == "venv":
			return os.MkdirAll(filepath.Join(layout.Embed, "bin"), 0o750)
		case cmd.Tool() == "python":
			return byteCompile(cmd.Args[2])
		}
		return nil
	}}
}

func TestAssembleWindows(t *testing.T) {
	layout := workspace.New(t.TempDir())
	writeFile(t, filepath.Join(layout.Root, "install", "license.txt"), "App license\n")
	writeFile(t, filepath.Join(layout.Root, "assets", "icon.ico"), "ico")
	writeFile(t, filepath.Join(layout.Embed, "stale.txt"), "old")

	runner := newRunner(layout)
	dl := &distDownloader{t: t}
	a := &Assembler{
		Runner:      runner,
		Interpreter: interpreter(),
		Target:      platform.Windows,
		Layout:      layout,
		Downloader:  dl,
		BaseURL:     "https://mirror.example/python/",
	}
	cfg := config.EmbeddedConfig{
		CopyOptions: config.CopyOptions{
			CreateDirs:  []string{"data"},
			CopyFiles:   []config.CopySpec{{Source: "assets/icon.ico", Target: "icon.ico"}},
			DeleteFiles: []string{"python.exe"},
		},
		CompModules: []string{"requests"},
		RemoveTests: true,
	}
	require.NoError(t, a.Assemble(context.Background(), "app", cfg))

	assert.Equal(t, []string{"https://mirror.example/python/3.11.9/python-3.11.9-embed-amd64.zip"}, dl.urls)

	cmds := runner.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, []string{"export", "--no-dev", "--output-file", RequirementsFile}, cmds[0].Args)
	assert.Equal(t, []string{"pip", "install", "--upgrade", "--no-deps", "--target", layout.Embed, "-r", RequirementsFile}, cmds[1].Args)
	assert.Equal(t, "python", cmds[2].Name)

	helpers.NewFileAssertions(t, layout.Embed).
		AssertNoFile("stale.txt").
		AssertNoFile("python.exe").
		AssertNoFile("python311.zip").
		AssertNoFile("requests").
		AssertNoFile("requests-2.31.0.dist-info").
		AssertNoFile("bin").
		AssertNoFile("__pycache__").
		AssertNoFile("other/tests").
		AssertNoFile("other/Tests").
		AssertFileExists("other/__init__.py").
		AssertDirExists("data").
		AssertFileContent("icon.ico", "ico").
		AssertFileContent("python311._pth", "app\napp.exe\n.\nlib\nlib/site-packages\nimport site\n").
		AssertFileContains("license.txt", "App license\n").
		AssertFileContains("license.txt", "License for requests (").
		AssertFileContains("license.txt", "Apache requests")

	assert.Equal(t, []string{
		"encodings/__init__.pyc",
		"os.pyc",
		"requests/__init__.pyc",
		"requests/bad.py",
	}, zipEntries(t, filepath.Join(layout.Build, LibraryArchive)))
}

func TestAssembleWindowsReusesCachedDistribution(t *testing.T) {
	layout := workspace.New(t.TempDir())
	dl := &distDownloader{t: t}
	require.NoError(t, os.MkdirAll(layout.Build, 0o750))
	require.NoError(t, dl.Download(context.Background(), "seed", filepath.Join(layout.Build, interpreter().EmbedArchiveName())))
	dl.urls = nil

	a := &Assembler{Runner: newRunner(layout), Interpreter: interpreter(), Target: platform.Windows, Layout: layout}
	require.NoError(t, a.Assemble(context.Background(), "app", config.EmbeddedConfig{}))
	assert.Empty(t, dl.urls)
	assert.Equal(t, []string{"encodings/__init__.pyc", "os.pyc"},
		zipEntries(t, filepath.Join(layout.Build, LibraryArchive)))
}

func TestAssembleLinux(t *testing.T) {
	layout := workspace.New(t.TempDir())
	runner := newRunner(layout)
	a := &Assembler{Runner: runner, Interpreter: interpreter(), Target: platform.Linux, Layout: layout, UV: "/opt/uv"}

	cfg := config.EmbeddedConfig{
		CopyOptions: config.CopyOptions{DeleteFiles: []string{"other/tests"}},
		CompModules: []string{"requests"},
	}
	require.NoError(t, a.Assemble(context.Background(), "app", cfg))

	cmds := runner.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "/opt/uv", cmds[0].Name)
	assert.Equal(t, []string{"venv", "--python", "3.11", layout.Embed}, cmds[0].Args)
	assert.Equal(t, []string{"pip", "install", "--upgrade", "--no-deps", "-r", RequirementsFile}, cmds[2].Args)
	assert.Equal(t, []string{"VIRTUAL_ENV=" + layout.Embed}, cmds[2].Env)

	helpers.NewFileAssertions(t, layout.Embed).
		AssertDirExists("bin").
		AssertFileExists("requests/bad.py").
		AssertFileExists("requests-2.31.0.dist-info/METADATA").
		AssertNoFile("other/tests").
		AssertFileExists("other/Tests/test_more.py").
		AssertNoFile("python311._pth")
	assert.NoFileExists(t, filepath.Join(layout.Build, LibraryArchive))
}

func TestAssembleToolFailure(t *testing.T) {
	layout := workspace.New(t.TempDir())
	runner := &toolchain.FakeRunner{Handler: func(cmd toolchain.Command) error {
		return &toolchain.ToolError{Command: cmd, ExitCode: 2, Stderr: "uv: no lockfile"}
	}}
	a := &Assembler{Runner: runner, Interpreter: interpreter(), Target: platform.Linux, Layout: layout}
	err := a.Assemble(context.Background(), "app", config.EmbeddedConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uv: no lockfile")
	assert.ErrorIs(t, err, toolchain.ErrToolFailed)
}

func TestWriteLicenses(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "LICENSE"), "top level is skipped")
	writeFile(t, filepath.Join(root, "numpy-1.26.0.dist-info", "LICENSE.txt"), "BSD")
	writeFile(t, filepath.Join(root, "attrs", "license"), "MIT")
	dst := filepath.Join(root, "license.txt")

	require.NoError(t, WriteLicenses(dst, root, filepath.Join(root, "missing.txt")))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	text := string(data)
	assert.NotContains(t, text, "top level is skipped")
	assert.Contains(t, text, "\n**********************\nLicense for numpy ("+filepath.Join(root, "numpy-1.26.0.dist-info", "LICENSE.txt")+")\n\nBSD")
	assert.Contains(t, text, "License for attrs (")
	assert.Less(t, strings.Index(text, "attrs"), strings.Index(text, "numpy"))
}

func TestRemoveTestDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "tests", "t.py"), "")
	writeFile(t, filepath.Join(root, "b", "TESTS", "t.py"), "")
	writeFile(t, filepath.Join(root, "c", "testsuite", "t.py"), "")

	n, err := RemoveTestDirs(root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.DirExists(t, filepath.Join(root, "c", "testsuite"))
}
