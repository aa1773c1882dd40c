package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsjsoftware/rsjbuild/internal/platform"
)

func TestCreate(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	require.NoError(t, l.Create())

	assert.DirExists(t, filepath.Join(root, "build"))
	assert.DirExists(t, filepath.Join(root, "output"))
	assert.DirExists(t, filepath.Join(root, "embed"))

	keep := filepath.Join(l.Build, "main.o")
	require.NoError(t, os.WriteFile(keep, nil, 0o600))
	require.NoError(t, l.Create())
	assert.FileExists(t, keep, "Create must not clear cached objects")
}

func TestDefaultRoot(t *testing.T) {
	l := New("")
	assert.Equal(t, ".", l.Root)
	assert.Equal(t, "build", l.Build)
	assert.Equal(t, "embed", l.Embed)
}

func TestBinDir(t *testing.T) {
	l := New("proj")
	assert.Equal(t, filepath.Join("proj", "embed"), l.BinDir(platform.Windows))
	assert.Equal(t, filepath.Join("proj", "embed", "bin"), l.BinDir(platform.Linux))
}

func TestPath(t *testing.T) {
	l := New("proj")
	assert.Equal(t, filepath.Join("proj", "locale"), l.Path(LocaleDir))
	abs := filepath.Join(t.TempDir(), "x")
	assert.Equal(t, abs, l.Path(abs))
}

func TestReset(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	dir, err := l.CreateSubdir("dist/app")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), nil, 0o600))

	again, err := l.Reset("dist/app")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.DirExists(t, again)
	assert.NoFileExists(t, filepath.Join(again, "old.txt"))
}
