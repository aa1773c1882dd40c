package compiler

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcatProducesZipAppendedExecutable(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "tmp.exe")
	archive := filepath.Join(dir, LibraryArchive)
	dst := filepath.Join(dir, "app.exe")

	stub := bytes.Repeat([]byte("MZ"), 512)
	require.NoError(t, os.WriteFile(exe, stub, 0o600))

	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	w, err := zw.Create("encodings/__init__.pyc")
	require.NoError(t, err)
	_, err = w.Write([]byte("compiled"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(archive, zbuf.Bytes(), 0o600))

	require.NoError(t, Concat(exe, archive, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, len(stub)+zbuf.Len(), len(got))
	assert.Equal(t, stub, got[:len(stub)])
	assert.Equal(t, zbuf.Bytes(), got[len(stub):])

	zr, err := zip.NewReader(bytes.NewReader(got), int64(len(got)))
	require.NoError(t, err, "the payload is found from the end of the executable")
	require.Len(t, zr.File, 1)
	assert.Equal(t, "encodings/__init__.pyc", zr.File[0].Name)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "compiled", string(body))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0o100)
	}
}

func TestConcatMissingInputLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "tmp.exe")
	require.NoError(t, os.WriteFile(exe, []byte("MZ"), 0o600))
	dst := filepath.Join(dir, "app.exe")

	err := Concat(exe, filepath.Join(dir, LibraryArchive), dst)
	require.ErrorIs(t, err, ErrPayload)
	assert.NoFileExists(t, dst)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestConcatReplacesPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, "tmp.exe", LibraryArchive)
	dst := filepath.Join(dir, "app.exe")
	require.NoError(t, os.WriteFile(dst, []byte("old contents that are longer than the new ones"), 0o600))

	require.NoError(t, Concat(filepath.Join(dir, "tmp.exe"), filepath.Join(dir, LibraryArchive), dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "# tmp.exe\n# library.zip\n", string(got))
}

func TestMakeExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	p := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(p, []byte("ELF"), 0o600))
	require.NoError(t, MakeExecutable(p))
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o711), info.Mode().Perm())
	require.Error(t, MakeExecutable(filepath.Join(t.TempDir(), "missing")))
}
