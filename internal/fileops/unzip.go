package fileops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// creatorUnix is the "version made by" host system for Unix archives.
const creatorUnix = 3

// Extract empties outDir and extracts the archive at src into it. Permission bits recorded by
// Unix archivers are restored, execute bits included.
func Extract(ctx context.Context, src, outDir string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "open zip").WithContext("path", src).Build()
	}
	defer zr.Close()

	if err := os.RemoveAll(outDir); err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "clean unzip target").Build()
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create unzip target").Build()
	}

	n := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := extractOne(f, outDir); err != nil {
			return n, ferrors.WrapError(err, ferrors.CategoryFileSystem, "extract").
				WithContext("entry", f.Name).Build()
		}
		n++
	}
	observability.InfoContext(ctx, "Extracted archive", logfields.Path(src), logfields.Count(n))
	return n, nil
}

func extractOne(f *zip.File, outDir string) error {
	target := filepath.Join(outDir, filepath.FromSlash(f.Name))
	if target != filepath.Clean(outDir) && !strings.HasPrefix(target, filepath.Clean(outDir)+string(os.PathSeparator)) {
		return fmt.Errorf("entry %q escapes the target directory", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o750)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	// #nosec G110 -- archives are our own build outputs
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if f.CreatorVersion>>8 == creatorUnix {
		if mode := os.FileMode(f.ExternalAttrs>>16) & os.ModePerm; mode != 0 {
			return os.Chmod(target, mode)
		}
	}
	return nil
}
