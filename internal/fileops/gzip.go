package fileops

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// PrecompressedSuffixes are left alone by the gzip pass.
var PrecompressedSuffixes = []string{".gz", ".zip", ".png", ".gif", ".jpg", ".jpeg"}

// GzipTree writes a .gz sibling for every regular file below root, except already compressed
// formats. It returns the number of files compressed.
func GzipTree(ctx context.Context, root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if slices.Contains(PrecompressedSuffixes, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		if err := GzipFile(path, path+".gz"); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, ferrors.WrapError(err, ferrors.CategoryFileSystem, "gzip pass failed").
			WithContext("path", root).Build()
	}
	observability.InfoContext(ctx, "Compressed files", logfields.Path(root), logfields.Count(n))
	return n, nil
}

// GzipFile compresses src into dst at the best compression level.
func GzipFile(src, dst string) error {
	// #nosec G304 -- configured build outputs
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		_ = out.Close()
		return err
	}
	zw.Name = filepath.Base(src)
	if _, err := io.Copy(zw, in); err != nil {
		_ = zw.Close()
		_ = out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
