package fileops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// ZipExtra lists files and directories added after the embed tree.
type ZipExtra struct {
	FileList []string `json:"fileList"`
	DirList  []string `json:"dirList"`
}

// LoadZipExtra reads an extra-file list.
func LoadZipExtra(p string) (*ZipExtra, error) {
	// #nosec G304 -- configured build input
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var extra ZipExtra
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return &extra, nil
}

// ZipDistribution packs a directory tree under a common prefix.
type ZipDistribution struct {
	// Source is the tree to pack, normally embed/.
	Source string
	// Prefix is the top-level directory inside the archive, normally the executable name.
	Prefix string
	// Ignore patterns are matched against slash paths relative to Source, anchored at the
	// right like path globs: "*.pyc" matches at any depth, "docs/**" only below docs.
	Ignore []string
	Extra  *ZipExtra
	// ExtraRoot resolves Extra entries; they keep their relative path below Prefix.
	ExtraRoot string
}

// Build writes the archive to dst and returns the number of entries. Each archive name is
// written at most once; the embed tree wins over extras.
func (z ZipDistribution) Build(ctx context.Context, dst string) (int, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create zip").WithContext("path", dst).Build()
	}
	zw := zip.NewWriter(out)
	included := map[string]bool{}

	add := func(src, name string) error {
		if included[name] {
			return nil
		}
		included[name] = true
		return addToZip(zw, src, name)
	}

	err = filepath.WalkDir(z.Source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(z.Source, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if MatchAny(z.Ignore, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return add(p, path.Join(z.Prefix, rel))
	})

	if err == nil && z.Extra != nil {
		err = z.addExtras(add)
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "build zip").WithContext("path", dst).Build()
	}

	if info, statErr := os.Stat(dst); statErr == nil {
		observability.InfoContext(ctx, "Created zip", logfields.Path(dst), logfields.Count(len(included)),
			logfields.Size(humanize.Bytes(uint64(info.Size()))))
	}
	return len(included), nil
}

func (z ZipDistribution) addExtras(add func(src, name string) error) error {
	root := z.ExtraRoot
	if root == "" {
		root = "."
	}
	for _, f := range z.Extra.FileList {
		if err := add(filepath.Join(root, filepath.FromSlash(f)), path.Join(z.Prefix, filepath.ToSlash(f))); err != nil {
			return err
		}
	}
	for _, dir := range z.Extra.DirList {
		base := filepath.Join(root, filepath.FromSlash(dir))
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			return add(p, path.Join(z.Prefix, filepath.ToSlash(rel)))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func addToZip(zw *zip.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	// #nosec G304 -- files from the embed tree
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// MatchAny reports whether rel matches one of the patterns. A pattern matches when it matches
// the whole path or its trailing components.
func MatchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if matchRight(filepath.ToSlash(p), rel) {
			return true
		}
	}
	return false
}

func matchRight(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if strings.HasPrefix(pattern, "/") {
		return false
	}
	parts := strings.Split(rel, "/")
	want := strings.Count(pattern, "/") + 1
	if want >= len(parts) {
		return false
	}
	ok, _ := doublestar.Match(pattern, strings.Join(parts[len(parts)-want:], "/"))
	return ok
}
