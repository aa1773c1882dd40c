package fileops

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// Downloader fetches a URL into a local file.
type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}

// Copier applies copy plans. Downloader is used for http(s) sources and may be nil when no
// plan references a URL.
type Copier struct {
	Downloader Downloader
}

// IsURL reports whether source is fetched over HTTP.
func IsURL(source string) bool {
	return strings.HasPrefix(source, "https://") || strings.HasPrefix(source, "http://")
}

// Apply runs createDirs, copyFiles, copyTrees and deleteFiles in that order. Sources are
// relative to srcRoot, everything else to dstRoot. A file that cannot be copied is logged and
// skipped; a tree that cannot be copied aborts the plan. Delete entries are glob patterns and
// missing matches are ignored.
func (c Copier) Apply(ctx context.Context, plan *config.CopyOptions, dstRoot, srcRoot string) error {
	if plan.Empty() {
		return nil
	}

	for _, dir := range plan.CreateDirs {
		if err := os.MkdirAll(filepath.Join(dstRoot, dir), 0o750); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create directory").
				WithContext("path", dir).Build()
		}
	}

	for _, spec := range plan.CopyFiles {
		if err := c.copyOne(ctx, spec, dstRoot, srcRoot); err != nil {
			observability.WarnContext(ctx, "Copy failed, skipping",
				logfields.Path(spec.Source), logfields.Error(err))
		}
	}

	for _, spec := range plan.CopyTrees {
		src := filepath.Join(srcRoot, spec.Source)
		dst := filepath.Join(dstRoot, spec.Target)
		if err := CopyTree(src, dst, nil); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "copy tree").
				WithContext("source", spec.Source).Build()
		}
	}

	if len(plan.DeleteFiles) > 0 {
		n, err := DeleteMatching(dstRoot, plan.DeleteFiles)
		if err != nil {
			return err
		}
		observability.DebugContext(ctx, "Deleted files", logfields.Count(n))
	}
	return nil
}

func (c Copier) copyOne(ctx context.Context, spec config.CopySpec, dstRoot, srcRoot string) error {
	dst := filepath.Join(dstRoot, spec.Target)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	if IsURL(spec.Source) {
		if c.Downloader == nil {
			return fmt.Errorf("no downloader for %s", spec.Source)
		}
		return c.Downloader.Download(ctx, spec.Source, dst)
	}
	return CopyFile(filepath.Join(srcRoot, spec.Source), dst)
}

// DeleteMatching removes files and directories below root matching any pattern.
func DeleteMatching(root string, patterns []string) (int, error) {
	fsys := os.DirFS(root)
	n := 0
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern))
		if err != nil {
			return n, ferrors.ValidationError("invalid delete pattern").
				WithCause(err).WithContext("pattern", pattern).Build()
		}
		for _, m := range matches {
			if err := os.RemoveAll(filepath.Join(root, filepath.FromSlash(m))); err != nil {
				return n, ferrors.WrapError(err, ferrors.CategoryFileSystem, "delete").
					WithContext("path", m).Build()
			}
			n++
		}
	}
	return n, nil
}

// CopyFile copies src to dst keeping permission bits and modification time.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}
	// #nosec G304 -- configured build inputs
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// CopyTree merges the tree at src into dst. skip, when set, receives slash-separated paths
// relative to src; returning true for a directory skips the whole subtree.
func CopyTree(src, dst string, skip func(rel string, d fs.DirEntry) bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && skip != nil && skip(filepath.ToSlash(rel), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		default:
			return CopyFile(path, target)
		}
	})
}

// SkipSuffixes returns a CopyTree filter dropping files with any of the given suffixes.
func SkipSuffixes(suffixes ...string) func(string, fs.DirEntry) bool {
	return func(rel string, d fs.DirEntry) bool {
		if d.IsDir() {
			return false
		}
		for _, s := range suffixes {
			if strings.HasSuffix(rel, s) {
				return true
			}
		}
		return false
	}
}
