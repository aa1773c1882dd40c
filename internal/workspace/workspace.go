package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
)

// Directory names relative to the project root.
const (
	BuildDir  = "build"
	OutputDir = "output"
	EmbedDir  = "embed"
	LocaleDir = "locale"
)

// Layout holds the absolute or root-relative build directories.
type Layout struct {
	Root   string
	Build  string
	Output string
	Embed  string
}

// New returns the layout below root. An empty root means the current directory.
func New(root string) *Layout {
	if root == "" {
		root = "."
	}
	return &Layout{
		Root:   root,
		Build:  filepath.Join(root, BuildDir),
		Output: filepath.Join(root, OutputDir),
		Embed:  filepath.Join(root, EmbedDir),
	}
}

// Create ensures build, output and embed exist. Existing content is kept.
func (l *Layout) Create() error {
	for _, dir := range []string{l.Build, l.Output, l.Embed} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}
	slog.Debug("Workspace ready", logfields.Path(l.Root))
	return nil
}

// Path resolves a root-relative path. Absolute paths are returned unchanged.
func (l *Layout) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.Root, rel)
}

// BinDir is where compiled executables are installed inside embed: the embed root on windows,
// embed/bin elsewhere.
func (l *Layout) BinDir(target platform.Target) string {
	if target.IsWindows() {
		return l.Embed
	}
	return filepath.Join(l.Embed, "bin")
}

// CreateSubdir creates a subdirectory below the root.
func (l *Layout) CreateSubdir(name string) (string, error) {
	subdir := l.Path(name)
	if err := os.MkdirAll(subdir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}
	return subdir, nil
}

// Reset removes and recreates a root-relative directory.
func (l *Layout) Reset(name string) (string, error) {
	dir := l.Path(name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clean %s: %w", dir, err)
	}
	slog.Debug("Cleaned directory", logfields.Path(dir))
	return l.CreateSubdir(name)
}
