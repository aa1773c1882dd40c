package compiler

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ReservedModule is the package initializer stem. Files with this stem are never compiled.
const ReservedModule = "__init__"

// RootPackage is the package name of modules directly under the source root.
const RootPackage = ""

// Module is one source file mapped to its module and package name.
type Module struct {
	Name    string
	Package string
	Source  string
	// Object is the cached object path in the build directory.
	Object string
	// Unit is the C file the transpiler writes for this module.
	Unit  string
	Dirty bool
}

// Qualified returns package.module, or the bare module name for the root package.
func (m Module) Qualified() string {
	if m.Package == RootPackage {
		return m.Name
	}
	return m.Package + "." + m.Name
}

// Package groups module names under one package, in discovery order.
type Package struct {
	Name    string
	Modules []string
}

// Discovery is the result of source resolution and dirty checking.
type Discovery struct {
	// Sources is the deduplicated, sorted source set including reserved files.
	Sources []string
	// Modules excludes reserved files and keeps source order.
	Modules []Module
	// Root lists the root package's module names.
	Root []string
	// Packages lists named packages in first-appearance order.
	Packages []Package
}

// PackageNames returns the named packages in order.
func (d *Discovery) PackageNames() []string {
	names := make([]string, len(d.Packages))
	for i, p := range d.Packages {
		names[i] = p.Name
	}
	return names
}

// QualifiedModules returns every module's qualified name in source order.
func (d *Discovery) QualifiedModules() []string {
	out := make([]string, len(d.Modules))
	for i, m := range d.Modules {
		out[i] = m.Qualified()
	}
	return out
}

// DirtyModules returns modules that must be transpiled and compiled.
func (d *Discovery) DirtyModules() []Module {
	var out []Module
	for _, m := range d.Modules {
		if m.Dirty {
			out = append(out, m)
		}
	}
	return out
}

// CleanModules returns modules whose cached object is reused.
func (d *Discovery) CleanModules() []Module {
	var out []Module
	for _, m := range d.Modules {
		if !m.Dirty {
			out = append(out, m)
		}
	}
	return out
}

// DiscoverOptions control module discovery.
type DiscoverOptions struct {
	SourceRoot   string
	Patterns     []string
	BuildDir     string
	ObjectSuffix string
	Force        bool
}

// ResolveSources expands glob patterns (with ** support) relative to root into a deduplicated
// list of regular files, ordered component by component.
func ResolveSources(root string, patterns []string) ([]string, error) {
	fsys := os.DirFS(root)
	seen := map[string]struct{}{}
	var rel []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("source pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			m = path.Clean(m)
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			rel = append(rel, m)
		}
	}
	slices.SortFunc(rel, comparePaths)

	out := make([]string, len(rel))
	for i, r := range rel {
		out[i] = filepath.Join(root, filepath.FromSlash(r))
	}
	return out, nil
}

// comparePaths orders slash paths by their components so "a/b.py" sorts before "a.py".
func comparePaths(a, b string) int {
	return slices.Compare(strings.Split(a, "/"), strings.Split(b, "/"))
}

// Discover resolves sources, assigns module and package names and marks dirty modules.
// It only reads the file system.
func Discover(opts DiscoverOptions) (*Discovery, error) {
	sources, err := ResolveSources(opts.SourceRoot, opts.Patterns)
	if err != nil {
		return nil, err
	}
	if gen, ok := nestedDir(opts.SourceRoot, opts.BuildDir); ok {
		sources = slices.DeleteFunc(sources, func(src string) bool {
			abs, err := filepath.Abs(src)
			if err != nil {
				return false
			}
			rel, err := filepath.Rel(gen, abs)
			return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
		})
	}

	d := &Discovery{Sources: sources}
	owner := map[string]string{}
	pkgIndex := map[string]int{}

	for _, src := range sources {
		name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		if name == ReservedModule {
			continue
		}

		pkg, err := packageOf(opts.SourceRoot, src)
		if err != nil {
			return nil, err
		}
		if prev, dup := owner[name]; dup {
			return nil, fmt.Errorf("%w: %s (%s and %s)", ErrDuplicateModule, name, prev, src)
		}
		owner[name] = src

		m := Module{
			Name:    name,
			Package: pkg,
			Source:  src,
			Object:  filepath.Join(opts.BuildDir, name+opts.ObjectSuffix),
			Unit:    filepath.Join(opts.BuildDir, name+".c"),
		}
		m.Dirty = opts.Force || isStale(src, m.Object)
		d.Modules = append(d.Modules, m)

		if pkg == RootPackage {
			d.Root = append(d.Root, name)
			continue
		}
		i, ok := pkgIndex[pkg]
		if !ok {
			i = len(d.Packages)
			pkgIndex[pkg] = i
			d.Packages = append(d.Packages, Package{Name: pkg})
		}
		d.Packages[i].Modules = append(d.Packages[i].Modules, name)
	}
	for _, p := range d.Packages {
		if src, clash := owner[p.Name]; clash {
			return nil, fmt.Errorf("%w: package %s clashes with module %s", ErrDuplicateModule, p.Name, src)
		}
	}
	return d, nil
}

// nestedDir reports the absolute form of dir when it lies strictly below root.
// Generated sources written there are never part of the source set.
func nestedDir(root, dir string) (string, bool) {
	if dir == "" {
		return "", false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return absDir, true
}

func packageOf(root, src string) (string, error) {
	rel, err := filepath.Rel(root, src)
	if err != nil {
		return "", fmt.Errorf("relate %s to source root: %w", src, err)
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return RootPackage, nil
	}
	if strings.ContainsRune(filepath.ToSlash(dir), '/') {
		return "", fmt.Errorf("%w: %s", ErrNestedPackage, filepath.ToSlash(rel))
	}
	if dir == ReservedModule {
		return "", fmt.Errorf("%w: package %s", ErrReservedModule, dir)
	}
	return dir, nil
}

// isStale reports whether object must be rebuilt from source. Any stat failure counts as stale.
func isStale(source, object string) bool {
	objInfo, err := os.Stat(object)
	if err != nil {
		return true
	}
	srcInfo, err := os.Stat(source)
	if err != nil {
		return true
	}
	return !objInfo.ModTime().After(srcInfo.ModTime())
}
