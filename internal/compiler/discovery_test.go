package compiler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverOrdersModulesAndPackages(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "util.py", "pkg/helper.py", "pkg/__init__.py", "main.py", "pkg/a.py")

	d, err := Discover(DiscoverOptions{
		SourceRoot:   root,
		Patterns:     []string{"**/*.py", "main.py"},
		BuildDir:     filepath.Join(root, "build"),
		ObjectSuffix: ".o",
	})
	require.NoError(t, err)

	assert.Len(t, d.Sources, 5, "reserved files stay in the source set, duplicates do not")
	assert.Equal(t, []string{"main", "pkg.a", "pkg.helper", "util"}, d.QualifiedModules())
	assert.Equal(t, []string{"main", "util"}, d.Root)
	require.Len(t, d.Packages, 1)
	assert.Equal(t, Package{Name: "pkg", Modules: []string{"a", "helper"}}, d.Packages[0])

	m := d.Modules[1]
	assert.Equal(t, filepath.Join(root, "build", "a.o"), m.Object)
	assert.Equal(t, filepath.Join(root, "build", "a.c"), m.Unit)
}

func TestDiscoverIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "b.py", "a.py", "z/c.py", "y/d.py")

	opts := DiscoverOptions{SourceRoot: root, Patterns: []string{"**/*.py"}, BuildDir: root, ObjectSuffix: ".o"}
	first, err := Discover(opts)
	require.NoError(t, err)
	for range 5 {
		again, err := Discover(opts)
		require.NoError(t, err)
		assert.Equal(t, first.QualifiedModules(), again.QualifiedModules())
		assert.Equal(t, first.PackageNames(), again.PackageNames())
	}
	assert.Equal(t, []string{"a", "b", "y.d", "z.c"}, first.QualifiedModules())
	assert.Equal(t, []string{"y", "z"}, first.PackageNames())
}

func TestDiscoverRejectsInvalidLayouts(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  error
	}{
		{name: "nested package", files: []string{"main.py", "a/b/c.py"}, want: ErrNestedPackage},
		{name: "duplicate stem", files: []string{"x.py", "pkg/x.py"}, want: ErrDuplicateModule},
		{name: "package shadows module", files: []string{"pkg.py", "pkg/a.py"}, want: ErrDuplicateModule},
		{name: "reserved package", files: []string{"__init__/a.py"}, want: ErrReservedModule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, tt.files...)
			_, err := Discover(DiscoverOptions{SourceRoot: root, Patterns: []string{"**/*.py"}, BuildDir: root, ObjectSuffix: ".o"})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDiscoverEmptyMatchIsNotAnError(t *testing.T) {
	d, err := Discover(DiscoverOptions{SourceRoot: t.TempDir(), Patterns: []string{"*.py"}, ObjectSuffix: ".o"})
	require.NoError(t, err)
	assert.Empty(t, d.Modules)
}

func TestDiscoverDirtyChecking(t *testing.T) {
	root := t.TempDir()
	build := filepath.Join(root, "build")
	writeTree(t, root, "fresh.py", "stale.py", "missing.py", "same.py")
	require.NoError(t, os.MkdirAll(build, 0o750))

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for _, name := range []string{"fresh", "stale", "same"} {
		writeTree(t, build, name+".o")
	}
	touch(t, filepath.Join(root, "fresh.py"), base)
	touch(t, filepath.Join(build, "fresh.o"), base.Add(time.Minute))
	touch(t, filepath.Join(root, "stale.py"), base.Add(time.Minute))
	touch(t, filepath.Join(build, "stale.o"), base)
	touch(t, filepath.Join(root, "same.py"), base)
	touch(t, filepath.Join(build, "same.o"), base)

	opts := DiscoverOptions{SourceRoot: root, Patterns: []string{"*.py"}, BuildDir: build, ObjectSuffix: ".o"}
	d, err := Discover(opts)
	require.NoError(t, err)

	dirty := map[string]bool{}
	for _, m := range d.Modules {
		dirty[m.Name] = m.Dirty
	}
	assert.Equal(t, map[string]bool{"fresh": false, "stale": true, "missing": true, "same": true}, dirty)
	assert.Len(t, d.CleanModules(), 1)

	opts.Force = true
	forced, err := Discover(opts)
	require.NoError(t, err)
	assert.Len(t, forced.DirtyModules(), 4)
}

func TestDiscoverSkipsBuildDirectoryInsideRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "main.pyx", "pkg/a.pyx", "build/bootstrap.pyx", "build/pkg.pyx", "build/main.c")

	d, err := Discover(DiscoverOptions{
		SourceRoot:   root,
		Patterns:     []string{"**/*.pyx"},
		BuildDir:     filepath.Join(root, "build"),
		ObjectSuffix: ".o",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "pkg.a"}, d.QualifiedModules())
	assert.Len(t, d.Sources, 2)

	t.Run("build directory equal to root keeps sources", func(t *testing.T) {
		d, err := Discover(DiscoverOptions{SourceRoot: root, Patterns: []string{"*.pyx"}, BuildDir: root, ObjectSuffix: ".o"})
		require.NoError(t, err)
		assert.Equal(t, []string{"main"}, d.QualifiedModules())
	})
}
