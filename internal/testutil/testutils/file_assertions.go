package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// FileAssertions provides utilities for asserting file system state in tests.
type FileAssertions struct {
	t       *testing.T
	baseDir string
}

// NewFileAssertions creates a new file assertions helper.
func NewFileAssertions(t *testing.T, baseDir string) *FileAssertions {
	return &FileAssertions{
		t:       t,
		baseDir: baseDir,
	}
}

// AssertFileExists validates that a file exists.
func (fa *FileAssertions) AssertFileExists(relativePath string) *FileAssertions {
	fa.t.Helper()
	assert.FileExists(fa.t, filepath.Join(fa.baseDir, relativePath))
	return fa
}

// AssertNoFile validates that nothing exists at relativePath.
func (fa *FileAssertions) AssertNoFile(relativePath string) *FileAssertions {
	fa.t.Helper()
	assert.NoFileExists(fa.t, filepath.Join(fa.baseDir, relativePath))
	return fa
}

// AssertDirExists validates that a directory exists.
func (fa *FileAssertions) AssertDirExists(relativePath string) *FileAssertions {
	fa.t.Helper()
	assert.DirExists(fa.t, filepath.Join(fa.baseDir, relativePath))
	return fa
}

// AssertFileContent validates the exact content of a file.
func (fa *FileAssertions) AssertFileContent(relativePath, expected string) *FileAssertions {
	fa.t.Helper()
	// #nosec G304 - test helper, paths are controlled by test code
	content, err := os.ReadFile(filepath.Join(fa.baseDir, relativePath))
	if assert.NoError(fa.t, err) {
		assert.Equal(fa.t, expected, string(content), relativePath)
	}
	return fa
}

// AssertFileContains validates that a file contains expected content.
func (fa *FileAssertions) AssertFileContains(relativePath, expectedContent string) *FileAssertions {
	fa.t.Helper()
	// #nosec G304 - test helper, paths are controlled by test code
	content, err := os.ReadFile(filepath.Join(fa.baseDir, relativePath))
	if assert.NoError(fa.t, err) {
		assert.Contains(fa.t, string(content), expectedContent, relativePath)
	}
	return fa
}

// AssertMode validates the permission bits of a file.
func (fa *FileAssertions) AssertMode(relativePath string, mode os.FileMode) *FileAssertions {
	fa.t.Helper()
	info, err := os.Stat(filepath.Join(fa.baseDir, relativePath))
	if assert.NoError(fa.t, err) {
		assert.Equal(fa.t, mode, info.Mode().Perm(), relativePath)
	}
	return fa
}
