package helpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// testSignature is used for every commit and annotated tag created by the helpers.
func testSignature(when time.Time) *object.Signature {
	return &object.Signature{Name: "tester", Email: "tester@example.com", When: when}
}

// SetupTestGitRepo initializes a temporary git repository for testing.
// Returns the repository, its worktree, and the absolute path to the temporary directory.
func SetupTestGitRepo(t *testing.T) (*git.Repository, *git.Worktree, string) {
	t.Helper()

	tempDir := t.TempDir()

	repo, err := git.PlainInit(tempDir, false)
	require.NoError(t, err, "init git repo")

	w, err := repo.Worktree()
	require.NoError(t, err, "worktree")

	return repo, w, tempDir
}

// CommitFile writes filename below the worktree root, stages it and commits it.
func CommitFile(t *testing.T, w *git.Worktree, root, filename, content string) plumbing.Hash {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(filename))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
	_, err := w.Add(filepath.ToSlash(filename))
	require.NoError(t, err, "add %s", filename)

	hash, err := w.Commit("update "+filename, &git.CommitOptions{Author: testSignature(time.Now())})
	require.NoError(t, err, "commit %s", filename)
	return hash
}

// Tag creates a lightweight tag, or an annotated one when message is not empty.
func Tag(t *testing.T, repo *git.Repository, name string, hash plumbing.Hash, message string) {
	t.Helper()

	var opts *git.CreateTagOptions
	if message != "" {
		opts = &git.CreateTagOptions{Tagger: testSignature(time.Now()), Message: message}
	}
	_, err := repo.CreateTag(name, hash, opts)
	require.NoError(t, err, "tag %s", name)
}
