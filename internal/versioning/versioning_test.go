package versioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsjsoftware/rsjbuild/internal/platform"
	helpers "github.com/rsjsoftware/rsjbuild/internal/testutil/testutils"
)

func TestParse(t *testing.T) {
	tests := []struct {
		describe string
		want     string
		comma    string
		fallback bool
	}{
		{describe: "1.2.3", want: "1.02.0003", comma: "1,2,3,0"},
		{describe: "3.14-27-g1a2b3c4", want: "3.14.0027", comma: "3,14,27,0"},
		{describe: "2.1.7-4-gdeadbee", want: "2.01.0007", comma: "2,1,7,0"},
		{describe: "v5.0.12\n", want: "5.00.0012", comma: "5,0,12,0"},
		{describe: "", want: FallbackVersion, fallback: true},
		{describe: "release", want: FallbackVersion, fallback: true},
		{describe: "1.x.3", want: FallbackVersion, fallback: true},
	}
	for _, tt := range tests {
		t.Run(tt.describe, func(t *testing.T) {
			info := Parse(tt.describe, "")
			assert.Equal(t, tt.want, info.String())
			assert.Equal(t, tt.fallback, info.Fallback)
			assert.Equal(t, ZeroCommit, info.Commit)
			if tt.comma != "" {
				assert.Equal(t, tt.comma, info.Comma())
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	repo, w, dir := helpers.SetupTestGitRepo(t)

	first := helpers.CommitFile(t, w, dir, "a.txt", "a")
	helpers.Tag(t, repo, "1.4", first, "")

	got, err := Describe(repo)
	require.NoError(t, err)
	assert.Equal(t, "1.4", got)

	helpers.CommitFile(t, w, dir, "b.txt", "b")
	head := helpers.CommitFile(t, w, dir, "c.txt", "c")
	got, err = Describe(repo)
	require.NoError(t, err)
	assert.Equal(t, "1.4-2-g"+head.String()[:7], got)

	info := Parse(got, head.String())
	assert.Equal(t, "1.04.0002", info.String())
}

func TestDescribeAnnotatedTag(t *testing.T) {
	repo, w, dir := helpers.SetupTestGitRepo(t)
	c := helpers.CommitFile(t, w, dir, "a.txt", "a")
	helpers.Tag(t, repo, "2.0.1", c, "release 2.0.1")

	got, err := Describe(repo)
	require.NoError(t, err)
	assert.Equal(t, "2.0.1", got)
}

func TestDescribeWithoutTag(t *testing.T) {
	repo, w, dir := helpers.SetupTestGitRepo(t)
	helpers.CommitFile(t, w, dir, "a.txt", "a")

	_, err := Describe(repo)
	require.ErrorIs(t, err, ErrNoTag)
}

func TestResolve(t *testing.T) {
	repo, w, dir := helpers.SetupTestGitRepo(t)
	c := helpers.CommitFile(t, w, dir, "src/main.py", "print()")
	helpers.Tag(t, repo, "1.2.3", c, "")

	info := Resolver{RepoPath: filepath.Join(dir, "src")}.Resolve(context.Background())
	assert.Equal(t, "1.02.0003", info.String())
	assert.Equal(t, c.String(), info.Commit)
}

func TestResolveOutsideRepository(t *testing.T) {
	info := Resolver{RepoPath: t.TempDir()}.Resolve(context.Background())
	assert.True(t, info.Fallback)
	assert.Equal(t, FallbackVersion, info.String())
	assert.Equal(t, ZeroCommit, info.Commit)
}

func TestStamp(t *testing.T) {
	dir := t.TempDir()
	rc := "FILEVERSION {{commaVersion}}\nVALUE \"FileVersion\", \"{{pointVersion}}\"\n// {{commitHash}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.rc"), []byte(rc), 0o600))

	info := Parse("1.2.3", "abc123")
	files, err := Stamp(context.Background(), dir, platform.Windows, info)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	fa := helpers.NewFileAssertions(t, dir)
	fa.AssertFileContent("version.json", `"1.02.0003"`).
		AssertFileContent("version.py", "version = \"1.02.0003\"\ncommitHash = \"abc123\"\n").
		AssertFileContent(filepath.Join("build", "app.rc"),
			"FILEVERSION 1,2,3,0\nVALUE \"FileVersion\", \"1.02.0003\"\n// abc123\n")
}

func TestStampSkipsResourcesOffWindows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.rc"), []byte("{{pointVersion}}"), 0o600))

	files, err := Stamp(context.Background(), dir, platform.Linux, Parse("", ""))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	helpers.NewFileAssertions(t, dir).
		AssertDirExists("build").
		AssertNoFile(filepath.Join("build", "app.rc")).
		AssertFileContent("version.json", `"0.00.00000"`)
}
