package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{"linux", Linux, false},
		{"win32", Windows, false},
		{"Windows", Windows, false},
		{"darwin", Darwin, false},
		{"solaris", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuffixes(t *testing.T) {
	assert.Equal(t, ".obj", Windows.ObjectSuffix())
	assert.Equal(t, ".exe", Windows.ExecutableSuffix())
	assert.Equal(t, ".o", Linux.ObjectSuffix())
	assert.Empty(t, Linux.ExecutableSuffix())
}

func TestMatches(t *testing.T) {
	assert.True(t, Linux.Matches(nil))
	assert.True(t, Windows.Matches([]string{"linux", "win32"}))
	assert.False(t, Darwin.Matches([]string{"linux", "win32"}))
}

type stubRunner struct {
	out []byte
	err error
}

func (s stubRunner) Output(context.Context, string, string, ...string) ([]byte, error) {
	return s.out, s.err
}

func TestProbeInterpreter(t *testing.T) {
	r := stubRunner{out: []byte(`{"executable":"/usr/bin/python3","major":3,"minor":11,"micro":4,
		"machine":"x86_64","include":"/usr/include/python3.11","LIBRARY":"libpython3.11.a",
		"LIBS":"-ldl -lpthread","LINKFORSHARED":"-Xlinker -export-dynamic"}`)}

	info, err := ProbeInterpreter(context.Background(), r, "python3")
	require.NoError(t, err)

	assert.Equal(t, "3.11", info.ShortVersion())
	assert.Equal(t, "3.11.4", info.FullVersion())
	assert.Equal(t, "python3.11", info.LibraryName())
	assert.Equal(t, []string{"dl", "pthread"}, info.ExtraLibraries())
	assert.Equal(t, []string{"-Xlinker", "-export-dynamic"}, info.SharedLinkFlags())
	assert.Equal(t, "/usr/lib/python3.11/config-3.11-x86_64-linux-gnu/libpython3.11-pic.a", info.StaticArchive())
	assert.Equal(t, "python-3.11.4-embed-amd64.zip", info.EmbedArchiveName())
	assert.Equal(t, "python311.zip", info.StdlibArchiveName())
	assert.Equal(t, "python311._pth", info.PathFileName())
}

func TestProbeInterpreterFailure(t *testing.T) {
	_, err := ProbeInterpreter(context.Background(), stubRunner{err: errors.New("not found")}, "python3")
	require.Error(t, err)

	_, err = ProbeInterpreter(context.Background(), stubRunner{out: []byte("garbage")}, "python3")
	require.Error(t, err)
}
