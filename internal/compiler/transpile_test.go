package compiler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

func files(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("m%02d.py", i)
	}
	return out
}

func TestBatches(t *testing.T) {
	assert.Empty(t, Batches(nil, MaxBatch))

	got := Batches(files(45), MaxBatch)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 20)
	assert.Len(t, got[1], 20)
	assert.Len(t, got[2], 5)
	assert.Equal(t, "m20.py", got[1][0])

	assert.Len(t, Batches(files(20), MaxBatch), 1)
}

func TestTranspileArguments(t *testing.T) {
	r := &toolchain.FakeRunner{}
	tr := Transpiler{Runner: r, Python: "python3", ExtraArgs: []string{"-X", "boundscheck=False"}}

	require.NoError(t, tr.Embed(context.Background(), "build/bootstrap.pyx"))
	require.NoError(t, tr.Transpile(context.Background(), "build", files(21), false))

	calls := r.Commands()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"-m", "cython", "-3", "--no-docstrings", "-X", "boundscheck=False", "--embed", "build/bootstrap.pyx"}, calls[0].Args)
	assert.Equal(t, []string{"-m", "cython", "-3", "--no-docstrings", "-X", "boundscheck=False", "--output-file", "build"}, calls[1].Args[:8])
	assert.Len(t, calls[1].Args, 8+20)
	assert.Equal(t, []string{"m20.py"}, calls[2].Args[8:])
}

func TestTranspileStopsOnFailure(t *testing.T) {
	boom := errors.New("syntax error")
	r := &toolchain.FakeRunner{Handler: func(toolchain.Command) error { return boom }}
	tr := Transpiler{Runner: r, Python: "python3"}

	err := tr.Transpile(context.Background(), "build", files(45), false)
	require.ErrorIs(t, err, ErrTranspile)
	require.ErrorIs(t, err, boom)
	assert.Len(t, r.Commands(), 1)
}

func TestTranspileParallel(t *testing.T) {
	r := &toolchain.FakeRunner{}
	tr := Transpiler{Runner: r, Python: "python3"}

	require.NoError(t, tr.Transpile(context.Background(), "build", files(61), true))
	calls := r.Commands()
	require.Len(t, calls, 4)
	total := 0
	for _, c := range calls {
		total += len(c.Args) - 6
	}
	assert.Equal(t, 61, total)
}
