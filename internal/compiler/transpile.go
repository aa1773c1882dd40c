package compiler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// MaxBatch bounds the number of files per transpiler invocation to stay below OS
// command-line length limits.
const MaxBatch = 20

// Transpiler converts .py/.pyx sources into C units with cython.
type Transpiler struct {
	Runner toolchain.Runner
	Python string
	// ExtraArgs are passed to cython before the file list.
	ExtraArgs []string
}

func (t Transpiler) baseArgs() []string {
	args := []string{"-m", "cython", "-3", "--no-docstrings"}
	return append(args, t.ExtraArgs...)
}

// Embed transpiles the root aggregator with --embed so the resulting unit defines main().
// The C file is written next to the source.
func (t Transpiler) Embed(ctx context.Context, source string) error {
	args := append(t.baseArgs(), "--embed", source)
	if err := t.Runner.Run(ctx, toolchain.Command{Name: t.Python, Args: args}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTranspile, source, err)
	}
	return nil
}

// Batches splits files into consecutive chunks of at most size entries.
func Batches(files []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatch
	}
	var out [][]string
	for len(files) > 0 {
		n := min(size, len(files))
		out = append(out, files[:n:n])
		files = files[n:]
	}
	return out
}

// Transpile converts files in batches of MaxBatch, writing C units into outputDir.
// With parallel set, batches run concurrently; the first failure is returned.
func (t Transpiler) Transpile(ctx context.Context, outputDir string, files []string, parallel bool) error {
	batches := Batches(files, MaxBatch)
	run := func(ctx context.Context, batch []string) error {
		args := append(t.baseArgs(), "--output-file", outputDir)
		args = append(args, batch...)
		if err := t.Runner.Run(ctx, toolchain.Command{Name: t.Python, Args: args}); err != nil {
			return fmt.Errorf("%w: %v: %w", ErrTranspile, batch, err)
		}
		return nil
	}

	if !parallel || len(batches) < 2 {
		for _, b := range batches {
			if err := run(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range batches {
		g.Go(func() error { return run(gctx, b) })
	}
	return g.Wait()
}
