package installer

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// ShortVersion keeps the first three dot-separated components of version.
func ShortVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, ".")
}

// Builder runs the Inno Setup compiler.
type Builder struct {
	Runner toolchain.Runner
	// ISCC is the path of the Inno Setup command line compiler.
	ISCC string
}

// Build compiles script into output. The output name and version are passed as
// preprocessor defines, followed by defines in name order.
func (b *Builder) Build(ctx context.Context, script, output, version string, defines map[string]string) error {
	args := []string{
		"-dversion=" + ShortVersion(version),
		"-doutputName=" + strings.TrimSuffix(filepath.Base(output), filepath.Ext(output)),
		"-O" + filepath.Dir(output),
	}
	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "-d"+name+"="+defines[name])
	}
	args = append(args, script)

	observability.InfoContext(ctx, "Building installer", logfields.Path(output))
	if err := b.Runner.Run(ctx, toolchain.Command{Name: b.ISCC, Args: args}); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryToolchain, "installer build failed").
			WithContext("script", script).Fatal().Build()
	}
	return nil
}
