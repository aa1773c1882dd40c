package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
)

// Placeholders substituted in resource script templates.
const (
	CommaPlaceholder  = "{{commaVersion}}"
	PointPlaceholder  = "{{pointVersion}}"
	CommitPlaceholder = "{{commitHash}}"
)

// Stamp writes version.json and version.py into sourceDir. On windows every *.rc template in
// sourceDir is rendered into sourceDir/build, where the compiler picks up <exe>.rc.
// It returns the written files.
func Stamp(ctx context.Context, sourceDir string, target platform.Target, info Info) ([]string, error) {
	var written []string
	write := func(path string, data []byte) error {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	version := info.String()
	js, err := json.Marshal(version)
	if err != nil {
		return nil, err
	}
	if err := write(filepath.Join(sourceDir, "version.json"), js); err != nil {
		return nil, err
	}
	py := fmt.Sprintf("version = %q\ncommitHash = %q\n", version, info.Commit)
	if err := write(filepath.Join(sourceDir, "version.py"), []byte(py)); err != nil {
		return nil, err
	}

	buildDir := filepath.Join(sourceDir, "build")
	if err := os.MkdirAll(buildDir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", buildDir, err)
	}

	if target.IsWindows() {
		templates, err := filepath.Glob(filepath.Join(sourceDir, "*.rc"))
		if err != nil {
			return nil, err
		}
		r := strings.NewReplacer(
			CommaPlaceholder, info.Comma(),
			PointPlaceholder, version,
			CommitPlaceholder, info.Commit,
		)
		for _, tmpl := range templates {
			// #nosec G304 -- resource templates from the source tree
			text, err := os.ReadFile(tmpl)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", tmpl, err)
			}
			if err := write(filepath.Join(buildDir, filepath.Base(tmpl)), []byte(r.Replace(string(text)))); err != nil {
				return nil, err
			}
		}
	}

	observability.InfoContext(ctx, "Building version", logfields.Version(version), logfields.Count(len(written)))
	return written, nil
}
