package build

import (
	"context"
	"time"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/manifest"
	"github.com/rsjsoftware/rsjbuild/internal/stage"
	"github.com/rsjsoftware/rsjbuild/internal/versioning"
)

// BuildService is the canonical interface for executing builds.
// The CLI and the watcher are thin wrappers over this interface.
type BuildService interface {
	// Run executes the pipeline selected by req.Options and returns a result even on failure.
	Run(ctx context.Context, req BuildRequest) (*BuildResult, error)
}

// BuildRequest contains all inputs required to execute a build.
type BuildRequest struct {
	// Config is the loaded and validated configuration.
	Config *config.Config

	// Secrets are handed to the steps that need them (base64 files, templates, keys).
	Secrets config.Secrets

	// Root is the project directory; build, output and embed live below it.
	Root string

	// ConfigPath is hashed into the build manifest when set.
	ConfigPath string

	Options BuildOptions
}

// BuildOptions mirrors the build command flags.
type BuildOptions struct {
	// Force recompiles every module regardless of cached objects.
	Force bool
	// BuildEmbed recreates the embedded interpreter runtime.
	BuildEmbed    bool
	WithInstaller bool
	WithZip       bool
	WithUnzip     bool
	// Sign code-signs installers (windows).
	Sign bool
	// Upload enables publishing and uploading; Publish additionally writes update descriptors.
	Upload  bool
	Publish bool
	// NoConsole builds every executable as a GUI program (windows).
	NoConsole bool
	// CompileOnly stops after the compile stage (used by watch).
	CompileOnly bool
}

// Flags lists the enabled options by flag name, in a stable order.
func (o BuildOptions) Flags() []string {
	var out []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"force", o.Force},
		{"build-embed", o.BuildEmbed},
		{"with-installer", o.WithInstaller},
		{"with-zip", o.WithZip},
		{"with-unzip", o.WithUnzip},
		{"sign", o.Sign},
		{"upload", o.Upload},
		{"publish", o.Publish},
		{"no-console", o.NoConsole},
		{"compile-only", o.CompileOnly},
	} {
		if f.on {
			out = append(out, f.name)
		}
	}
	return out
}

// BuildResult contains the outcome of a build execution.
type BuildResult struct {
	// Status indicates overall build outcome.
	Status BuildStatus

	Version versioning.Info

	// Manifest is written to output/build-manifest.json unless the build stopped early.
	Manifest     *manifest.BuildManifest
	ManifestPath string

	// Report holds per-stage timings in execution order.
	Report *stage.Report

	// Executables lists the installed executables (inside embed).
	Executables []string

	// Artifacts lists installers, zips and update descriptors written to output.
	Artifacts []string

	// Uploaded is the number of files transferred to the upload host.
	Uploaded int

	Duration  time.Duration
	StartTime time.Time
	EndTime   time.Time
}

// BuildStatus represents the outcome of a build execution.
type BuildStatus string

const (
	BuildStatusSuccess   BuildStatus = "success"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state.
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailed || s == BuildStatusCancelled
}

// IsSuccess returns true if the build completed successfully.
func (s BuildStatus) IsSuccess() bool {
	return s == BuildStatusSuccess
}
