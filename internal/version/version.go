package version

import "fmt"

// Version is the rsjbuild release, set at build time:
// go build -ldflags "-X github.com/rsjsoftware/rsjbuild/internal/version.Version=v1.4.0".
var Version = "dev"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String is the line printed by `rsjbuild version`.
func String() string {
	return fmt.Sprintf("rsjbuild %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
