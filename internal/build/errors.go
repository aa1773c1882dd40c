package build

import "errors"

// Sentinel errors used to classify high-level pipeline failures.
// They are always wrapped with contextual information at the call site.
var (
	ErrNoConfig    = errors.New("rsjbuild: configuration required")
	ErrInterpreter = errors.New("rsjbuild: interpreter probe failed")
	ErrArtifact    = errors.New("rsjbuild: artifact missing")
)
