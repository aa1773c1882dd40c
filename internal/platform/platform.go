// Package platform describes build targets and the file naming rules that differ between them.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Target identifies the operating system an executable is built for.
type Target string

const (
	Linux   Target = "linux"
	Windows Target = "windows"
	Darwin  Target = "darwin"
)

// Current returns the target matching the running host.
func Current() Target {
	return Target(runtime.GOOS)
}

// Parse accepts Go and Python style platform names ("win32", "windows", "linux", "darwin").
func Parse(raw string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "linux":
		return Linux, nil
	case "windows", "win32", "win64":
		return Windows, nil
	case "darwin", "macos", "osx":
		return Darwin, nil
	default:
		return "", fmt.Errorf("unknown platform %q", raw)
	}
}

func (t Target) String() string { return string(t) }

// IsWindows reports whether the target uses the MSVC toolchain and payload concatenation.
func (t Target) IsWindows() bool { return t == Windows }

// ObjectSuffix is the object file extension produced by the target's C compiler.
func (t Target) ObjectSuffix() string {
	if t.IsWindows() {
		return ".obj"
	}
	return ".o"
}

// ExecutableSuffix is appended to linked executables.
func (t Target) ExecutableSuffix() string {
	if t.IsWindows() {
		return ".exe"
	}
	return ""
}

// Matches reports whether t is one of the given platform names. An empty list matches every target.
func (t Target) Matches(names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if p, err := Parse(n); err == nil && p == t {
			return true
		}
	}
	return false
}
