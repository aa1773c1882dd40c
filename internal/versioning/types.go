package versioning

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// FallbackVersion is used when no tag can be described.
	FallbackVersion = "0.00.00000"
	// ZeroCommit is used when HEAD cannot be resolved.
	ZeroCommit = "0000000000000000000000000000000000000000"
)

// Info is the resolved product version.
type Info struct {
	Major int
	Minor int
	Patch int
	// Describe is the raw "tag[-N-gHASH]" description, empty when none was found.
	Describe string
	Commit   string
	// Fallback is set when Describe could not be parsed.
	Fallback bool
}

// String renders the version as major.MM.PPPP.
func (i Info) String() string {
	if i.Fallback {
		return FallbackVersion
	}
	return fmt.Sprintf("%d.%02d.%04d", i.Major, i.Minor, i.Patch)
}

// Comma renders the four-part resource version "major,minor,patch,0".
func (i Info) Comma() string {
	return fmt.Sprintf("%d,%d,%d,0", i.Major, i.Minor, i.Patch)
}

// Parse converts a describe string into Info. Dashes count as dots, so "1.2-5-gabc" becomes
// 1.02.0005. A leading "v" is ignored. Anything with fewer than three numeric parts falls back.
func Parse(describe, commit string) Info {
	info := Info{Describe: describe, Commit: commit}
	if info.Commit == "" {
		info.Commit = ZeroCommit
	}

	raw := strings.TrimPrefix(strings.TrimSpace(describe), "v")
	parts := strings.Split(strings.ReplaceAll(raw, "-", "."), ".")
	if len(parts) < 3 {
		info.Fallback = true
		return info
	}
	nums := [3]int{}
	for i := range nums {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			info.Fallback = true
			return info
		}
		nums[i] = n
	}
	info.Major, info.Minor, info.Patch = nums[0], nums[1], nums[2]
	return info
}
