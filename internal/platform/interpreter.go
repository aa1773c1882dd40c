package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Runner is the subset of the process runner needed to query the interpreter.
type Runner interface {
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// Interpreter holds the embedding-relevant facts about the Python installation used for the build.
type Interpreter struct {
	Executable string `json:"executable"`
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Micro      int    `json:"micro"`
	// Machine is the multiarch triple prefix, e.g. x86_64.
	Machine     string `json:"machine"`
	IncludeDir  string `json:"include"`
	PlatBase    string `json:"installed_platbase"`
	LibM        string `json:"LIBM"`
	LibPL       string `json:"LIBPL"`
	LibDir      string `json:"LIBDIR"`
	Library     string `json:"LIBRARY"`
	Libs        string `json:"LIBS"`
	LinkShared  string `json:"LINKFORSHARED"`
	ScriptsPath string `json:"scripts"`
}

const probeScript = `import json, sys, sysconfig, platform
v = sysconfig.get_config_vars()
print(json.dumps({
 "executable": sys.executable,
 "major": sys.version_info.major,
 "minor": sys.version_info.minor,
 "micro": sys.version_info.micro,
 "machine": platform.machine(),
 "include": sysconfig.get_path("include"),
 "scripts": sysconfig.get_path("scripts"),
 "installed_platbase": v.get("installed_platbase") or "",
 "LIBM": v.get("LIBM") or "",
 "LIBPL": v.get("LIBPL") or "",
 "LIBDIR": v.get("LIBDIR") or "",
 "LIBRARY": v.get("LIBRARY") or "",
 "LIBS": v.get("LIBS") or "",
 "LINKFORSHARED": v.get("LINKFORSHARED") or "",
}))`

// ProbeInterpreter asks the interpreter for its sysconfig values.
func ProbeInterpreter(ctx context.Context, r Runner, python string) (*Interpreter, error) {
	out, err := r.Output(ctx, "", python, "-c", probeScript)
	if err != nil {
		return nil, fmt.Errorf("probe interpreter %s: %w", python, err)
	}
	var info Interpreter
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("decode interpreter info: %w", err)
	}
	if info.Executable == "" {
		info.Executable = python
	}
	return &info, nil
}

// ShortVersion returns "major.minor".
func (i *Interpreter) ShortVersion() string {
	return fmt.Sprintf("%d.%d", i.Major, i.Minor)
}

// FullVersion returns "major.minor.micro".
func (i *Interpreter) FullVersion() string {
	return fmt.Sprintf("%d.%d.%d", i.Major, i.Minor, i.Micro)
}

// PlatformLibDir is the directory holding import libraries on Windows installs.
func (i *Interpreter) PlatformLibDir() string {
	if i.PlatBase == "" {
		return ""
	}
	return filepath.Join(i.PlatBase, "libs")
}

// LibraryName strips the "lib" prefix and ".a" suffix from LIBRARY, e.g. libpython3.11.a -> python3.11.
func (i *Interpreter) LibraryName() string {
	name := i.Library
	name = strings.TrimPrefix(name, "lib")
	name = strings.TrimSuffix(name, ".a")
	return name
}

// ExtraLibraries returns the LIBS entries without their -l prefix.
func (i *Interpreter) ExtraLibraries() []string {
	var libs []string
	for _, f := range strings.Fields(i.Libs) {
		libs = append(libs, strings.TrimPrefix(f, "-l"))
	}
	return libs
}

// SharedLinkFlags splits LINKFORSHARED into individual arguments.
func (i *Interpreter) SharedLinkFlags() []string {
	return strings.Fields(i.LinkShared)
}

// StaticArchive returns the position-independent static interpreter archive shipped by
// Debian-style distributions, e.g. /usr/lib/python3.11/config-3.11-x86_64-linux-gnu/libpython3.11-pic.a.
func (i *Interpreter) StaticArchive() string {
	short := i.ShortVersion()
	machine := i.Machine
	if machine == "" {
		machine = "x86_64"
	}
	return filepath.Join("/usr/lib", "python"+short,
		fmt.Sprintf("config-%s-%s-linux-gnu", short, machine),
		fmt.Sprintf("libpython%s-pic.a", short))
}

// ScriptPath resolves a console script (pybabel, mkdocs) installed next to the interpreter.
func (i *Interpreter) ScriptPath(name string) string {
	if i.ScriptsPath == "" {
		return name
	}
	return filepath.Join(i.ScriptsPath, name)
}

// EmbedArchiveName is the name of the official Windows embeddable distribution.
func (i *Interpreter) EmbedArchiveName() string {
	return fmt.Sprintf("python-%s-embed-amd64.zip", i.FullVersion())
}

// StdlibArchiveName is the zipped standard library inside the embeddable distribution.
func (i *Interpreter) StdlibArchiveName() string {
	return fmt.Sprintf("python%d%d.zip", i.Major, i.Minor)
}

// PathFileName is the ._pth file that pins sys.path in the embeddable distribution.
func (i *Interpreter) PathFileName() string {
	return fmt.Sprintf("python%d%d._pth", i.Major, i.Minor)
}
