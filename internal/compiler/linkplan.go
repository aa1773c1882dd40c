package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rsjsoftware/rsjbuild/internal/platform"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

const (
	// ReleaseMacro is defined for every unit.
	ReleaseMacro = "NDEBUG"
	// NoInitExportMacro keeps package units from exporting a conflicting embedding entry point.
	NoInitExportMacro = "CYTHON_NO_PYINIT_EXPORT"
	// LibraryArchive is the zipped standard library appended to Windows executables.
	LibraryArchive = "library.zip"
	// windowsLinkName is the intermediate executable linked before payload concatenation.
	windowsLinkName = "tmp"
)

var windowsImportLibraries = []string{"kernel32.lib", "ucrt.lib", "vcruntime.lib"}

// CompileSettings holds the include/library wiring derived from the interpreter.
type CompileSettings struct {
	IncludeDirs []string
	LibraryDirs []string
	Libraries   []string
	ExtraArgs   []string
}

// Settings derives compiler settings for target. library selects position-independent code on linux.
func Settings(target platform.Target, interp *platform.Interpreter, library bool) CompileSettings {
	var s CompileSettings
	if interp.IncludeDir != "" {
		s.IncludeDirs = append(s.IncludeDirs, interp.IncludeDir)
	}
	addDir := func(dir string) {
		// LIBM is a linker flag on some distributions; only real directories are added.
		if dir == "" || strings.HasPrefix(dir, "-") || slices.Contains(s.LibraryDirs, dir) {
			return
		}
		s.LibraryDirs = append(s.LibraryDirs, dir)
	}
	addDir(interp.PlatformLibDir())

	if target == platform.Linux {
		addDir(interp.LibM)
		addDir(interp.LibPL)
		addDir(interp.LibDir)

		s.Libraries = append(s.Libraries, "m")
		if name := interp.LibraryName(); name != "" {
			s.Libraries = append(s.Libraries, name)
		}
		s.Libraries = append(s.Libraries, interp.ExtraLibraries()...)
		s.Libraries = append(s.Libraries, "z")

		if library {
			s.ExtraArgs = append(s.ExtraArgs, "-fPIC")
		}
	}
	return s
}

// Options returns compile options; noInit adds the no-init-export macro.
func (s CompileSettings) Options(noInit bool, jobs int) toolchain.CompileOptions {
	macros := []toolchain.Macro{{Name: ReleaseMacro}}
	if noInit {
		macros = append(macros, toolchain.Macro{Name: NoInitExportMacro, Value: "1"})
	}
	return toolchain.CompileOptions{
		Macros:      macros,
		IncludeDirs: slices.Clone(s.IncludeDirs),
		ExtraArgs:   slices.Clone(s.ExtraArgs),
		Jobs:        jobs,
	}
}

// LinkPlan is everything the link and payload stages need.
type LinkPlan struct {
	Target  platform.Target
	Objects []string
	Options toolchain.LinkOptions
	// Linked is the file the linker writes.
	Linked string
	// Executable is the final artifact. It differs from Linked when a payload is appended.
	Executable string
	// Payload is the archive appended to Linked, empty when none.
	Payload string
}

// LinkInput describes one executable to link.
type LinkInput struct {
	Target    platform.Target
	Interp    *platform.Interpreter
	Settings  CompileSettings
	Objects   []string
	ExeName   string
	OutputDir string
	NoConsole bool
	// StaticArchive overrides the interpreter's static archive path on linux.
	StaticArchive string
}

// PlanLink assembles objects, runtime libraries and flags for target. Missing runtime archives
// fail with ErrLibraryNotFound before anything is linked.
func PlanLink(in LinkInput) (*LinkPlan, error) {
	p := &LinkPlan{
		Target:  in.Target,
		Objects: slices.Clone(in.Objects),
		Options: toolchain.LinkOptions{
			OutputDir:   in.OutputDir,
			OutputName:  in.ExeName,
			LibraryDirs: slices.Clone(in.Settings.LibraryDirs),
			Libraries:   slices.Clone(in.Settings.Libraries),
		},
	}
	suffix := in.Target.ExecutableSuffix()
	p.Executable = filepath.Join(in.OutputDir, in.ExeName+suffix)

	switch in.Target {
	case platform.Windows:
		p.Objects = append(p.Objects, windowsImportLibraries...)
		p.Options.OutputName = windowsLinkName
		if in.NoConsole {
			p.Options.PreArgs = []string{"/subsystem:windows", "/entry:wmainCRTStartup"}
		}
		p.Payload = filepath.Join(in.OutputDir, LibraryArchive)
		if err := requireFile(p.Payload); err != nil {
			return nil, err
		}
	case platform.Linux:
		p.Options.PreArgs = append(in.Interp.SharedLinkFlags(), "--no-pie", "-Xlinker", "--copy-dt-needed-entries")
		archive := in.StaticArchive
		if archive == "" {
			archive = in.Interp.StaticArchive()
		}
		if err := requireFile(archive); err != nil {
			return nil, err
		}
		p.Objects = append([]string{archive}, p.Objects...)
	default:
		p.Options.PreArgs = in.Interp.SharedLinkFlags()
	}

	p.Linked = filepath.Join(in.OutputDir, p.Options.OutputName+suffix)
	return p, nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrLibraryNotFound, path)
	}
	return nil
}
