package compiler

import "errors"

var (
	// ErrTemplate indicates a bootstrap template could not be read or rendered.
	ErrTemplate = errors.New("bootstrap template error")
	// ErrReservedModule indicates a module or package uses the reserved initializer name.
	ErrReservedModule = errors.New("reserved module name")
	// ErrNestedPackage indicates a source file more than one directory below the source root.
	ErrNestedPackage = errors.New("nested packages are not supported")
	// ErrDuplicateModule indicates two sources share a stem; objects are keyed by stem.
	ErrDuplicateModule = errors.New("duplicate module name")
	// ErrNoSources indicates the source patterns matched nothing.
	ErrNoSources = errors.New("no source files matched")
	// ErrLibraryNotFound indicates an expected interpreter library or runtime archive is missing.
	ErrLibraryNotFound = errors.New("library not found")
	// ErrTranspile indicates the transpiler exited unsuccessfully.
	ErrTranspile = errors.New("transpile failed")
	// ErrCompile indicates the C compiler exited unsuccessfully.
	ErrCompile = errors.New("compile failed")
	// ErrLink indicates the linker exited unsuccessfully.
	ErrLink = errors.New("link failed")
	// ErrPayload indicates the executable and library.zip could not be concatenated.
	ErrPayload = errors.New("payload concatenation failed")
)
