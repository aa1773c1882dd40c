// Package toolchain runs external build tools and wraps the platform C compiler and linker.
//
// Every tool invocation goes through a Runner. ExecRunner starts real processes; FakeRunner records
// commands so compiler-driver tests run without a C toolchain. On failure the returned *ToolError
// carries the tool's stdout and stderr unmodified.
package toolchain
