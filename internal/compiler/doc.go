// Package compiler turns a set of Python/Cython modules into one native executable.
//
// A build runs as a fixed, fail-fast sequence of stages:
//
//	discover   expand source globs, group modules by package, decide which are dirty
//	bootstrap  render one aggregating unit (+ header) for the root and for every package
//	transpile  run cython on the root bootstrap (--embed) and on dirty modules in batches of 20
//	compile    compile every generated C unit; clean modules reuse their cached object
//	link       link objects and interpreter libraries into one executable
//	payload    (windows) append library.zip to the linked executable
//
// Object files in the build directory are the only state carried between runs. A module is
// clean when its object is strictly newer than its source; anything else is rebuilt.
// Concurrent builds against the same build directory are not supported.
package compiler
