// Package embedded assembles the interpreter runtime shipped next to the compiled executables.
//
// On windows the official embeddable distribution is downloaded and extracted, project
// dependencies are installed into it with uv, selected packages are precompiled into
// build/library.zip (which the compiler driver later appends to the executable) and install
// metadata is stripped. On linux a uv virtual environment is created instead. In both cases the
// embed copy plan is applied and the third-party license texts are concatenated into
// license.txt.
package embedded
