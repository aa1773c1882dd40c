// Package build runs the complete rsjbuild pipeline for one project directory.
//
// The pipeline decodes secrets, resolves the version, assembles the embedded runtime,
// compiles every configured executable through the compiler driver and then produces the
// distribution artifacts (catalogs, user guide, web bundles, installers, zips) before
// publishing and uploading them. All execution paths (build command, watch command, tests)
// route through BuildService.
package build
