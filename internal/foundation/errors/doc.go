// Package errors provides classified errors for rsjbuild.
//
// Stages report failures as a ClassifiedError built with NewError, WrapError or one of the
// category constructors. The category decides the exit code of the binary (CLIErrorAdapter),
// the retry strategy decides whether retry.Policy attempts the operation again, and the
// context map is logged next to the message:
//
//	return errors.ToolchainError("link failed").
//		WithCause(runErr).
//		WithContext("output", exePath).
//		Build()
package errors
