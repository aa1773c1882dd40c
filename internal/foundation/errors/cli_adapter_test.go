package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, nil)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"validation", ValidationError("invalid input").Build(), 2},
		{"config", ConfigError("bad config").Build(), 7},
		{"missing library", NotFoundError("library not found").Build(), 7},
		{"signing", SigningError("kms refused").Build(), 5},
		{"network", NetworkError("upload failed").Build(), 8},
		{"toolchain", ToolchainError("link failed").Build(), 11},
		{"filesystem", FileSystemError("unwritable").Build(), 11},
		{"runtime", RuntimeError("canceled").Build(), 12},
		{"internal", InternalError("bug").Build(), 10},
		{"wrapped", fmt.Errorf("stage compile: %w", ToolchainError("cc").Build()), 11},
		{"unclassified", stderrors.New("unknown"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatKeepsToolOutput(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, nil)
	diag := stderrors.New("undefined reference to `PyInit_helper'")

	msg := adapter.FormatError(ToolchainError("link failed").WithCause(diag).Build())
	assert.Contains(t, msg, "undefined reference to `PyInit_helper'")
	assert.Equal(t, "Internal error occurred (use -v for details)", adapter.FormatError(InternalError("boom").Build()))

	verbose := NewCLIErrorAdapter(true, nil)
	assert.Contains(t, verbose.FormatError(InternalError("boom").Build()), "boom")
}

func TestCLIErrorAdapter_HandleError(t *testing.T) {
	var logs, stderr bytes.Buffer
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&logs, nil)))
	adapter.stderr = &stderr
	code := -1
	adapter.exit = func(c int) { code = c }

	adapter.HandleError(nil)
	assert.Equal(t, -1, code)

	adapter.HandleError(ConfigError("missing template").WithContext("path", "bootstrap.c.tmpl").Build())
	assert.Equal(t, 7, code)
	assert.Contains(t, stderr.String(), "Error: [config:fatal] missing template")
	assert.Contains(t, logs.String(), "path=bootstrap.c.tmpl")
	assert.Contains(t, logs.String(), "category=config")
}
