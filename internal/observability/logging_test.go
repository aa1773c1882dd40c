package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextValuesAccumulate(t *testing.T) {
	ctx := context.Background()
	ctx = WithBuildID(ctx, "build-123")
	ctx = WithStage(ctx, "link")
	ctx = WithTarget(ctx, "portfolio")
	ctx = WithPlatform(ctx, "linux")

	lc := GetContext(ctx)
	assert.Equal(t, "build-123", lc.BuildID)
	assert.Equal(t, "link", lc.Stage)
	assert.Equal(t, "portfolio", lc.Target)
	assert.Equal(t, "linux", lc.Platform)
}

func TestStageOverridesPrevious(t *testing.T) {
	ctx := WithStage(context.Background(), "transpile")
	ctx = WithStage(ctx, "compile")
	assert.Equal(t, "compile", GetContext(ctx).Stage)
}

func TestInfoContextEmitsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := WithStage(WithBuildID(context.Background(), "b-1"), "discover")
	InfoContext(ctx, "modules discovered", slog.Int("count", 3))
	DebugContext(ctx, "debug line")

	out := buf.String()
	require.Contains(t, out, "build.id=b-1")
	require.Contains(t, out, "stage=discover")
	require.Contains(t, out, "count=3")
	require.Contains(t, out, "debug line")
}
