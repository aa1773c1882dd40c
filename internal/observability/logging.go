package observability

import (
	"context"
	"log/slog"
)

// LogContext is the build state attached to every log line written through this package.
type LogContext struct {
	BuildID  string
	Stage    string
	Target   string
	Platform string
}

type logContextKey struct{}

func with(ctx context.Context, set func(*LogContext)) context.Context {
	lc := GetContext(ctx)
	set(&lc)
	return context.WithValue(ctx, logContextKey{}, lc)
}

// WithBuildID records the manifest build ID.
func WithBuildID(ctx context.Context, buildID string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.BuildID = buildID })
}

// WithStage records the running pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.Stage = stage })
}

// WithTarget records the executable being compiled.
func WithTarget(ctx context.Context, target string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.Target = target })
}

// WithPlatform records the target platform.
func WithPlatform(ctx context.Context, platform string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.Platform = platform })
}

// GetContext returns the log context carried by ctx.
func GetContext(ctx context.Context) LogContext {
	lc, _ := ctx.Value(logContextKey{}).(LogContext)
	return lc
}

func (lc LogContext) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	for _, kv := range [...]struct{ key, value string }{
		{"build.id", lc.BuildID},
		{"stage", lc.Stage},
		{"target", lc.Target},
		{"platform", lc.Platform},
	} {
		if kv.value != "" {
			attrs = append(attrs, slog.String(kv.key, kv.value))
		}
	}
	return attrs
}

func logAttrs(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	logger := slog.Default()
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.LogAttrs(ctx, level, msg, append(GetContext(ctx).attrs(), attrs...)...)
}

func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelInfo, msg, attrs)
}

func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelWarn, msg, attrs)
}

func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelError, msg, attrs)
}

func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelDebug, msg, attrs)
}
