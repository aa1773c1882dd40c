package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyModule     = "module"
	KeyPackage    = "package"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyExe        = "exe"
	KeyPlatform   = "platform"
	KeyTool       = "tool"
	KeyCount      = "count"
	KeyVersion    = "version"
	KeyCommit     = "commit"
	KeyURL        = "url"
	KeyHost       = "host"
	KeyName       = "name"
	KeyError      = "error"
	KeySize       = "size"
	KeySubject    = "subject"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Module(m string) slog.Attr       { return slog.String(KeyModule, m) }
func Package(p string) slog.Attr      { return slog.String(KeyPackage, p) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func File(f string) slog.Attr         { return slog.String(KeyFile, f) }
func Exe(name string) slog.Attr       { return slog.String(KeyExe, name) }
func Platform(p string) slog.Attr     { return slog.String(KeyPlatform, p) }
func Tool(t string) slog.Attr         { return slog.String(KeyTool, t) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Version(v string) slog.Attr      { return slog.String(KeyVersion, v) }
func Commit(c string) slog.Attr       { return slog.String(KeyCommit, c) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Host(h string) slog.Attr         { return slog.String(KeyHost, h) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }
func Size(s string) slog.Attr         { return slog.String(KeySize, s) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
