package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"maps"
	"runtime"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.json
var defaultsDocument []byte

// Defaults returns the built-in default configuration.
func Defaults() (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(defaultsDocument))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode built-in defaults: %w", err)
	}
	if cfg.Interpreter.Python == "" {
		cfg.Interpreter.Python = defaultPython()
	}
	return &cfg, nil
}

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// Merge layers user over defaults: non-zero user scalars win, maps are merged per key
// and nested structs are merged field by field. Neither input is modified.
func Merge(defaults, user *Config) *Config {
	if defaults == nil {
		defaults = &Config{}
	}
	if user == nil {
		user = &Config{}
	}
	out := &Config{
		ExeName:    pick(defaults.ExeName, user.ExeName),
		SourcePath: pick(defaults.SourcePath, user.SourcePath),
		Compile:    mergeMap(defaults.Compile, user.Compile),

		Base64Decode: mergeMap(defaults.Base64Decode, user.Base64Decode),
		Template:     mergeNested(defaults.Template, user.Template),
		EmbedData:    mergeMap(defaults.EmbedData, user.EmbedData),

		Embedded: EmbeddedConfig{
			CopyOptions: *mergeCopy(&defaults.Embedded.CopyOptions, &user.Embedded.CopyOptions),
			CompModules: pickSlice(defaults.Embedded.CompModules, user.Embedded.CompModules),
			WithTkinter: defaults.Embedded.WithTkinter || user.Embedded.WithTkinter,
			RemoveTests: defaults.Embedded.RemoveTests || user.Embedded.RemoveTests,
		},

		Userguide: pick(defaults.Userguide, user.Userguide),
		Npm:       pickSlice(defaults.Npm, user.Npm),
		Pnpm:      pickSlice(defaults.Pnpm, user.Pnpm),
		Require:   mergeMap(defaults.Require, user.Require),
		Gzip:      pickSlice(defaults.Gzip, user.Gzip),
		LateCopy:  mergeCopy(defaults.LateCopy, user.LateCopy),

		Installers:      mergeMap(defaults.Installers, user.Installers),
		InnoSetupPath:   pick(defaults.InnoSetupPath, user.InnoSetupPath),
		SignTool:        pick(defaults.SignTool, user.SignTool),
		CodesigningKey:  pick(defaults.CodesigningKey, user.CodesigningKey),
		CertificatePath: pick(defaults.CertificatePath, user.CertificatePath),
		TimestampURL:    pick(defaults.TimestampURL, user.TimestampURL),
		SignURL:         pick(defaults.SignURL, user.SignURL),
		InstallArgs:     pickSlice(defaults.InstallArgs, user.InstallArgs),
		UpdateInterval:  pick(defaults.UpdateInterval, user.UpdateInterval),
		KeytoolConfig:   pick(defaults.KeytoolConfig, user.KeytoolConfig),

		Zips:  mergeMap(defaults.Zips, user.Zips),
		Unzip: pickSlice(defaults.Unzip, user.Unzip),

		UploadHost:   pick(defaults.UploadHost, user.UploadHost),
		UploadPrefix: pick(defaults.UploadPrefix, user.UploadPrefix),
		Upload:       mergeMap(defaults.Upload, user.Upload),
		UploadAuth: UploadAuth{
			KeyPath:        pick(defaults.UploadAuth.KeyPath, user.UploadAuth.KeyPath),
			KnownHosts:     pick(defaults.UploadAuth.KnownHosts, user.UploadAuth.KnownHosts),
			UseAgent:       pickPtr(defaults.UploadAuth.UseAgent, user.UploadAuth.UseAgent),
			InsecureIgnore: defaults.UploadAuth.InsecureIgnore || user.UploadAuth.InsecureIgnore,
			Port:           pick(defaults.UploadAuth.Port, user.UploadAuth.Port),
		},

		Notify: NotifyConfig{
			URL:         pick(defaults.Notify.URL, user.Notify.URL),
			Subject:     pick(defaults.Notify.Subject, user.Notify.Subject),
			CredsSecret: pick(defaults.Notify.CredsSecret, user.Notify.CredsSecret),
		},
		Interpreter: InterpreterConfig{
			Python:         pick(defaults.Interpreter.Python, user.Interpreter.Python),
			TranspilerArgs: pickSlice(defaults.Interpreter.TranspilerArgs, user.Interpreter.TranspilerArgs),
			EmbedBaseURL:   pick(defaults.Interpreter.EmbedBaseURL, user.Interpreter.EmbedBaseURL),
			StaticArchive:  pick(defaults.Interpreter.StaticArchive, user.Interpreter.StaticArchive),
		},
		Toolchain: ToolchainConfig{
			CC:   pick(defaults.Toolchain.CC, user.Toolchain.CC),
			RC:   pick(defaults.Toolchain.RC, user.Toolchain.RC),
			Link: pick(defaults.Toolchain.Link, user.Toolchain.Link),
		},
		Metrics: MetricsConfig{Textfile: pick(defaults.Metrics.Textfile, user.Metrics.Textfile)},
		Retry: RetryConfig{
			Backoff:    pick(defaults.Retry.Backoff, user.Retry.Backoff),
			Initial:    pick(defaults.Retry.Initial, user.Retry.Initial),
			Max:        pick(defaults.Retry.Max, user.Retry.Max),
			MaxRetries: pickPtr(defaults.Retry.MaxRetries, user.Retry.MaxRetries),
		},
		Watch: WatchConfig{Debounce: pick(defaults.Watch.Debounce, user.Watch.Debounce)},
	}
	return out
}

func pick[T comparable](def, user T) T {
	var zero T
	if user != zero {
		return user
	}
	return def
}

func pickPtr[T any](def, user *T) *T {
	if user != nil {
		return user
	}
	return def
}

func pickSlice[T any](def, user []T) []T {
	if len(user) > 0 {
		return append([]T(nil), user...)
	}
	if len(def) == 0 {
		return nil
	}
	return append([]T(nil), def...)
}

func mergeMap[K comparable, V any](def, user map[K]V) map[K]V {
	if len(def) == 0 && len(user) == 0 {
		return nil
	}
	out := make(map[K]V, len(def)+len(user))
	maps.Copy(out, def)
	maps.Copy(out, user)
	return out
}

func mergeNested(def, user map[string]map[string]string) map[string]map[string]string {
	if len(def) == 0 && len(user) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(def)+len(user))
	for k, v := range def {
		out[k] = maps.Clone(v)
	}
	for k, v := range user {
		out[k] = mergeMap(out[k], v)
	}
	return out
}

func mergeCopy(def, user *CopyOptions) *CopyOptions {
	if def.Empty() && user.Empty() {
		if def == nil && user == nil {
			return nil
		}
		return &CopyOptions{}
	}
	if def == nil {
		def = &CopyOptions{}
	}
	if user == nil {
		user = &CopyOptions{}
	}
	return &CopyOptions{
		CreateDirs:  pickSlice(def.CreateDirs, user.CreateDirs),
		CopyFiles:   pickSlice(def.CopyFiles, user.CopyFiles),
		CopyTrees:   pickSlice(def.CopyTrees, user.CopyTrees),
		DeleteFiles: pickSlice(def.DeleteFiles, user.DeleteFiles),
	}
}
