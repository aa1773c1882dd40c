package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

const sampleConfig = `{
  "exeName": "portfolio",
  "sourcePath": "src",
  "compile": {
    "portfolio": {"mainModule": "main", "sources": ["*.py", "*/*.py"], "noConsole": true},
    "helper": {"mainModule": "helper", "sources": ["tools/*.py"], "onlyOn": ["win32"]}
  },
  "copyFiles": ["README.md", ["docs/license.txt", "license.txt"]],
  "createDirs": ["data"],
  "unzip": [["dist/out", "output/portfolio.zip"]],
  "upload": {"deploy@${UPLOAD_HOST}:/srv/{version}/{name}": "output/*.zip"},
  "uploadHost": "${UPLOAD_HOST}",
  "retry": {"maxRetries": 5}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMergesDefaultsAndExpandsSecrets(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	secrets := NewSecrets(map[string]string{"UPLOAD_HOST": "dist.example.com"})

	cfg, err := Load(path, secrets)
	require.NoError(t, err)

	assert.Equal(t, "portfolio", cfg.ExeName)
	assert.Equal(t, "dist.example.com", cfg.UploadHost)
	assert.True(t, cfg.ActiveUploadHost())
	assert.Contains(t, cfg.Upload, "deploy@dist.example.com:/srv/{version}/{name}")

	// defaults survive where the user said nothing
	assert.Equal(t, 86400, cfg.UpdateInterval)
	assert.Equal(t, "http://timestamp.digicert.com", cfg.TimestampURL)
	assert.Equal(t, RetryBackoffExponential, cfg.Retry.Backoff)
	assert.Equal(t, time.Second, cfg.Retry.Initial)
	require.NotNil(t, cfg.Retry.MaxRetries)
	assert.Equal(t, 5, *cfg.Retry.MaxRetries)

	require.Len(t, cfg.Compile, 2)
	assert.True(t, cfg.Compile["portfolio"].NoConsole)
	assert.Equal(t, []string{"win32"}, cfg.Compile["helper"].OnlyOn)

	assert.Equal(t, []CopySpec{
		{Source: "README.md", Target: "README.md"},
		{Source: "docs/license.txt", Target: "license.txt"},
	}, cfg.Embedded.CopyFiles)
	assert.Equal(t, []string{"data"}, cfg.Embedded.CreateDirs)
	assert.Equal(t, []UnzipSpec{{Output: "dist/out", Source: "output/portfolio.zip"}}, cfg.Unzip)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), NewSecrets(nil))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{"exeName": "x", "sourcePath": "src", "compiel": {}}`)
	_, err := Load(path, NewSecrets(nil))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestUnexpandedUploadHostIsInactive(t *testing.T) {
	cfg := &Config{UploadHost: "$(UPLOAD_HOST}"}
	assert.False(t, cfg.ActiveUploadHost())
	cfg.UploadHost = " "
	assert.False(t, cfg.ActiveUploadHost())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ExeName:    "app",
			SourcePath: "src",
			Compile: map[string]CompileTarget{
				"app": {MainModule: "main", Sources: []string{"*.py"}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing exe name", func(c *Config) { c.ExeName = "" }, "exeName"},
		{"missing source path", func(c *Config) { c.SourcePath = "" }, "sourcePath"},
		{"missing main module", func(c *Config) {
			c.Compile["app"] = CompileTarget{Sources: []string{"*.py"}}
		}, "compile.app.mainModule"},
		{"no sources", func(c *Config) {
			c.Compile["app"] = CompileTarget{MainModule: "main"}
		}, "compile.app.sources"},
		{"bad pattern", func(c *Config) {
			c.Compile["app"] = CompileTarget{MainModule: "main", Sources: []string{"[*.py"}}
		}, "compile.app.sources"},
		{"unknown platform", func(c *Config) {
			c.Compile["app"] = CompileTarget{MainModule: "main", Sources: []string{"*.py"}, OnlyOn: []string{"amiga"}}
		}, "compile.app.onlyOn"},
		{"installer without source", func(c *Config) {
			c.Installers = map[string]Installer{"setup.exe": {Title: "x"}}
		}, "installers.setup.exe.source"},
		{"bad upload target", func(c *Config) {
			c.Upload = map[string]string{"nohost": "x"}
		}, "upload"},
		{"bad backoff", func(c *Config) { c.Retry.Backoff = "random" }, "retry.backoff"},
	}

	require.NoError(t, Validate(valid()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			ce, ok := ferrors.AsClassified(err)
			require.True(t, ok)
			assert.Equal(t, ferrors.CategoryValidation, ce.Category())
			assert.Equal(t, tt.field, ce.Context()["field"])
		})
	}
}

func TestMerge(t *testing.T) {
	three := 3
	defaults := &Config{
		SourcePath:     "src",
		UpdateInterval: 86400,
		Base64Decode:   map[string]string{"cert.p12": "CERT"},
		Template:       map[string]map[string]string{"SECRETS": {"a.ini": "a.tmpl"}},
		Retry:          RetryConfig{Backoff: RetryBackoffLinear, MaxRetries: &three},
		Notify:         NotifyConfig{Subject: "release"},
	}
	user := &Config{
		ExeName:      "app",
		Base64Decode: map[string]string{"key.pem": "KEY"},
		Template:     map[string]map[string]string{"SECRETS": {"b.ini": "b.tmpl"}},
		Retry:        RetryConfig{Backoff: RetryBackoffFixed},
		Notify:       NotifyConfig{URL: "nats://localhost:4222"},
	}

	got := Merge(defaults, user)

	assert.Equal(t, "app", got.ExeName)
	assert.Equal(t, "src", got.SourcePath)
	assert.Equal(t, map[string]string{"cert.p12": "CERT", "key.pem": "KEY"}, got.Base64Decode)
	assert.Equal(t, map[string]string{"a.ini": "a.tmpl", "b.ini": "b.tmpl"}, got.Template["SECRETS"])
	assert.Equal(t, RetryBackoffFixed, got.Retry.Backoff)
	assert.Equal(t, 3, *got.Retry.MaxRetries)
	assert.Equal(t, "release", got.Notify.Subject)
	assert.Equal(t, "nats://localhost:4222", got.Notify.URL)

	// inputs are untouched
	assert.Len(t, defaults.Base64Decode, 1)
	assert.Len(t, defaults.Template["SECRETS"], 1)
}

func TestDefaultsDecode(t *testing.T) {
	d, err := Defaults()
	require.NoError(t, err)
	assert.Equal(t, "src", d.SourcePath)
	assert.Equal(t, 22, d.UploadAuth.Port)
	assert.Equal(t, 500*time.Millisecond, d.Watch.Debounce)
	assert.NotEmpty(t, d.Interpreter.Python)
}

func TestParseUploadTarget(t *testing.T) {
	ut, err := ParseUploadTarget("deploy@dist.example.com:/srv/{version}/{name}")
	require.NoError(t, err)
	assert.Equal(t, UploadTarget{User: "deploy", Host: "dist.example.com", Path: "/srv/{version}/{name}"}, ut)

	_, err = ParseUploadTarget("dist.example.com:/srv")
	require.Error(t, err)
}

func TestWriteExampleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.json")
	require.NoError(t, WriteExample(path, false))
	require.Error(t, WriteExample(path, false))
	require.NoError(t, WriteExample(path, true))

	cfg, err := Load(path, NewSecrets(nil))
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.Compile["main"].MainModule)
}
