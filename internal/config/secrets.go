package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rsjsoftware/rsjbuild/internal/logfields"
)

// DefaultEnvFiles are read, in order, when no explicit env files are given.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Secrets is an explicit name -> value store for secrets and paths handed to build steps.
// Stages receive it as a value instead of reading the process environment.
type Secrets struct {
	values map[string]string
}

// NewSecrets builds a store from a plain map (mainly for tests).
func NewSecrets(values map[string]string) Secrets {
	return Secrets{values: maps.Clone(values)}
}

// LoadSecrets combines env files with the process environment. The process environment wins,
// and it is never modified.
func LoadSecrets(files ...string) (Secrets, error) {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	values := map[string]string{}
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Secrets{}, err
		}
		slog.Debug("Loaded env file", logfields.Path(f), logfields.Count(len(m)))
		for k, v := range m {
			if _, ok := values[k]; !ok {
				values[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			values[k] = v
		}
	}
	return Secrets{values: values}, nil
}

// Lookup returns a secret and whether it was set.
func (s Secrets) Lookup(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Get returns a secret or the empty string.
func (s Secrets) Get(name string) string {
	return s.values[name]
}

// Has reports whether name is set to a non-empty value.
func (s Secrets) Has(name string) bool {
	return s.values[name] != ""
}

// Expand replaces ${var} and $var using the store; unknown names expand to "".
func (s Secrets) Expand(text string) string {
	return os.Expand(text, s.Get)
}

// Environ renders the store as KEY=VALUE pairs for child processes.
func (s Secrets) Environ() []string {
	out := make([]string, 0, len(s.values))
	for k, v := range s.values {
		out = append(out, k+"="+v)
	}
	return out
}
