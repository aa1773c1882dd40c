package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

// DefaultPath is the configuration file used when --config is not given.
const DefaultPath = "build.json"

// Load reads the user configuration, expands ${VAR} references from secrets, layers it over the
// built-in defaults and validates the result.
func Load(path string, secrets Secrets) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferrors.NotFoundError("configuration file not found").
				WithContext("path", path).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			WithContext("path", path).Build()
	}

	user, err := Parse(data, secrets)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse config file").
			WithContext("path", path).Build()
	}

	defaults, err := Defaults()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "built-in defaults are invalid").Build()
	}

	cfg := Merge(defaults, user)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a single configuration document after variable expansion.
// Unknown keys are rejected.
func Parse(data []byte, secrets Secrets) (*Config, error) {
	expanded := secrets.Expand(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
