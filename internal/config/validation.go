package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
)

// Validate checks required keys and enum values after defaults have been merged.
func Validate(cfg *Config) error {
	v := &validator{cfg: cfg}
	for _, check := range []func() error{
		v.validateRequired,
		v.validateCompile,
		v.validateInstallers,
		v.validateZips,
		v.validateUpload,
		v.validateRetry,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type validator struct {
	cfg *Config
}

func invalid(field, msg string) error {
	return ferrors.ValidationError(msg).WithContext("field", field).Build()
}

func (v *validator) validateRequired() error {
	if strings.TrimSpace(v.cfg.ExeName) == "" {
		return invalid("exeName", "exeName is required")
	}
	if strings.TrimSpace(v.cfg.SourcePath) == "" {
		return invalid("sourcePath", "sourcePath is required")
	}
	return nil
}

func (v *validator) validateCompile() error {
	names := make([]string, 0, len(v.cfg.Compile))
	for name := range v.cfg.Compile {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		target := v.cfg.Compile[name]
		field := "compile." + name
		if strings.TrimSpace(name) == "" {
			return invalid("compile", "executable name cannot be empty")
		}
		if target.MainModule == "" {
			return invalid(field+".mainModule", fmt.Sprintf("executable %s has no mainModule", name))
		}
		if len(target.Sources) == 0 {
			return invalid(field+".sources", fmt.Sprintf("executable %s has no source patterns", name))
		}
		for _, pattern := range target.Sources {
			if !doublestar.ValidatePattern(pattern) {
				return invalid(field+".sources", fmt.Sprintf("invalid source pattern %q", pattern))
			}
		}
		for _, p := range target.OnlyOn {
			if _, err := platform.Parse(p); err != nil {
				return invalid(field+".onlyOn", err.Error())
			}
		}
	}
	return nil
}

func (v *validator) validateInstallers() error {
	for name, inst := range v.cfg.Installers {
		if inst.Source == "" {
			return invalid("installers."+name+".source", fmt.Sprintf("installer %s has no source script", name))
		}
	}
	return nil
}

func (v *validator) validateZips() error {
	for name, z := range v.cfg.Zips {
		for _, pattern := range z.Ignore {
			if !doublestar.ValidatePattern(pattern) {
				return invalid("zips."+name+".ignore", fmt.Sprintf("invalid ignore pattern %q", pattern))
			}
		}
	}
	for i, u := range v.cfg.Unzip {
		if u.Output == "" || u.Source == "" {
			return invalid(fmt.Sprintf("unzip[%d]", i), "unzip entries need output and source")
		}
	}
	return nil
}

func (v *validator) validateUpload() error {
	for target := range v.cfg.Upload {
		if _, err := ParseUploadTarget(target); err != nil {
			return invalid("upload", err.Error())
		}
	}
	return nil
}

func (v *validator) validateRetry() error {
	r := v.cfg.Retry
	if r.Backoff != "" && NormalizeRetryBackoff(string(r.Backoff)) == "" {
		return invalid("retry.backoff", fmt.Sprintf("unknown backoff mode %q", r.Backoff))
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return invalid("retry.maxRetries", "maxRetries cannot be negative")
	}
	return nil
}

// UploadTarget is a parsed "user@host:path" upload destination.
type UploadTarget struct {
	User string
	Host string
	Path string
}

// ParseUploadTarget splits "user@host:path". The path may contain {version}, {stem}, {suffix}
// and {name} placeholders.
func ParseUploadTarget(raw string) (UploadTarget, error) {
	hostPart, path, ok := strings.Cut(raw, ":")
	if !ok || path == "" {
		return UploadTarget{}, fmt.Errorf("upload target %q must be user@host:path", raw)
	}
	user, host, ok := strings.Cut(hostPart, "@")
	if !ok || user == "" || host == "" {
		return UploadTarget{}, fmt.Errorf("upload target %q must be user@host:path", raw)
	}
	return UploadTarget{User: user, Host: host, Path: path}, nil
}

// ActiveUploadHost reports whether uploadHost names a real host. Unexpanded placeholders and
// blank values disable uploading.
func (c *Config) ActiveUploadHost() bool {
	h := strings.TrimSpace(c.UploadHost)
	return h != "" && !strings.Contains(h, "$")
}
