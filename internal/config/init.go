package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Example returns a starter configuration for a single executable.
func Example() *Config {
	return &Config{
		ExeName:    "main",
		SourcePath: "src",
		Compile: map[string]CompileTarget{
			"main": {
				MainModule: "main",
				Sources:    []string{"*.py", "*/*.py"},
			},
		},
		Gzip: []string{"embed/static"},
		Zips: map[string]ZipTarget{
			"main-linux.zip": {Ignore: []string{"**/__pycache__/**"}},
		},
		Installers: map[string]Installer{
			"main-setup.exe": {Source: "main.iss", Title: "Main", CurrentVersion: "currentVersion"},
		},
	}
}

// WriteExample writes Example() as JSON to path. An existing file is only replaced when force is set.
func WriteExample(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}
	data, err := json.MarshalIndent(exampleDocument(Example()), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// exampleDocument mirrors the build.json key names for the subset written by WriteExample.
func exampleDocument(c *Config) map[string]any {
	compile := map[string]any{}
	for name, t := range c.Compile {
		compile[name] = map[string]any{"mainModule": t.MainModule, "sources": t.Sources}
	}
	zips := map[string]any{}
	for name, z := range c.Zips {
		zips[name] = map[string]any{"ignore": z.Ignore}
	}
	installers := map[string]any{}
	for name, i := range c.Installers {
		installers[name] = map[string]any{"source": i.Source, "title": i.Title, "currentVersion": i.CurrentVersion}
	}
	return map[string]any{
		"exeName":    c.ExeName,
		"sourcePath": c.SourcePath,
		"compile":    compile,
		"gzip":       c.Gzip,
		"zips":       zips,
		"installers": installers,
	}
}
