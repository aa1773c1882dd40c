package compiler

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"text/template"
)

// MainPackage is the package name rendered into the root bootstrap.
const MainPackage = "__main__"

// RootBootstrap is the stem of the root aggregator; it is transpiled with --embed.
const RootBootstrap = "bootstrap"

//go:embed templates/*.tmpl
var builtinTemplates embed.FS

const (
	pyxTemplate    = "bootstrap.pyx.tmpl"
	headerTemplate = "bootstrap.h.tmpl"
)

// BootstrapUnit is one rendered aggregator and its header.
type BootstrapUnit struct {
	Package string
	Source  string
	Header  string
	// C is the unit the transpiler writes for Source.
	C    string
	Root bool
}

type tableEntry struct {
	Name string
	Init string
}

type bootstrapData struct {
	Package    string
	Header     string
	Modules    []string
	Packages   []string
	Entries    []tableEntry
	MainModule string
}

// Bootstrapper renders aggregator units from templates. TemplateDir, when set, must contain
// bootstrap.pyx.tmpl and bootstrap.h.tmpl and replaces the built-in templates.
type Bootstrapper struct {
	TemplateDir string
}

func (b Bootstrapper) load() (*template.Template, *template.Template, error) {
	read := func(name string) (*template.Template, error) {
		var (
			data []byte
			err  error
		)
		if b.TemplateDir != "" {
			data, err = os.ReadFile(filepath.Join(b.TemplateDir, name))
		} else {
			data, err = builtinTemplates.ReadFile("templates/" + name)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTemplate, err)
		}
		t, err := template.New(name).Option("missingkey=error").Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTemplate, name, err)
		}
		return t, nil
	}
	pyx, err := read(pyxTemplate)
	if err != nil {
		return nil, nil, err
	}
	hdr, err := read(headerTemplate)
	if err != nil {
		return nil, nil, err
	}
	return pyx, hdr, nil
}

// Render writes the root aggregator and one aggregator per package into buildDir.
// Module order follows discovery order exactly.
func (b Bootstrapper) Render(buildDir string, d *Discovery, mainModule string) ([]BootstrapUnit, error) {
	if err := checkReserved(d, mainModule); err != nil {
		return nil, err
	}
	pyx, hdr, err := b.load()
	if err != nil {
		return nil, err
	}

	packages := d.PackageNames()

	rootModules := slices.Concat(d.Root, packages)
	rootEntries := make([]tableEntry, 0, len(rootModules))
	for _, m := range rootModules {
		rootEntries = append(rootEntries, tableEntry{Name: m, Init: m})
	}

	units := make([]BootstrapUnit, 0, len(packages)+1)
	root := BootstrapUnit{
		Package: RootPackage,
		Source:  filepath.Join(buildDir, RootBootstrap+".pyx"),
		Header:  filepath.Join(buildDir, MainPackage+".h"),
		C:       filepath.Join(buildDir, RootBootstrap+".c"),
		Root:    true,
	}
	if err := renderTo(pyx, root.Source, bootstrapData{
		Package:    MainPackage,
		Header:     filepath.Base(root.Header),
		Modules:    rootModules,
		Packages:   packages,
		Entries:    rootEntries,
		MainModule: mainModule,
	}); err != nil {
		return nil, err
	}
	if err := renderTo(hdr, root.Header, bootstrapData{
		Package:  MainPackage,
		Modules:  d.Root,
		Packages: packages,
	}); err != nil {
		return nil, err
	}
	units = append(units, root)

	for _, p := range d.Packages {
		u := BootstrapUnit{
			Package: p.Name,
			Source:  filepath.Join(buildDir, p.Name+".pyx"),
			Header:  filepath.Join(buildDir, p.Name+".h"),
			C:       filepath.Join(buildDir, p.Name+".c"),
		}
		entries := make([]tableEntry, 0, len(p.Modules))
		for _, m := range p.Modules {
			entries = append(entries, tableEntry{Name: p.Name + "." + m, Init: m})
		}
		if err := renderTo(pyx, u.Source, bootstrapData{
			Package: p.Name,
			Header:  filepath.Base(u.Header),
			Modules: p.Modules,
			Entries: entries,
		}); err != nil {
			return nil, err
		}
		if err := renderTo(hdr, u.Header, bootstrapData{
			Package: p.Name,
			Modules: p.Modules,
		}); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func checkReserved(d *Discovery, mainModule string) error {
	if mainModule == ReservedModule {
		return fmt.Errorf("%w: main module %s", ErrReservedModule, mainModule)
	}
	for _, m := range d.Modules {
		if m.Name == ReservedModule || m.Package == ReservedModule {
			return fmt.Errorf("%w: %s", ErrReservedModule, m.Qualified())
		}
		if m.Name == RootBootstrap || m.Name == MainPackage {
			return fmt.Errorf("%w: %s collides with the generated bootstrap", ErrReservedModule, m.Qualified())
		}
	}
	for _, p := range d.Packages {
		if p.Name == RootBootstrap || p.Name == MainPackage {
			return fmt.Errorf("%w: package %s collides with the generated bootstrap", ErrReservedModule, p.Name)
		}
	}
	return nil
}

func renderTo(t *template.Template, path string, data bootstrapData) error {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Errorf("%w: render %s: %w", ErrTemplate, filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
