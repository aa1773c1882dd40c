package catalog

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/language"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// Updater extracts messages and refreshes every locale of one domain.
type Updater struct {
	Runner toolchain.Runner
	// Babel is the pybabel executable.
	Babel string
	// Dir is the working directory pybabel runs in.
	Dir string
}

// Extract writes the message template for the sources below sourceDir to pot.
func (u *Updater) Extract(ctx context.Context, sourceDir, pot string) error {
	if err := os.MkdirAll(filepath.Dir(pot), 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create template directory").Build()
	}
	babel := u.Babel
	if babel == "" {
		babel = "pybabel"
	}
	err := u.Runner.Run(ctx, toolchain.Command{
		Name: babel,
		Args: []string{"extract", "-o", pot, "--input-dirs=" + sourceDir, "--ignore-dirs=*"},
		Dir:  u.Dir,
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryToolchain, "message extraction failed").Build()
	}
	return nil
}

// Update extracts the template and merges it into every
// <localeDir>/**/LC_MESSAGES/<domain>.po, compiling the .mo next to it. Directories whose
// name is not a locale are skipped. It returns the catalogs that were written.
func (u *Updater) Update(ctx context.Context, sourceDir, localeDir, domain, pot string) ([]string, error) {
	if err := u.Extract(ctx, sourceDir, pot); err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(localeDir), "**/LC_MESSAGES/"+domain+".po")
	if err != nil {
		return nil, ferrors.ValidationError("invalid catalog domain").WithCause(err).
			WithContext("domain", domain).Build()
	}

	var written []string
	for _, rel := range matches {
		po := filepath.Join(localeDir, filepath.FromSlash(rel))
		name := path.Base(path.Dir(path.Dir(rel)))
		tag, err := ParseLocale(name)
		if err != nil {
			observability.WarnContext(ctx, "Skipping catalog outside a locale directory",
				logfields.Path(po), logfields.Error(err))
			continue
		}
		mo := strings.TrimSuffix(po, ".po") + ".mo"
		opts := MergeOptions{PoFile: po, MoFile: mo, Inputs: []string{pot}, Header: Header{{"Language", name}}}
		if _, err := Merge(ctx, opts); err != nil {
			return written, err
		}
		observability.InfoContext(ctx, "Updated catalog", logfields.Path(po), logfields.Name(tag.String()))
		written = append(written, po)
	}
	return written, nil
}

// ParseLocale parses a gettext locale directory name such as "de", "pt_BR" or
// "sr_RS.UTF-8@latin". The codeset and modifier are ignored.
func ParseLocale(name string) (language.Tag, error) {
	base, _, _ := strings.Cut(name, "@")
	base, _, _ = strings.Cut(base, ".")
	if base == "" {
		return language.Und, ferrors.ValidationError("empty locale name").WithContext("locale", name).Build()
	}
	tag, err := language.Parse(base)
	if err != nil {
		return language.Und, ferrors.ValidationError("invalid locale name").WithCause(err).
			WithContext("locale", name).Build()
	}
	return tag, nil
}
