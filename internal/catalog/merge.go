package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// MergeOptions controls Merge.
type MergeOptions struct {
	// PoFile is the catalog being maintained. It is read when present and rewritten.
	PoFile string
	// MoFile, when set, receives the compiled catalog.
	MoFile string
	// Inputs are glob patterns of .po/.pot files whose messages are current.
	Inputs []string
	// RemoveObsolete drops translated entries that no input references any more.
	RemoveObsolete bool
	// Header overrides DefaultHeader; empty values are filled in from it.
	Header Header
	Now    func() time.Time
}

// DefaultHeader returns the header written to merged catalogs.
func DefaultHeader(now time.Time) Header {
	stamp := now.UTC().Format("2006-01-02 15:04") + "+0000"
	return Header{
		{"Project-Id-Version", "1.0"},
		{"Report-Msgid-Bugs-To", "info@rsj.de"},
		{"POT-Creation-Date", stamp},
		{"PO-Revision-Date", stamp},
		{"Last-Translator", "RSJ Software GmbH <info@rsj.de>"},
		{"Language-Team", "English <info@rsj.de>"},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=utf-8"},
		{"Content-Transfer-Encoding", "8bit"},
	}
}

// Add merges other into c: unknown messages are appended, known ones gain the new
// occurrences and become active again. Messages are keyed by context and id.
func (c *Catalog) Add(other *Catalog) {
	for _, e := range other.Entries {
		existing := c.Find(e.Context, e.ID)
		if existing == nil {
			cp := *e
			c.Append(&cp)
			continue
		}
		existing.Occurrences = append(existing.Occurrences, e.Occurrences...)
		existing.Obsolete = false
		if e.IDPlural != "" && existing.IDPlural == "" {
			existing.IDPlural = e.IDPlural
		}
	}
}

// Reset marks every entry obsolete and forgets its occurrences.
func (c *Catalog) Reset() {
	for _, e := range c.Entries {
		e.Obsolete = true
		e.Occurrences = nil
	}
}

// Merge rebuilds PoFile from the inputs and optionally compiles MoFile. Existing translations
// are kept; messages no longer in any input become obsolete (or are dropped with
// RemoveObsolete); obsolete untranslated messages are always dropped.
func Merge(ctx context.Context, opts MergeOptions) (*Catalog, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	combined := &Catalog{Header: mergeHeader(DefaultHeader(now()), opts.Header)}

	if opts.PoFile != "" {
		existing, err := ParseFile(opts.PoFile)
		switch {
		case err == nil:
			existing.Reset()
			combined.Add(existing)
		case os.IsNotExist(err):
		default:
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid translation catalog").
				WithContext("path", opts.PoFile).Build()
		}
	}

	inputs := 0
	for _, pattern := range opts.Inputs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, ferrors.ValidationError("invalid catalog input pattern").
				WithCause(err).WithContext("pattern", pattern).Build()
		}
		for _, m := range matches {
			in, err := ParseFile(m)
			if err != nil {
				observability.WarnContext(ctx, "Skipping unreadable catalog input",
					logfields.Path(m), logfields.Error(err))
				continue
			}
			combined.Add(in)
			inputs++
		}
	}

	result := &Catalog{Header: combined.Header}
	for _, e := range combined.Entries {
		switch {
		case !e.Obsolete:
			result.Append(e)
		case e.Translated() && !opts.RemoveObsolete:
			result.Append(e)
		}
	}

	if opts.PoFile != "" {
		if err := result.WriteFile(opts.PoFile); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write catalog").
				WithContext("path", opts.PoFile).Build()
		}
	}
	if opts.MoFile != "" {
		if err := result.WriteMO(opts.MoFile); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write compiled catalog").
				WithContext("path", opts.MoFile).Build()
		}
	}
	observability.DebugContext(ctx, "Merged catalog", logfields.Path(opts.PoFile),
		logfields.Count(len(result.Entries)), slog.Int("inputs", inputs))
	return result, nil
}

func mergeHeader(base, override Header) Header {
	out := append(Header(nil), base...)
	for _, f := range override {
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i].Value = f.Value
				replaced = true
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}
