package embedded

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

var licenseName = regexp.MustCompile(`(?i)^license`)

// WriteLicenses writes dst as the concatenation of the preamble files (missing ones are
// skipped) followed by every LICENSE* file below root, each introduced by a banner naming the
// library it belongs to. The library is the first path component below root without its
// version suffix.
func WriteLicenses(dst, root string, preamble ...string) error {
	var buf bytes.Buffer
	for _, p := range preamble {
		// #nosec G304 -- project license file
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "read license").WithContext("path", p).Build()
		}
		buf.Write(data)
	}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !licenseName.MatchString(d.Name()) || p == dst {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 2 {
			return nil
		}
		library, _, _ := strings.Cut(parts[0], "-")
		// #nosec G304 -- file below the embed tree
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		fmt.Fprintf(&buf, "\n**********************\nLicense for %s (%s)\n\n", library, p)
		buf.Write(data)
		return nil
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "collect licenses").Build()
	}
	if err := os.WriteFile(dst, buf.Bytes(), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write licenses").WithContext("path", dst).Build()
	}
	return nil
}
