package compiler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Concat writes dst as the exact byte concatenation of exe followed by archive. Both inputs are
// checked before anything is written, and dst only appears once it is complete.
func Concat(exe, archive, dst string) (err error) {
	for _, src := range []string{exe, archive} {
		if _, statErr := os.Stat(src); statErr != nil {
			return fmt.Errorf("%w: %w", ErrPayload, statErr)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPayload, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	for _, src := range []string{exe, archive} {
		if err = appendFile(tmp, src); err != nil {
			return fmt.Errorf("%w: %w", ErrPayload, err)
		}
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrPayload, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrPayload, err)
	}
	if err = os.Chmod(tmp.Name(), 0o755); err != nil { // #nosec G302 -- executable output
		return fmt.Errorf("%w: %w", ErrPayload, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("%w: %w", ErrPayload, err)
	}
	return nil
}

func appendFile(w io.Writer, src string) error {
	f, err := os.Open(src) // #nosec G304 -- build artifacts
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// MakeExecutable adds execute permission for owner, group and others.
func MakeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode()|0o111)
}
