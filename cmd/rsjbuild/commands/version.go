package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rsjsoftware/rsjbuild/internal/version"
)

// VersionCmd implements the 'version' command.
type VersionCmd struct {
	out io.Writer
}

func (v *VersionCmd) Run(_ *Global, _ *CLI) error {
	w := v.out
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintln(w, version.String())
	return err
}
