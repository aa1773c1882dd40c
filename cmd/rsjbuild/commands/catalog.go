package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rsjsoftware/rsjbuild/internal/catalog"
)

// CatalogCmd implements the 'catalog' command: merge .po/.pot inputs into one catalog.
type CatalogCmd struct {
	Po     string   `help:"Catalog to update" required:"" type:"path"`
	Mo     string   `help:"Compiled catalog to write" type:"path"`
	Remove bool     `help:"Drop obsolete messages instead of keeping translated ones"`
	Inputs []string `arg:"" optional:"" help:"Glob patterns of .po/.pot inputs"`

	out io.Writer
}

func (c *CatalogCmd) Run(_ *Global, _ *CLI) error {
	merged, err := catalog.Merge(context.Background(), catalog.MergeOptions{
		PoFile:         c.Po,
		MoFile:         c.Mo,
		Inputs:         c.Inputs,
		RemoveObsolete: c.Remove,
	})
	if err != nil {
		return err
	}
	w := c.out
	if w == nil {
		w = os.Stdout
	}
	_, err = fmt.Fprintf(w, "%s: %d messages\n", c.Po, len(merged.Entries))
	return err
}
