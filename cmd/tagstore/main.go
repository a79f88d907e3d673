// Command tagstore searches scene attributes against the tag catalogs and
// maintains per-object tag provenance.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			printError(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)
	if hints := errors.FlattenHints(err); hints != "" {
		fmt.Fprintln(w, "Hint:", hints)
	}
}
