// Command ragindex runs the idempotent indexing pipeline: it stores uploaded
// files as chunks, embeds them into a vector store through a ledger-guarded
// job queue, and serves search and answers over the indexed collections.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragindex/cmd/ragindex/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
