// Command vibe runs the prompt-to-preview service and its local tooling.
//
// Subcommands:
//
//	serve   run the HTTP API
//	prompt  apply a prompt to a local directory
//	dev     watch a directory and keep its live preview current
//	ingest  parse a raw model response
//	plan    show how a directory would be started
//	render  build the static preview document of a directory
//	version print build information
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
