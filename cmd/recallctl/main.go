// Package main provides the memrecall command line tool.
//
// Usage:
//
//	recallctl [flags] <command> [args]
//
// Commands:
//
//	ingest  - Embed a conversation fixture into the local store
//	recall  - Run a recall call against a stored conversation
//	index   - Inspect the lexical index of a conversation
//	forget  - Delete floors from a stored conversation
//	config  - Recall tuning and provider contexts
//
// Configuration:
//
//	The CLI stores configuration in ~/.memrecall/recallctl/
//	Use 'recallctl config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/memrecall/cmd/recallctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
