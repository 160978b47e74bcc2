// Package cli provides the building blocks of the recallctl command-line
// tool.
//
// This package includes:
//   - Provider profiles (embedding and rerank endpoints, API keys)
//   - Conversation fixtures (YAML/JSON) for ingestion
//   - Output formatting (JSON, YAML, table)
//   - Terminal rendering of recall results
//
// Configuration is stored in ~/.memrecall/<app>/ and supports multiple
// named contexts, similar to kubectl.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("recallctl")
//	ctx, err := cfg.ResolveContext(name)
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    File:   outputPath,
//	})
package cli
