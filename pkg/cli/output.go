package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/memrecall/pkg/lexical"
	"github.com/haivivi/memrecall/pkg/recall"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	FormatYAML  OutputFormat = "yaml"
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
)

// OutputOptions configures [Output].
type OutputOptions struct {
	Format OutputFormat

	// File is the output path; empty writes to stdout.
	File string

	// Writer overrides File.
	Writer io.Writer
}

// Output writes a command result. Recall results and term statistics have
// a table rendering; other values fall back to YAML in table mode.
func Output(result any, opts OutputOptions) error {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
		if opts.File != "" {
			f, err := os.Create(opts.File)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			w = f
		}
	}

	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		return writeYAML(w, result)
	case FormatTable:
		return writeTable(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", opts.Format)
	}
}

func writeYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func writeTable(w io.Writer, result any) error {
	styles := NewStyles(DefaultTheme)
	var text string
	switch v := result.(type) {
	case *recall.Result:
		text = RenderResult(v, styles)
	case []lexical.TermStat:
		text = RenderTerms(v, styles)
	default:
		return writeYAML(w, result)
	}
	_, err := io.WriteString(w, text)
	return err
}

// PrintSuccess prints a confirmation line to stdout.
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintError prints an error line to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintVerbose prints to stderr when verbose is set.
func PrintVerbose(verbose bool, format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}
