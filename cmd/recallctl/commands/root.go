package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haivivi/memrecall/pkg/cli"
)

const appName = "recallctl"

var (
	// Global flags
	cfgFile      string
	contextName  string
	outputFile   string
	inputFile    string
	outputFormat string
	envFile      string
	verbose      bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "recallctl",
	Short: "Conversation memory recall CLI tool",
	Long: `recallctl - ingest conversation fixtures and run hybrid memory recall.

A fixture holds what ingestion extracted from a chat: state atoms (L0),
utterance chunks (L1), events (L2), entities and facts. 'ingest' embeds it
into a local Badger store; 'recall' runs the full dense + lexical +
rerank + diffusion pipeline against the stored conversation.

Configuration is stored in ~/.memrecall/recallctl/ and supports multiple
contexts (embedding and rerank providers, store directory, recall tuning).
Without a context the offline hash embedder is used.

Examples:
  # Ingest and recall with the offline embedder
  recallctl ingest -f chat.yaml
  recallctl recall -f chat.yaml --format table

  # Use a SiliconFlow context
  recallctl config add-context sf --embed-provider siliconflow \
    --embed-key '$SILICONFLOW_API_KEY' --rerank-provider siliconflow \
    --rerank-key '$SILICONFLOW_API_KEY'
  recallctl -c sf recall -f chat.yaml --message "where is the sword?"
`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.memrecall/recallctl/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().StringVarP(&inputFile, "file", "f", "", "conversation fixture (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "yaml", "output format: yaml, json or table")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with API keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(forgetCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var err error
	globalConfig, err = cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing config: %w", err)
	}
	return nil
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}

// getContext returns the context configuration to use. Without -c and
// without a current context it returns an empty "default" context.
func getContext() (*cli.Context, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	if contextName == "" && cfg.CurrentContext == "" {
		return &cli.Context{Name: "default"}, nil
	}
	return cfg.ResolveContext(contextName)
}

// requireInputFile checks if input file is specified
func requireInputFile() error {
	if inputFile == "" {
		return fmt.Errorf("fixture file is required, use -f flag")
	}
	return nil
}

// outputResult outputs the result using cli package
func outputResult(result any) error {
	return cli.Output(result, cli.OutputOptions{
		Format: cli.OutputFormat(outputFormat),
		File:   outputFile,
	})
}

// printVerbose prints verbose output if enabled
func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}
