package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/memrecall/pkg/cli"
	"github.com/haivivi/memrecall/pkg/recall"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage recall tuning and provider contexts.

Contexts select the embedding and rerank providers, the store directory and
an optional recall tuning file, similar to kubectl's context management.

Configuration is stored in ~/.memrecall/recallctl/config.yaml`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective recall configuration",
	Long: `Print the recall configuration the current context uses: the defaults
overridden by the context's tuning file or --recall-config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("recall-config")
		ctx, err := getContext()
		if err != nil {
			return err
		}
		cfg, err := recallConfig(ctx, path)
		if err != nil {
			return err
		}
		return outputResult(cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a recall tuning file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := recall.LoadConfig(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("%s is valid", args[0])
		return nil
	},
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name.

Embedding providers: openai, dashscope, gemini, siliconflow, hash.
Rerank providers: siliconflow, or openai / dashscope with --rerank-base-url.
API keys of the form $NAME are read from the environment (and .env).

Example:
  recallctl config add-context sf \
    --embed-provider siliconflow --embed-key '$SILICONFLOW_API_KEY' \
    --rerank-provider siliconflow --rerank-key '$SILICONFLOW_API_KEY'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		flags := cmd.Flags()

		embedProvider, _ := flags.GetString("embed-provider")
		embedModel, _ := flags.GetString("embed-model")
		embedKey, _ := flags.GetString("embed-key")
		embedBaseURL, _ := flags.GetString("embed-base-url")
		embedDim, _ := flags.GetInt("embed-dim")
		rerankProvider, _ := flags.GetString("rerank-provider")
		rerankModel, _ := flags.GetString("rerank-model")
		rerankKey, _ := flags.GetString("rerank-key")
		rerankBaseURL, _ := flags.GetString("rerank-base-url")
		storeDir, _ := flags.GetString("store-dir")
		recallCfg, _ := flags.GetString("recall-config")

		ctx := &cli.Context{
			Embedding: &cli.Endpoint{
				Provider:  embedProvider,
				Model:     embedModel,
				APIKey:    embedKey,
				BaseURL:   embedBaseURL,
				Dimension: embedDim,
			},
			StoreDir:     storeDir,
			RecallConfig: recallCfg,
		}
		if rerankProvider != "" {
			ctx.Rerank = &cli.Endpoint{
				Provider: rerankProvider,
				Model:    rerankModel,
				APIKey:   rerankKey,
				BaseURL:  rerankBaseURL,
			}
		}

		// Fail now rather than on the first recall.
		if _, err := cli.NewReranker(ctx.Rerank); err != nil {
			return err
		}
		switch embedProvider {
		case cli.ProviderOpenAI, cli.ProviderDashScope, cli.ProviderGemini, cli.ProviderSiliconFlow, cli.ProviderHash:
		default:
			return fmt.Errorf("unknown embedding provider %q", embedProvider)
		}
		if recallCfg != "" {
			if _, err := recall.LoadConfig(recallCfg); err != nil {
				return err
			}
		}

		cfg := getConfig()
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := getConfig().DeleteContext(name); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q deleted", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := getConfig().UseContext(name); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to context %q", name)
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context",
	Short: "Display the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}
		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		names := cfg.ListContexts()
		if len(names) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tEMBEDDING\tRERANK\tSTORE")
		for _, name := range names {
			ctx := cfg.Contexts[name]
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			dir, err := storeDir(ctx)
			if err != nil {
				dir = "?"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name, endpointLabel(ctx.Embedding), endpointLabel(ctx.Rerank), dir)
		}
		return w.Flush()
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("Current context: %s\n", cfg.CurrentContext)
		fmt.Printf("Contexts: %d\n", len(cfg.Contexts))

		for _, name := range cfg.ListContexts() {
			ctx := cfg.Contexts[name]
			fmt.Printf("\n  %s:\n", name)
			printEndpoint("Embedding", ctx.Embedding)
			printEndpoint("Rerank", ctx.Rerank)
			if ctx.StoreDir != "" {
				fmt.Printf("    Store: %s\n", ctx.StoreDir)
			}
			if ctx.RecallConfig != "" {
				fmt.Printf("    Recall config: %s\n", ctx.RecallConfig)
			}
		}
		return nil
	},
}

func endpointLabel(ep *cli.Endpoint) string {
	if ep == nil {
		return "-"
	}
	if ep.Model == "" {
		return ep.Provider
	}
	return ep.Provider + "/" + ep.Model
}

func printEndpoint(label string, ep *cli.Endpoint) {
	if ep == nil {
		return
	}
	fmt.Printf("    %s:\n", label)
	fmt.Printf("      Provider: %s\n", ep.Provider)
	if ep.Model != "" {
		fmt.Printf("      Model: %s\n", ep.Model)
	}
	if ep.APIKey != "" {
		fmt.Printf("      API Key: %s\n", cli.MaskAPIKey(ep.APIKey))
	}
	if ep.BaseURL != "" {
		fmt.Printf("      Base URL: %s\n", ep.BaseURL)
	}
	if ep.Dimension > 0 {
		fmt.Printf("      Dimension: %d\n", ep.Dimension)
	}
}

func init() {
	configShowCmd.Flags().String("recall-config", "", "recall tuning file (overrides the context)")

	configAddContextCmd.Flags().String("embed-provider", cli.ProviderHash, "embedding provider")
	configAddContextCmd.Flags().String("embed-model", "", "embedding model (provider default if empty)")
	configAddContextCmd.Flags().String("embed-key", "", "embedding API key or $ENV_NAME")
	configAddContextCmd.Flags().String("embed-base-url", "", "embedding API base URL")
	configAddContextCmd.Flags().Int("embed-dim", 0, "embedding dimension")
	configAddContextCmd.Flags().String("rerank-provider", "", "rerank provider (empty disables rerank)")
	configAddContextCmd.Flags().String("rerank-model", "", "rerank model")
	configAddContextCmd.Flags().String("rerank-key", "", "rerank API key or $ENV_NAME")
	configAddContextCmd.Flags().String("rerank-base-url", "", "rerank API base URL")
	configAddContextCmd.Flags().String("store-dir", "", "Badger store directory")
	configAddContextCmd.Flags().String("recall-config", "", "recall tuning file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
