package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/memrecall/pkg/cli"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed a conversation fixture into the store",
	Long: `Embed the atoms, relations, chunks and events of a fixture with the
context's embedding provider and write them, with entities, facts and the
embedding fingerprint, to the context's store.

Example:
  recallctl ingest -f chat.yaml --reset`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Bool("reset", false, "delete the conversation before writing")
}

func runIngest(cmd *cobra.Command, args []string) error {
	reset, err := cmd.Flags().GetBool("reset")
	if err != nil {
		return err
	}
	fx, err := loadFixture()
	if err != nil {
		return err
	}
	ctx, err := getContext()
	if err != nil {
		return err
	}
	emb, err := newEmbedder(cmd.Context(), ctx)
	if err != nil {
		return err
	}
	store, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := cli.Ingest(cmd.Context(), store, emb, fx, reset)
	if err != nil {
		return err
	}
	return outputResult(stats)
}
