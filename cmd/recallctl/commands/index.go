package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/memrecall/pkg/lexical"
	"github.com/haivivi/memrecall/pkg/lexicon"
	"github.com/haivivi/memrecall/pkg/recall"
)

var indexCmd = &cobra.Command{
	Use:   "index [term]...",
	Short: "Inspect the lexical index of a conversation",
	Long: `Build the lexical index of the fixture's conversation from the store
and print its most frequent terms with document frequency and IDF. With
term arguments only those terms are printed.

Examples:
  recallctl index -f chat.yaml --top 30 --format table
  recallctl index -f chat.yaml sword excalibur`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().Int("top", 50, "number of terms to print (0 = all)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	top, err := cmd.Flags().GetInt("top")
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
	store, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	ec := recall.NewEngineContext(fx.Conversation)
	defer ec.Close()
	idx, err := ec.LexicalIndex(cmd.Context(), store, fx.Request())
	if err != nil {
		return err
	}
	printVerbose("index: %d documents over floors %v", idx.DocCount(), idx.Floors())

	if len(args) == 0 {
		return outputResult(idx.TopTerms(top))
	}
	stats := make([]lexical.TermStat, 0, len(args))
	for _, a := range args {
		term := lexicon.Normalize(a)
		stats = append(stats, lexical.TermStat{Term: term, DF: idx.DF(term), IDF: idx.IDF(term)})
	}
	return outputResult(stats)
}
