package commands

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haivivi/memrecall/pkg/cli"
	"github.com/haivivi/memrecall/pkg/metrics"
	"github.com/haivivi/memrecall/pkg/recall"
)

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall evidence for the fixture's latest turn",
	Long: `Run one recall call for the conversation of a fixture. The query is
built from the fixture's messages; --message adds unsent user text that
becomes the query focus.

The conversation must have been ingested with the same embedding provider.

Examples:
  recallctl recall -f chat.yaml --format table
  recallctl recall -f chat.yaml --message "what happened to the sword?"
  recallctl recall -f chat.yaml --last 4 --exclude-last-ai --format json`,
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().String("message", "", "pending user message (query focus)")
	recallCmd.Flags().Int("last", 0, "use only the first N messages of the fixture (0 = all)")
	recallCmd.Flags().Bool("exclude-last-ai", false, "drop trailing AI turns before building the query")
	recallCmd.Flags().String("recall-config", "", "recall tuning file (overrides the context)")
	recallCmd.Flags().Int("repeat", 1, "run the call N times on one engine context")
	recallCmd.Flags().Bool("metrics", false, "print Prometheus counters to stderr afterwards")
}

func runRecall(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	message, _ := flags.GetString("message")
	last, _ := flags.GetInt("last")
	excludeAI, _ := flags.GetBool("exclude-last-ai")
	cfgPath, _ := flags.GetString("recall-config")
	repeat, _ := flags.GetInt("repeat")
	showMetrics, _ := flags.GetBool("metrics")

	fx, err := loadFixture()
	if err != nil {
		return err
	}
	ctx, err := getContext()
	if err != nil {
		return err
	}
	cfg, err := recallConfig(ctx, cfgPath)
	if err != nil {
		return err
	}
	emb, err := newEmbedder(cmd.Context(), ctx)
	if err != nil {
		return err
	}
	rr, err := cli.NewReranker(ctx.Rerank)
	if err != nil {
		return err
	}
	store, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	engine, err := recall.New(cfg, store, emb, rr, recall.Options{
		Collectors: metrics.NewCollectors(reg),
	})
	if err != nil {
		return err
	}

	req := fx.Request()
	if last > 0 && last < len(req.Messages) {
		req.Messages = slices.Clone(req.Messages[:last])
	}
	req.PendingUserMessage = message
	req.ExcludeLastAITurn = excludeAI

	ec := recall.NewEngineContext(fx.Conversation)
	defer ec.Close()
	if err := ec.Warmup(cmd.Context(), store, req); err != nil {
		printVerbose("warmup: %v", err)
	}

	var res *recall.Result
	for i := range max(repeat, 1) {
		res, err = engine.Recall(cmd.Context(), ec, req)
		if err != nil {
			return err
		}
		printVerbose("call %d: %s in %s", i+1, res.Metrics.Outcome, cli.FormatDuration(res.ElapsedMs))
	}

	if showMetrics {
		printCounters(reg)
	}
	return outputResult(res)
}

// printCounters writes every counter of reg to stderr.
func printCounters(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		cli.PrintError("gather metrics: %v", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			fmt.Fprintf(os.Stderr, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), c.GetValue())
		}
	}
}

var forgetCmd = &cobra.Command{
	Use:   "forget <floor>...",
	Short: "Delete floors from a stored conversation",
	Long: `Delete the atoms, chunks and their vectors on the given floors of the
fixture's conversation. Events and graph entries are kept.

Example:
  recallctl forget -f chat.yaml 12 13`,
	Args: cobra.MinimumNArgs(1),
	RunE: runForget,
}

func runForget(cmd *cobra.Command, args []string) error {
	fx, err := loadFixture()
	if err != nil {
		return err
	}
	floors := make([]int, 0, len(args))
	for _, a := range args {
		f, err := strconv.Atoi(a)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid floor %q", a)
		}
		floors = append(floors, f)
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

	for _, f := range floors {
		if err := store.DeleteFloor(cmd.Context(), fx.Conversation, f); err != nil {
			return err
		}
		cli.PrintSuccess("Floor %d deleted from %q", f, fx.Conversation)
	}
	return nil
}
