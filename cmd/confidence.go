package main

import (
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/review-cli/internal/confidence"
)

var confidenceCmd = &cobra.Command{
	Use:   "confidence <applicant-id>...",
	Short: "Compute the 0-100 confidence score of applicants",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		if err := confidence.ValidateConfig(cfg.Confidence); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scores, err := confidence.NewScorer(st, cfg.Confidence).ComputeMany(ctx, args)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), scores)
		}

		ids := make([]string, 0, len(scores))
		for id := range scores {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		p := newPrinter()
		for _, id := range ids {
			p.Fprintf(cmd.OutOrStdout(), "%-40s %3d\n", id, scores[id])
		}
		return nil
	},
}

func init() {
	confidenceCmd.Flags().Bool("json", false, "print scores as JSON")
	rootCmd.AddCommand(confidenceCmd)
}
