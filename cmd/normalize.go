package main

import (
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/review-cli/internal/config"
	"github.com/sells-group/review-cli/internal/metrics"
	"github.com/sells-group/review-cli/internal/model"
	"github.com/sells-group/review-cli/internal/normalize"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Recompute bias-corrected ratings and applicant normalized averages",
	Long: `Rebuilds reviewer statistics from every current review, corrects each
qualifying reviewer's ratings toward the target average, collapses outliers to
the reviewer's own mean and stores each applicant's normalized average.

The run is a full recompute: running it again without new reviews writes the
same values.

Examples:
  # Normalize with configured constants
  normalize

  # Override the target average and print the report as JSON
  normalize --target-avg 5.4 --json`,
	RunE: runNormalize,
}

func init() {
	f := normalizeCmd.Flags()
	f.Float64("target-avg", 0, "neutral rating corrections pull toward (overrides config)")
	f.Int("min-reviews", 0, "reviews a reviewer needs before being corrected (overrides config)")
	f.Float64("zscore-threshold", 0, "deviation beyond which a rating is an outlier (overrides config)")
	f.Bool("json", false, "print the report as JSON")

	rootCmd.AddCommand(normalizeCmd)
}

func runNormalize(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("store"); err != nil {
		return err
	}

	log := zap.L().With(zap.String("command", "normalize"))

	normCfg := applyNormalizationOverrides(cmd, cfg.Normalization)
	if err := normalize.ValidateConfig(normCfg); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	rec := metrics.NewRecorder()
	defer flushMetrics(rec)

	log.Info("starting normalization",
		zap.Float64("target_avg", normCfg.TargetAvg),
		zap.Int("min_reviews", normCfg.MinReviewsThreshold),
		zap.Float64("zscore_threshold", normCfg.ZScoreThreshold),
	)

	res, err := normalize.NewNormalizer(st, normCfg, rec).Run(ctx)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printNormalizationReport(cmd.OutOrStdout(), res)
	return nil
}

func applyNormalizationOverrides(cmd *cobra.Command, base config.NormalizationConfig) config.NormalizationConfig {
	c := base
	if cmd.Flags().Changed("target-avg") {
		c.TargetAvg, _ = cmd.Flags().GetFloat64("target-avg")
	}
	if v, _ := cmd.Flags().GetInt("min-reviews"); v > 0 {
		c.MinReviewsThreshold = v
	}
	if v, _ := cmd.Flags().GetFloat64("zscore-threshold"); v > 0 {
		c.ZScoreThreshold = v
	}
	return c
}

func printNormalizationReport(w io.Writer, res *model.NormalizationResult) {
	p := newPrinter()
	p.Fprintln(w, "Normalization complete")
	p.Fprintf(w, "  Reviews processed:   %d\n", res.ReviewsProcessed)
	p.Fprintf(w, "  Reviewers corrected: %d\n", res.ReviewersProcessed)
	p.Fprintf(w, "  Applicants updated:  %d\n", res.ApplicantsUpdated)
	p.Fprintf(w, "  Outliers collapsed:  %d\n", res.OutliersCollapsed)
	p.Fprintf(w, "  Passed through:      %d\n", res.PassThrough)
	p.Fprintf(w, "  Global average:      %.2f (stddev %.2f)\n", res.GlobalAvg, res.GlobalStdDev)
	p.Fprintf(w, "  Duration:            %s\n", res.Duration.Round(time.Millisecond))

	if len(res.PerReviewerStats) == 0 {
		return
	}
	p.Fprintf(w, "\n%-24s %8s %7s %7s %8s %7s %11s\n",
		"Reviewer", "Reviews", "Avg", "StdDev", "Z-score", "Weight", "Adjustment")
	p.Fprintln(w, strings.Repeat("-", 78))
	for _, rs := range res.PerReviewerStats {
		id := rs.ReviewerID
		if len(id) > 24 {
			id = id[:21] + "..."
		}
		p.Fprintf(w, "%-24s %8d %7.2f %7.2f %8.2f %7.3f %+11.3f\n",
			id, rs.ReviewCount, rs.AvgRating, rs.StdDev, rs.ZScore, rs.ReliabilityWeight, rs.Adjustment)
	}
}
