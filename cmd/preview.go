package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/review-cli/internal/confidence"
	"github.com/sells-group/review-cli/internal/criteria"
	"github.com/sells-group/review-cli/internal/export"
	"github.com/sells-group/review-cli/internal/metrics"
	"github.com/sells-group/review-cli/internal/model"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview which applicants a bulk decision would move",
	Long: `Selects submitted applicants matching the criteria and shows the status
counts before and after moving them to the target status. Nothing is written.

Rating bounds apply to the stored normalized average and are skipped at the
default 0-10 range, so applicants not yet normalized still match.

Examples:
  # Accept pending applicants with at least 3 reviews
  preview --target accepted --statuses pending --min-reviews 3

  # Reject low scorers, export every match for review
  preview --target rejected --max-rating 4.5 --min-confidence 70 --output matches.xlsx

  # Load criteria from a YAML file
  preview --filter-file accept.yaml`,
	RunE: runPreview,
}

func init() {
	f := previewCmd.Flags()
	f.String("target", "", "target status: accepted, rejected or waitlisted")
	f.Float64("min-rating", model.DefaultMinRating, "minimum normalized average (0-10)")
	f.Float64("max-rating", model.DefaultMaxRating, "maximum normalized average (0-10)")
	f.Int("min-confidence", model.DefaultMinConfidence, "minimum confidence (0-100)")
	f.Int("max-confidence", model.DefaultMaxConfidence, "maximum confidence (0-100)")
	f.Int("min-reviews", 0, "minimum review count")
	f.String("statuses", "", "comma-separated current statuses (default pending,waitlisted)")
	f.String("filter-file", "", "YAML file with criteria; flags override it")
	f.String("output", "", "write every match to a .csv or .xlsx file")
	f.Bool("json", false, "print the preview as JSON")

	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("store"); err != nil {
		return err
	}
	if err := confidence.ValidateConfig(cfg.Confidence); err != nil {
		return err
	}

	log := zap.L().With(zap.String("command", "preview"))

	filter, err := buildFilter(cmd)
	if err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	rec := metrics.NewRecorder()
	defer flushMetrics(rec)

	m := criteria.NewMatcher(st, confidence.NewScorer(st, cfg.Confidence), rec)
	res, err := m.Preview(ctx, filter)
	if err != nil {
		return err
	}

	if out, _ := cmd.Flags().GetString("output"); out != "" {
		if err := export.WriteMatches(out, res.Matches); err != nil {
			return err
		}
		log.Info("matches exported", zap.String("path", out), zap.Int("rows", len(res.Matches)))
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printPreview(cmd.OutOrStdout(), res)
	return nil
}

// buildFilter starts from the filter file (or defaults) and applies every flag the caller set.
func buildFilter(cmd *cobra.Command) (model.CriteriaFilter, error) {
	f := model.NewCriteriaFilter("")
	flags := cmd.Flags()

	if path, _ := flags.GetString("filter-file"); path != "" {
		loaded, err := criteria.LoadFilterFile(path)
		if err != nil {
			return f, err
		}
		f = loaded
	}

	if flags.Changed("target") {
		v, _ := flags.GetString("target")
		f.TargetAction = model.ApplicationStatus(strings.ToLower(strings.TrimSpace(v)))
	}
	if flags.Changed("min-rating") {
		f.MinRating, _ = flags.GetFloat64("min-rating")
	}
	if flags.Changed("max-rating") {
		f.MaxRating, _ = flags.GetFloat64("max-rating")
	}
	if flags.Changed("min-confidence") {
		f.MinConfidence, _ = flags.GetInt("min-confidence")
	}
	if flags.Changed("max-confidence") {
		f.MaxConfidence, _ = flags.GetInt("max-confidence")
	}
	if flags.Changed("min-reviews") {
		f.MinReviewCount, _ = flags.GetInt("min-reviews")
	}
	if flags.Changed("statuses") {
		v, _ := flags.GetString("statuses")
		f.CurrentStatuses = nil
		for _, s := range splitAndTrim(v) {
			f.CurrentStatuses = append(f.CurrentStatuses, model.ApplicationStatus(strings.ToLower(s)))
		}
	}

	if f.TargetAction == "" {
		return f, eris.New("preview: --target is required (or target_action in --filter-file)")
	}
	return f, nil
}

func printPreview(w io.Writer, res *model.PreviewResult) {
	p := newPrinter()
	p.Fprintf(w, "Matching applicants: %d (target: %s)\n\n", res.MatchingCount, res.Filter.TargetAction)
	writeCounts(w, res.CurrentCounts, res.ProjectedCounts)

	if len(res.Sample) == 0 {
		return
	}
	p.Fprintf(w, "\nSample (%d of %d):\n", len(res.Sample), res.MatchingCount)
	p.Fprintf(w, "%-36s %-28s %-11s %7s %8s %10s\n", "User", "Name", "Status", "Rating", "Reviews", "Confidence")
	p.Fprintln(w, strings.Repeat("-", 105))
	for _, e := range res.Sample {
		name := e.Name
		if len(name) > 28 {
			name = name[:25] + "..."
		}
		rating := "-"
		if e.NormalizedAvgRating != nil {
			rating = fmt.Sprintf("%.2f", *e.NormalizedAvgRating)
		}
		p.Fprintf(w, "%-36s %-28s %-11s %7s %8d %10d\n",
			e.UserID, name, e.CurrentStatus, rating, e.ReviewCount, e.Confidence)
	}
}
