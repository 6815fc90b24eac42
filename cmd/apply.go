package main

import (
	"context"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/review-cli/internal/bulk"
	"github.com/sells-group/review-cli/internal/export"
	"github.com/sells-group/review-cli/internal/metrics"
	"github.com/sells-group/review-cli/internal/model"
	"github.com/sells-group/review-cli/internal/notify"
)

var applyCmd = &cobra.Command{
	Use:   "apply [user-id...]",
	Short: "Move users to a decision status and notify them",
	Long: `Moves the given users to the target status in one transaction per batch,
writes an audit entry and sends acceptance or rejection notifications.
Users that are no longer pending or waitlisted are skipped.

Examples:
  # Accept three users
  apply --target accepted u1 u2 u3

  # Reject everyone exported by preview
  apply --target rejected --ids-file matches.csv

  # Show what would change without writing
  apply --target waitlisted --ids-file matches.xlsx --dry-run`,
	RunE: runApply,
}

func init() {
	f := applyCmd.Flags()
	f.String("target", "", "target status: accepted, rejected or waitlisted")
	f.String("ids-file", "", "read user ids from a .csv or .xlsx file (user_id column)")
	f.String("actor", "", "actor recorded in the audit log (default bulk.actor_id)")
	f.Bool("dry-run", false, "report eligible and skipped users without writing")
	f.Bool("json", false, "print the result as JSON")

	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("apply"); err != nil {
		return err
	}

	flags := cmd.Flags()
	targetFlag, _ := flags.GetString("target")
	target := model.ApplicationStatus(strings.ToLower(strings.TrimSpace(targetFlag)))
	actor, _ := flags.GetString("actor")
	if actor == "" {
		actor = cfg.Bulk.ActorID
	}
	dryRun, _ := flags.GetBool("dry-run")
	asJSON, _ := flags.GetBool("json")

	ids := append([]string(nil), args...)
	if path, _ := flags.GetString("ids-file"); path != "" {
		fromFile, err := export.ReadIDs(path)
		if err != nil {
			return err
		}
		ids = append(ids, fromFile...)
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return eris.New("apply: no user ids given (pass ids or --ids-file)")
	}

	log := zap.L().With(
		zap.String("command", "apply"),
		zap.String("target", string(target)),
		zap.Bool("dry_run", dryRun),
	)

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	rec := metrics.NewRecorder()
	defer flushMetrics(rec)

	tx := bulk.NewTransactor(st, newSender(), cfg.Bulk, rec)
	batches := bulk.Chunk(ids, cfg.Bulk.MaxBatch)
	log.Info("apply started", zap.Int("ids", len(ids)), zap.Int("batches", len(batches)))

	if dryRun {
		return runDryRun(ctx, cmd.OutOrStdout(), tx, batches, target, actor, asJSON)
	}

	total := &model.BulkResult{}
	for i, batch := range batches {
		res, err := tx.Apply(ctx, batch, target, actor)
		if res != nil {
			mergeResult(total, res)
		}
		if err != nil {
			var txErr *bulk.TransactionError
			if eris.As(err, &txErr) {
				log.Error("apply stopped", zap.Int("batch", i+1), zap.Int("committed", total.SuccessCount))
			}
			return eris.Wrapf(err, "apply: batch %d of %d", i+1, len(batches))
		}
	}
	total.Message = summarize(total, len(ids), target)

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), total)
	}
	printResult(cmd.OutOrStdout(), total)
	return nil
}

func runDryRun(ctx context.Context, w io.Writer, tx *bulk.Transactor, batches [][]string, target model.ApplicationStatus, actor string, asJSON bool) error {
	type dryRun struct {
		Eligible []string `json:"eligible"`
		Skipped  []string `json:"skipped"`
	}
	var out dryRun
	for _, batch := range batches {
		plan, err := tx.Prepare(ctx, batch, target, actor)
		if err != nil {
			return err
		}
		out.Eligible = append(out.Eligible, plan.EligibleIDs()...)
		out.Skipped = append(out.Skipped, plan.Skipped...)
	}

	if asJSON {
		return writeJSON(w, out)
	}
	p := newPrinter()
	p.Fprintf(w, "Dry run: %d eligible, %d skipped (target: %s)\n", len(out.Eligible), len(out.Skipped), target)
	for _, id := range out.Skipped {
		p.Fprintf(w, "  skip %s\n", id)
	}
	return nil
}

// uniqueIDs trims ids and drops blanks and repeats, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func newSender() notify.Sender {
	if cfg.Notify.Driver == "webhook" {
		return notify.NewWebhookSender(
			cfg.Notify.WebhookURL,
			cfg.Notify.RatePerSec,
			time.Duration(cfg.Notify.TimeoutSecs)*time.Second,
		)
	}
	return notify.NewLogSender()
}

func mergeResult(total, res *model.BulkResult) {
	total.SuccessCount += res.SuccessCount
	total.FailureCount += res.FailureCount
	total.TotalEligible += res.TotalEligible
	total.NotificationsSent += res.NotificationsSent
	total.Skipped = append(total.Skipped, res.Skipped...)
}

func summarize(res *model.BulkResult, requested int, target model.ApplicationStatus) string {
	msg := newPrinter().Sprintf("Updated %d of %d users to %s", res.SuccessCount, requested, target)
	if res.FailureCount > 0 {
		msg += newPrinter().Sprintf(" (%d notifications failed)", res.FailureCount)
	}
	return msg
}

func printResult(w io.Writer, res *model.BulkResult) {
	p := newPrinter()
	p.Fprintln(w, res.Message)
	p.Fprintf(w, "  eligible:           %d\n", res.TotalEligible)
	p.Fprintf(w, "  updated:            %d\n", res.SuccessCount)
	p.Fprintf(w, "  notifications sent: %d\n", res.NotificationsSent)
	p.Fprintf(w, "  notifications failed: %d\n", res.FailureCount)
	if len(res.Skipped) > 0 {
		p.Fprintf(w, "  skipped:            %s\n", strings.Join(res.Skipped, ", "))
	}
}
