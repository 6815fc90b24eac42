package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/review-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "review-cli",
	Short: "Reviewer bias normalization and bulk applicant decisions",
	Long: `Corrects reviewer bias in applicant ratings, scores confidence in each
applicant's normalized average, previews criteria-based bulk decisions and
applies them atomically with an audit trail and decision notifications.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
