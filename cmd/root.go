package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-relay/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lead-relay",
	Short: "Relay won CRM leads to chat and spreadsheet",
	Long:  "Receives amoCRM lead status webhooks, normalizes the lead's custom fields, and posts accepted enrollments to a Telegram chat and a Google Sheets log.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
