package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/metrics"
)

func statsCmd() *cobra.Command {
	var (
		since  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-agent request telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if since <= 0 {
				return fmt.Errorf("--since must be positive")
			}

			store, err := data.Open(cfg.Data.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			report, err := metrics.BuildReport(context.Background(), store, time.Now().Add(-since))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			p := newPrinter(os.Stdout)
			p.printf("%s\n", metrics.NewDashboard().RenderReport(report))
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "report window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
