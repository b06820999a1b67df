package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/opsched/pkg/model"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/tasks/stats")
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			var stats model.TaskStats
			if err := json.Unmarshal(resp.Data, &stats); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Tasks: %d total\n", stats.Total)
			fmt.Printf("  pending:   %d\n", stats.Pending)
			fmt.Printf("  queued:    %d\n", stats.Queued)
			fmt.Printf("  running:   %d\n", stats.Running)
			fmt.Printf("  success:   %d\n", stats.Success)
			fmt.Printf("  failed:    %d\n", stats.Failed)
			fmt.Printf("  timeout:   %d\n", stats.Timeout)
			fmt.Printf("  cancelled: %d\n", stats.Cancelled)
			return nil
		},
	}
}
