package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/opsched/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/tasks/" + args[0])
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}

			var task model.Task
			if err := json.Unmarshal(resp.Data, &task); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Task %s\n", task.ID)
			fmt.Printf("  name:      %s\n", task.Name)
			fmt.Printf("  type:      %s\n", task.Type)
			fmt.Printf("  user:      %s\n", task.UserID)
			fmt.Printf("  status:    %s\n", task.Status)
			fmt.Printf("  priority:  %d\n", task.Priority)
			fmt.Printf("  progress:  %d%%\n", task.Progress)
			fmt.Printf("  retries:   %d/%d\n", task.RetryCount, task.MaxRetries)
			fmt.Printf("  timeout:   %ds\n", task.TimeoutSeconds)
			fmt.Printf("  created:   %s\n", humanize.Time(task.CreatedAt))
			if task.StartedAt != nil {
				fmt.Printf("  started:   %s\n", humanize.Time(*task.StartedAt))
			}
			if task.CompletedAt != nil {
				fmt.Printf("  completed: %s\n", humanize.Time(*task.CompletedAt))
			}
			if secs := task.DurationSeconds(time.Now().UTC()); secs != nil {
				fmt.Printf("  duration:  %ds\n", *secs)
			}
			if task.ErrorMessage != "" {
				fmt.Printf("  error:     %s\n", task.ErrorMessage)
			}
			if len(task.OutputData) > 0 {
				out, _ := json.MarshalIndent(task.OutputData, "  ", "  ")
				fmt.Printf("  output:    %s\n", out)
			}
			return nil
		},
	}
}
