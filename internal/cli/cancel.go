package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/opsched/pkg/model"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a pending or queued task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Put("/api/v1/tasks/"+args[0]+"/cancel", nil)
			if err != nil {
				return fmt.Errorf("cancel task: %w", err)
			}

			var task model.Task
			if err := json.Unmarshal(resp.Data, &task); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Task %s cancelled.\n", task.ID)
			return nil
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry TASK_ID",
		Short: "Create a fresh copy of a failed or timed-out task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/tasks/"+args[0]+"/retry", nil)
			if err != nil {
				return fmt.Errorf("retry task: %w", err)
			}

			var task model.Task
			if err := json.Unmarshal(resp.Data, &task); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Retry task created: %s (%s)\n", task.ID, task.Name)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete TASK_ID",
		Short: "Delete a task and its logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/tasks/" + args[0]); err != nil {
				return fmt.Errorf("delete task: %w", err)
			}
			fmt.Printf("Task %s deleted.\n", args[0])
			return nil
		},
	}
}
