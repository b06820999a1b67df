package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/opsched/pkg/model"
)

func newListCmd() *cobra.Command {
	var (
		status string
		userID string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/tasks/?limit=%d&offset=%d", limit, offset)
			if status != "" {
				path += "&status=" + status
			}
			if userID != "" {
				path += "&user_id=" + userID
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			var tasks []model.Task
			if err := json.Unmarshal(resp.Data, &tasks); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			fmt.Printf("%-42s  %-25s  %-9s  %-8s  %-9s  %s\n", "ID", "NAME", "STATUS", "PRIORITY", "PROGRESS", "CREATED")
			for _, task := range tasks {
				name := task.Name
				if len(name) > 25 {
					name = name[:22] + "..."
				}
				fmt.Printf("%-42s  %-25s  %-9s  %-8d  %8d%%  %s\n",
					task.ID, name, task.Status, task.Priority, task.Progress,
					humanize.Time(task.CreatedAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("\n(%d of %d shown)\n", len(tasks), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, QUEUED, RUNNING, ...)")
	cmd.Flags().StringVar(&userID, "user", "", "Filter by owning user")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")

	return cmd
}
