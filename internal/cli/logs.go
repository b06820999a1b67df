package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/opsched/pkg/model"
)

func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs TASK_ID",
		Short: "Show a task's log output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get("/api/v1/tasks/" + id + "/logs")
			if err != nil {
				return fmt.Errorf("get logs: %w", err)
			}

			var logs []model.TaskLog
			if err := json.Unmarshal(resp.Data, &logs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			for _, entry := range logs {
				printLogLine(entry.Timestamp, string(entry.Level), entry.Source, entry.Message)
			}

			if !follow {
				return nil
			}

			// Follow the live stream until the task completes.
			err = client.Stream(cmd.Context(), "/api/v1/stream/tasks/"+id, func(ev model.StreamEvent) error {
				ts := time.UnixMilli(ev.Timestamp)
				switch ev.Type {
				case model.StreamEventLog:
					printLogLine(ts, ev.Level, ev.Source, ev.Message)
				case model.StreamEventProgress:
					if ev.Progress != nil {
						fmt.Printf("%s  progress %d%%\n", ts.Format(time.RFC3339), *ev.Progress)
					}
				case model.StreamEventCompletion:
					outcome := "succeeded"
					if ev.Success == nil || !*ev.Success {
						outcome = "failed: " + ev.Error
					}
					fmt.Printf("%s  task %s\n", ts.Format(time.RFC3339), outcome)
					return errStreamDone
				}
				return nil
			})
			if errors.Is(err, errStreamDone) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream live output until the task completes")
	return cmd
}

// errStreamDone ends a follow once the completion event arrives.
var errStreamDone = fmt.Errorf("stream done")

func printLogLine(ts time.Time, level, source, message string) {
	if source != "" {
		fmt.Printf("%s  %-5s  [%s] %s\n", ts.Format(time.RFC3339), level, source, message)
		return
	}
	fmt.Printf("%s  %-5s  %s\n", ts.Format(time.RFC3339), level, message)
}
