package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/opsched/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var (
		taskType        string
		userID          string
		priority        int
		operatorID      string
		packageID       string
		operatorVersion string
		packageVersion  string
		params          []string
		paramsJSON      string
		maxRetries      int
		timeoutSeconds  int
	)

	cmd := &cobra.Command{
		Use:   "submit NAME",
		Short: "Submit a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputParams, err := buildParams(params, paramsJSON)
			if err != nil {
				return err
			}

			req := model.CreateTaskRequest{
				Name:              args[0],
				Type:              model.TaskType(taskType),
				UserID:            userID,
				Priority:          priority,
				OperatorID:        operatorID,
				PackageID:         packageID,
				OperatorVersionID: operatorVersion,
				PackageVersionID:  packageVersion,
				InputParams:       inputParams,
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}
			if cmd.Flags().Changed("timeout") {
				req.TimeoutSeconds = &timeoutSeconds
			}

			resp, err := client.Post("/api/v1/tasks/", req)
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}

			var task model.Task
			if err := json.Unmarshal(resp.Data, &task); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Task submitted: %s\n", task.ID)
			fmt.Printf("  name:     %s\n", task.Name)
			fmt.Printf("  type:     %s\n", task.Type)
			fmt.Printf("  status:   %s\n", task.Status)
			fmt.Printf("  priority: %d\n", task.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "type", string(model.TaskTypeOperator), "Task type (operator_execution, package_execution)")
	cmd.Flags().StringVar(&userID, "user", "", "Owning user ID (required)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority, higher runs first")
	cmd.Flags().StringVar(&operatorID, "operator", "", "Operator ID")
	cmd.Flags().StringVar(&packageID, "package", "", "Package ID")
	cmd.Flags().StringVar(&operatorVersion, "operator-version", "", "Operator version ID")
	cmd.Flags().StringVar(&packageVersion, "package-version", "", "Package version ID")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Input parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&paramsJSON, "params-json", "", "Input parameters as a JSON object")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Max automatic retries (default: server setting)")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Execution timeout in seconds (default: server setting)")
	cmd.MarkFlagRequired("user")

	return cmd
}

// buildParams merges --params-json with --param key=value pairs, the pairs
// winning on conflict.
func buildParams(pairs []string, rawJSON string) (map[string]any, error) {
	params := map[string]any{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &params); err != nil {
			return nil, fmt.Errorf("parse --params-json: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		params[key] = value
	}
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}
