package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCmd constructs `ragindex status`, which reads a task's latest
// ledger record. It works against any worker sharing the same database.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show the ledger record of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildStores()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer a.close()

			rec, err := a.ledger.LatestByExternalID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			out := map[string]any{
				"task_id":      rec.ExternalTaskID,
				"task_name":    rec.TaskName,
				"status":       rec.Status,
				"args":         rec.Args,
				"started_at":   rec.StartedAt,
				"completed_at": rec.CompletedAt,
			}
			if len(rec.Result) > 0 {
				out["result"] = json.RawMessage(rec.Result)
			}
			return printJSON(out)
		},
	}
}
