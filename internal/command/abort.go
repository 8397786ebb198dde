package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/serialist/internal/store"
)

// NewAbortCmd creates the abort command.
func NewAbortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort <project-id>",
		Short: "Mark a project's batch as failed",
		Long:  "Marks the persisted batch FAILED so it cannot be resumed. Completed episodes are kept; nothing is rolled back. A driver running in this process is stopped with Ctrl-C instead.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			batch, err := ctx.Store.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if batch.Status == store.RunDone || batch.Status == store.RunFailed {
				return fmt.Errorf("batch is already terminal (%s)", batch.Status)
			}

			batch.Status = store.RunFailed
			if err := ctx.Store.SaveBatch(cmd.Context(), batch); err != nil {
				return err
			}
			if err := ctx.Store.SaveTask(cmd.Context(), &store.GenerationTask{
				ProjectID:      args[0],
				Status:         store.RunFailed,
				CurrentEpisode: batch.CurrentEpisode,
				Step:           "aborted",
			}); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "batch aborted; %d episodes remain completed\n", len(batch.Completed))
			return nil
		},
	}
	return cmd
}
