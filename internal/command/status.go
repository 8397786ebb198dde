package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/serialist/internal/orchestrator"
	"github.com/vampirenirmal/serialist/internal/store"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show generation progress for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			watch, _ := cmd.Flags().GetBool("watch")
			if !watch {
				return printProjectStatus(cmd, ctx, args[0])
			}

			poller := orchestrator.NewPoller(ctx.Store, ctx.Config.Engine.PollInterval.Std(), ctx.Logger)
			w := poller.Watch(cmd.Context(), args[0], func(view orchestrator.View) {
				printView(cmd, view)
			})
			<-w.Done()
			return nil
		},
	}

	cmd.Flags().Bool("watch", false, "poll until the run reaches a terminal state")
	return cmd
}

// printProjectStatus reads the persisted task and batch once and prints the
// reconciled view.
func printProjectStatus(cmd *cobra.Command, ctx *CommandContext, projectID string) error {
	task, err := ctx.Store.GetTask(cmd.Context(), projectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	var batch *store.BatchState
	if task != nil {
		batch, err = ctx.Store.GetBatch(cmd.Context(), projectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	view, _ := orchestrator.Reconcile(nil, task, batch)
	if view.ProjectID == "" {
		view.ProjectID = projectID
	}
	printView(cmd, view)
	return nil
}

func printView(cmd *cobra.Command, view orchestrator.View) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		_ = json.NewEncoder(cmd.OutOrStdout()).Encode(view)
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "project:   %s\n", view.ProjectID)
	fmt.Fprintf(out, "task:      %s", view.TaskStatus)
	if view.Step != "" {
		fmt.Fprintf(out, " (%s)", view.Step)
	}
	fmt.Fprintln(out)
	if view.BatchStatus != "" {
		fmt.Fprintf(out, "batch:     %s\n", view.BatchStatus)
		fmt.Fprintf(out, "episode:   %d\n", view.CurrentEpisode)
		fmt.Fprintf(out, "progress:  %d/%d complete, %d failed (%.0f%%)\n",
			view.Completed, view.RangeSize, view.Failed, view.Progress*100)
	}
}
