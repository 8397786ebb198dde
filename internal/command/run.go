package command

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <project-id> <start> <end>",
		Short: "Generate a range of episodes",
		Long:  "Generates episodes start through end in order, persisting progress after every transition. Ctrl-C pauses after the episode in flight; a second Ctrl-C aborts the batch.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			start, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid start episode %q", args[1])
			}
			end, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid end episode %q", args[2])
			}

			runner := ctx.NewRunner()
			h, err := runner.Start(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				<-sigs
				fmt.Fprintln(cmd.ErrOrStderr(), "pausing after the episode in flight (Ctrl-C again to abort)...")
				h.Pause()
				<-sigs
				h.Abort()
			}()

			waitErr := h.Wait(cmd.Context())
			if err := printProjectStatus(cmd, ctx, args[0]); err != nil {
				return err
			}
			return waitErr
		},
	}
	return cmd
}

// NewResumeCmd creates the resume command.
func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Resume a paused or interrupted batch",
		Long:  "Continues a PAUSED batch, or one whose driver died mid-run, from its current episode. Completed episodes are never regenerated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			runner := ctx.NewRunner()
			h, err := runner.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				<-sigs
				fmt.Fprintln(cmd.ErrOrStderr(), "pausing after the episode in flight (Ctrl-C again to abort)...")
				h.Pause()
				<-sigs
				h.Abort()
			}()

			waitErr := h.Wait(cmd.Context())
			if err := printProjectStatus(cmd, ctx, args[0]); err != nil {
				return err
			}
			return waitErr
		},
	}
	return cmd
}
