package command

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewEditCmd creates the edit command.
func NewEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <project-id> <episode> [file]",
		Short: "Save a human-edited episode",
		Long:  "Replaces an episode's content with a human edit and marks it COMPLETED, whatever state generation left it in. Reads from the file argument, or stdin when omitted.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			episode, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid episode index %q", args[1])
			}

			var content []byte
			if len(args) == 3 {
				content, err = os.ReadFile(args[2])
			} else {
				content, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading edited content: %w", err)
			}
			if len(content) == 0 {
				return fmt.Errorf("edited content is empty")
			}

			if err := ctx.Store.CompleteEpisode(cmd.Context(), args[0], episode, string(content)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "episode %d saved and marked COMPLETED\n", episode)
			return nil
		},
	}
	return cmd
}
