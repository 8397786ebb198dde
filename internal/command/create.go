package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vampirenirmal/serialist/internal/store"
)

// NewCreateCmd creates the create command.
func NewCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new serialized project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			premise, _ := cmd.Flags().GetString("premise")
			project := &store.Project{
				ID:        uuid.NewString(),
				Title:     args[0],
				Premise:   premise,
				CreatedAt: time.Now().UTC(),
			}
			if err := ctx.Store.SaveProject(cmd.Context(), project); err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(project)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created project %s (%s)\n", project.ID, project.Title)
			return nil
		},
	}

	cmd.Flags().String("premise", "", "one-paragraph story premise")
	return cmd
}
