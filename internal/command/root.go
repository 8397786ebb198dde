// Package command wires the CLI surface: project creation, batch generation,
// resume, status, abort, and human edits.
package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "serialist"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Serialist - consistency-checked serialized fiction generation",
		Long:          "Serialist drives episode-by-episode story generation with durable, resumable state and hard consistency gates.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "path to config file")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	cmd.AddCommand(
		NewCreateCmd(),
		NewRunCmd(),
		NewResumeCmd(),
		NewStatusCmd(),
		NewAbortCmd(),
		NewEditCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(Version).Execute()
}
