package cli

import (
	"github.com/spf13/cobra"
)

const (
	OutputFormatText = "text"
	OutputFormatJSON = "json"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobsync",
		Short:         "Follow long-running generation jobs",
		Long:          "Track profile and video generation jobs over their event stream, falling back to status polling.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to the config file")
	root.PersistentFlags().String("log-level", "", "Override logger.level")
	root.PersistentFlags().StringP("output", "o", OutputFormatText, "Output format (text or json)")

	root.AddCommand(
		TrackCmd(),
		CreateCmd(),
		HistoryCmd(),
	)

	return root
}
