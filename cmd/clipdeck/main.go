package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipdeck/clipdeck-agent/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "clipdeck",
	Short: "Local timeline editor and playback agent",
	Long: `clipdeck keeps a media library and a three-track timeline on this machine,
drives synchronized playback in connected players, and exports the cut as a
decision list, a CMX3600 EDL or a remote render job.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cmd.Flags())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clipdeck %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, probeCmd, versionCmd)
	bindServeFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
