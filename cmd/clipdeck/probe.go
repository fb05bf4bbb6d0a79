package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipdeck/clipdeck-agent/internal/logging"
	"github.com/clipdeck/clipdeck-agent/internal/pipeline"
)

var (
	probeFFprobe string
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print the duration and streams ffprobe finds in a media file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.NewLogger("warn")
		ffprobe, err := pipeline.NewFFprobe(probeFFprobe, probeTimeout, logger)
		if err != nil {
			return err
		}
		res, err := ffprobe.Probe(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("probe %s: %w", args[0], err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeFFprobe, "ffprobe", "ffprobe", "path to the ffprobe binary")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", pipeline.DefaultProbeTimeout, "probe timeout")
}
