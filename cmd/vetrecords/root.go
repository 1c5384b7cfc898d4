package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
)

// cli holds what every subcommand shares once the root has loaded config.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *common.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "vetrecords",
		Short:         "Extract structured patient records from handwritten veterinary scans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := common.LoadConfig()
			if err != nil {
				return withExitCode(exitConfig, err)
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				cfg.Log.Level = lvl
			}
			c.cfg = cfg
			// Logs go to stderr so stdout stays clean for data URIs, text and JSON.
			c.logger = common.NewLogger(c.stderr, cfg.Log)
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(
		c.newRunCmd(),
		c.newPrepareCmd(),
		c.newOCRCmd(),
		c.newStructureCmd(),
		c.newDBHealthCmd(),
	)
	return root
}
