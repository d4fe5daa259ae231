package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corentin-larose/pst-ingest/config"
	"github.com/corentin-larose/pst-ingest/extract"
	"github.com/corentin-larose/pst-ingest/pst"
)

var extractCmd = &cobra.Command{
	Use:   "extract [source directory] [destination directory]",
	Short: "Extract PST archives to eml files and attachments on disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadExtract(cmd, args)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg.LogLevel, cfg.LogDir)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting extraction", "source", cfg.SourceDir, "dest", cfg.DestDir)

		// Both tools are required up front; aborting beats discovering
		// ripmime is missing after an hour of decoding.
		if err := pst.CheckTools("readpst", "ripmime"); err != nil {
			return err
		}

		tools := pst.NewTools()
		return extract.New(tools, tools, logger).Run(cmd.Context(), cfg.SourceDir, cfg.DestDir)
	},
}

func init() {
	config.RegisterExtractFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}
