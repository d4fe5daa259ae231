package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corentin-larose/pst-ingest/cas"
	"github.com/corentin-larose/pst-ingest/config"
	"github.com/corentin-larose/pst-ingest/ingest"
	"github.com/corentin-larose/pst-ingest/pst"
	"github.com/corentin-larose/pst-ingest/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source directory]",
	Short: "Ingest PST archives under a directory into the relational store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadIngest(cmd, args)
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
		logger.Info("starting ingestion", "source", cfg.SourceDir, "scratch", cfg.ScratchDir, "batchSize", cfg.BatchSize)

		// Environment check before any archive is touched.
		if err := pst.CheckTools("readpst"); err != nil {
			return err
		}

		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.DB.DSN())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		blobs, err := cas.New(cfg.AttachmentsDir)
		if err != nil {
			return err
		}

		session, err := st.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = session.Close()
		}()

		orch, err := ingest.New(cfg, session, blobs, pst.NewTools(), logger)
		if err != nil {
			return err
		}

		return orch.Run(ctx)
	},
}

func init() {
	config.RegisterIngestFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}
