package main

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/newsingest/fetch"
	"github.com/pevans/newsingest/ingest"
	"github.com/pevans/newsingest/logger"
	"github.com/pevans/newsingest/source"
	"github.com/pevans/newsingest/store"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var noImages bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass",
		Long: `Fetch articles from the configured source, skip those already stored, ` +
			`download their images and persist the rest.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			log = log.With(logger.String("run_id", uuid.NewString()))

			src, err := source.New(cfg.Source)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := store.Open(ctx, cfg.Store)
			if err != nil {
				log.Error("Failed to open store", logger.Error(err))
				return err
			}
			defer st.Close()

			log.Info("Configured run",
				logger.String("source", cfg.Source.Type),
				logger.String("url", cfg.Source.URL),
				logger.String("store", cfg.Store.Type),
			)

			images := fetch.NewHTTPImageFetcher(cfg.Images.Timeout, cfg.Images.MaxBytes)
			ingester := ingest.New(st, images, log, ingest.WithImages(cfg.Images.IsEnabled() && !noImages))

			result, err := ingester.Run(ctx, src)
			if result != nil {
				printSummary(cmd.OutOrStdout(), result)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noImages, "no-images", false, "skip image downloads")

	return cmd
}

// printSummary writes the run counters.
func printSummary(w io.Writer, result *ingest.Result) {
	fmt.Fprintf(w, "Persisted:  %d (%d with images)\n", result.Persisted, result.ImagesSaved)
	fmt.Fprintf(w, "Duplicates: %d\n", result.Duplicates)
	fmt.Fprintf(w, "Invalid:    %d\n", result.Invalid)
	fmt.Fprintf(w, "Failed:     %d\n", result.Failed)
	fmt.Fprintf(w, "Duration:   %s\n", result.Duration.Round(time.Millisecond))
}
