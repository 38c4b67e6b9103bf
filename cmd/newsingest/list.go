package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/store"
	"github.com/spf13/cobra"
)

const maxHeadlineWidth = 70

func newListCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored articles",
		Long:  `List stored articles, newest first, in a table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			st, err := store.OpenReadOnly(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list articles: %w", err)
			}
			slices.Reverse(records)
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			renderTable(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of articles to show (0 for all)")

	return cmd
}

// renderTable prints records as a table.
func renderTable(w io.Writer, records []article.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No articles stored.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Scraped", "Headline", "Link", "Image", "Hash"})

	for _, rec := range records {
		scraped := "-"
		if !rec.ScrapedAt.IsZero() {
			scraped = rec.ScrapedAt.Local().Format("2006-01-02 15:04")
		}

		image := "no"
		if rec.HasImage() {
			image = "yes"
		}

		t.AppendRow(table.Row{scraped, truncate(rec.Headline, maxHeadlineWidth), rec.Link, image, rec.Hash[:min(12, len(rec.Hash))]})
	}

	t.AppendFooter(table.Row{"", fmt.Sprintf("%d articles", len(records))})
	t.Render()
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
