package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/render"
)

func listCmd() *cobra.Command {
	var source, since, scopeFlag, date, dimension string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions sorted by update time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := buildScope(scopeFlag, date, dimension)
			if err != nil {
				return err
			}
			var src model.Source
			if source != "" {
				if src, err = model.ParseSource(source); err != nil {
					return err
				}
			}
			var cutoff time.Time
			if since != "" {
				if cutoff, err = parseDate(since); err != nil {
					return err
				}
			}

			ix, err := openIndex(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer ix.Close()

			sums, err := ix.Refresh(cmd.Context(), scope)
			if err != nil {
				return err
			}

			width := termWidth()
			n := 0
			for _, s := range sums {
				if src != "" && s.Source != src {
					continue
				}
				if !cutoff.IsZero() && s.UpdatedAt().Before(cutoff) {
					continue
				}
				meta := fmt.Sprintf("  %8s  %s", humanize.Bytes(uint64(s.FileSize)), humanize.Time(s.UpdatedAt()))
				lineWidth := 0
				if width > 0 {
					lineWidth = max(width-len(meta), 20)
				}
				fmt.Println(render.SessionLine(s, lineWidth, isTTY()) + meta)
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Filter by source (codex/claude/gemini)")
	cmd.Flags().StringVar(&since, "since", "", "Filter sessions updated since date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&scopeFlag, "scope", "all", "Scope: all, day, month or calendar-day")
	cmd.Flags().StringVar(&date, "date", "", "Date for day/month scopes (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&dimension, "dimension", "created", "Match sessions by created or updated date")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results (0 = no limit)")

	return cmd
}
