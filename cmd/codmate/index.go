package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhang3xing1/codmate-sub000/internal/index"
	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
)

func indexCmd() *cobra.Command {
	var scopeFlag, date, dimension string
	var fast, watch bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan the session roots and bring the index up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := buildScope(scopeFlag, date, dimension)
			if err != nil {
				return err
			}

			ix, err := openIndex(cmd.Context(), fast)
			if err != nil {
				return err
			}
			defer ix.Close()

			fmt.Fprintf(os.Stderr, "Scanning roots (%s)...\n", scope)
			fmt.Fprintf(os.Stderr, "  Codex:  %s\n", cfg.CodexRoot)
			fmt.Fprintf(os.Stderr, "  Claude: %s\n", cfg.ClaudeRoot)
			fmt.Fprintf(os.Stderr, "  Gemini: %s\n", cfg.GeminiRoot)

			sums, err := ix.Refresh(cmd.Context(), scope)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Done. %s\n", countBySource(sums))

			if !watch {
				return nil
			}
			w, err := index.NewWatcher(ix, 0)
			if err != nil {
				return err
			}
			w.OnRefresh = func(sums []model.SessionSummary, err error) {
				if err == nil {
					fmt.Fprintf(os.Stderr, "Updated. %s\n", countBySource(sums))
				}
			}
			fmt.Fprintln(os.Stderr, "Watching for changes, Ctrl-C to stop.")
			if err := w.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeFlag, "scope", "all", "Scope: all, day, month or calendar-day")
	cmd.Flags().StringVar(&date, "date", "", "Date for day/month scopes (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&dimension, "dimension", "created", "Match sessions by created or updated date")
	cmd.Flags().BoolVar(&fast, "fast", false, "Parse new files at metadata level only")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and re-index on changes")

	return cmd
}

func buildScope(kind, date, dimension string) (scan.Scope, error) {
	k, err := scan.ParseScopeKind(kind)
	if err != nil {
		return scan.Scope{}, err
	}
	dim, err := scan.ParseDimension(dimension)
	if err != nil {
		return scan.Scope{}, err
	}
	d, err := parseDate(date)
	if err != nil {
		return scan.Scope{}, err
	}
	switch k {
	case scan.ScopeDay:
		return scan.Day(d, dim), nil
	case scan.ScopeMonth:
		return scan.Month(d, dim), nil
	case scan.ScopeCalendarDay:
		return scan.CalendarDay(d), nil
	}
	return scan.All(), nil
}

func countBySource(sums []model.SessionSummary) string {
	counts := map[model.Source]int{}
	for _, s := range sums {
		counts[s.Source]++
	}
	return fmt.Sprintf("sessions=%d codex=%d claude=%d gemini=%d",
		len(sums), counts[model.SourceCodex], counts[model.SourceClaude], counts[model.SourceGemini])
}
