package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
	"github.com/zhang3xing1/codmate-sub000/internal/search"
)

const (
	sColorReset   = "\033[0m"
	sColorBoldRed = "\033[1;31m"
	sColorBlue    = "\033[1;34m"
	sColorGreen   = "\033[1;32m"
	sColorYellow  = "\033[1;33m"
	sColorDim     = "\033[2m"
)

func colorizeSource(source model.Source) string {
	switch source {
	case model.SourceClaude:
		return sColorBlue + string(source) + sColorReset
	case model.SourceCodex:
		return sColorGreen + string(source) + sColorReset
	case model.SourceGemini:
		return sColorYellow + string(source) + sColorReset
	default:
		return string(source)
	}
}

func colorizeSnippet(snippet string) string {
	snippet = strings.ReplaceAll(snippet, ">>>", sColorBoldRed)
	snippet = strings.ReplaceAll(snippet, "<<<", sColorReset)
	return snippet
}

func searchCmd() *cobra.Command {
	var source, since string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the log files of indexed sessions",
		Long: `Case-insensitive substring search over every indexed session file.
Output is TSV for fzf integration:
  sessionId, path, updatedAt, source, cwd, title, snippet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := search.Options{Query: args[0], Limit: limit, Workers: cfg.WorkerCount()}
			var err error
			if source != "" {
				if opts.Source, err = model.ParseSource(source); err != nil {
					return err
				}
			}
			if since != "" {
				if opts.Since, err = parseDate(since); err != nil {
					return err
				}
			}

			ix, err := openIndex(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer ix.Close()

			// auto-update index before searching
			if _, err := ix.Refresh(cmd.Context(), scan.All()); err != nil {
				return err
			}

			results, err := search.Search(cmd.Context(), ix, opts)
			if err != nil && len(results) == 0 {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(os.Stderr, "No results found.")
				return nil
			}

			color := isTTY()
			for _, r := range results {
				s := r.Summary
				snippet := strings.ReplaceAll(r.Snippet, "\t", " ")
				snippet = strings.ReplaceAll(snippet, "\n", " ")
				title := strings.ReplaceAll(s.Title, "\t", " ")
				cwd := s.Cwd
				if cwd == "" {
					cwd = "-"
				}
				updated := s.UpdatedAt().Local().Format("2006-01-02T15:04")
				src := string(s.Source)
				if color {
					snippet = colorizeSnippet(snippet)
					updated = sColorDim + updated + sColorReset
					src = colorizeSource(s.Source)
				}
				// first two fields stay plain for fzf {1} {2}
				fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.FilePath, updated, src, cwd, title, snippet)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Filter by source (codex/claude/gemini)")
	cmd.Flags().StringVar(&since, "since", "", "Filter sessions updated since date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max results")

	return cmd
}
