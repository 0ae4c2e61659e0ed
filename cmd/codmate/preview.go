package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhang3xing1/codmate-sub000/internal/index"
	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/render"
)

func previewCmd() *cobra.Command {
	var query string
	var hide []string
	var width int

	cmd := &cobra.Command{
		Use:   "preview <path|session-id>",
		Short: "Print the conversation turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := openIndex(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer ix.Close()

			var p *index.Preview
			if _, statErr := os.Stat(args[0]); statErr == nil {
				p, err = ix.Turns(cmd.Context(), args[0])
			} else {
				p, err = ix.Session(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			kinds := make([]model.VisibilityKind, 0, len(hide))
			for _, h := range hide {
				kinds = append(kinds, model.VisibilityKind(h))
			}
			if width == 0 {
				width = termWidth()
			}
			fmt.Print(render.Conversation(p.Summary, p.Turns, render.Options{
				Width: width,
				Query: query,
				Color: isTTY(),
				Hide:  kinds,
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "Search query for keyword highlighting")
	cmd.Flags().StringSliceVar(&hide, "hide", []string{string(model.KindReasoning)}, "Event kinds to hide")
	cmd.Flags().IntVar(&width, "width", 0, "Wrap width (default terminal width)")

	return cmd
}
