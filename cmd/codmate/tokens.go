package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

func tokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <path>",
		Short: "Show the latest token usage recorded in a session file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := openIndex(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer ix.Close()

			snap, ok, err := ix.LatestTokenUsage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("No token usage found near the end of the file.")
				return nil
			}
			fmt.Printf("As of %s (%s)\n", snap.Timestamp.Local().Format("2006-01-02 15:04:05"), humanize.Time(snap.Timestamp))
			printUsage(snap.Usage)
			return nil
		},
	}
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich <path>",
		Short: "Fully parse a session and compute its active duration from turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := openIndex(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer ix.Close()

			sum, err := ix.Enrich(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session:  %s [%s]\n", sum.ID, sum.Source)
			fmt.Printf("Title:    %s\n", sum.Title)
			fmt.Printf("Cwd:      %s\n", sum.Cwd)
			fmt.Printf("Span:     %s\n", sum.Duration().Round(time.Second))
			fmt.Printf("Active:   %s\n", sum.ActiveDuration.Round(time.Second))
			fmt.Printf("Messages: %d user, %d assistant, %d tool calls\n",
				sum.UserMessageCount, sum.AssistantMessageCount, sum.ToolInvocationCount)
			printUsage(sum.Tokens)
			return nil
		},
	}
}

func printUsage(u model.TokenUsage) {
	fmt.Printf("  total:          %s\n", humanize.Comma(u.Total))
	fmt.Printf("  input:          %s\n", humanize.Comma(u.Input))
	fmt.Printf("  output:         %s\n", humanize.Comma(u.Output))
	fmt.Printf("  cache read:     %s\n", humanize.Comma(u.CacheRead))
	fmt.Printf("  cache creation: %s\n", humanize.Comma(u.CacheCreation))
}
