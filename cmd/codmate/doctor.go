package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Self-check: verify roots and the index database, show stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// check roots
			fmt.Println("=== Roots ===")
			checkDir("Codex", cfg.CodexRoot)
			checkDir("Claude", cfg.ClaudeRoot)
			checkDir("Gemini", cfg.GeminiRoot)

			// scan file counts
			fmt.Println("\n=== File Scan ===")
			files, err := scan.ScanRoots(roots(), scan.All())
			if err != nil {
				fmt.Printf("  scan error: %v\n", err)
			} else {
				counts := map[model.Source]int{}
				var bytes int64
				for _, f := range files {
					counts[f.Source]++
					bytes += f.Size
				}
				fmt.Printf("  Codex  files: %d\n", counts[model.SourceCodex])
				fmt.Printf("  Claude files: %d\n", counts[model.SourceClaude])
				fmt.Printf("  Gemini files: %d\n", counts[model.SourceGemini])
				fmt.Printf("  Total size:   %s\n", humanize.Bytes(uint64(bytes)))
			}

			// check DB
			fmt.Println("\n=== Database ===")
			fmt.Printf("  Path: %s\n", cfg.DBPath)
			if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
				fmt.Println("  Status: NOT FOUND (run 'codmate index' first)")
				return nil
			}

			ix, err := openIndex(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer ix.Close()

			meta, err := ix.Meta(cmd.Context())
			if err != nil {
				return fmt.Errorf("read meta: %w", err)
			}
			fmt.Printf("  Schema:   v%s\n", meta.SchemaVersion)
			fmt.Printf("  Sessions: %d\n", meta.SessionCount)
			fmt.Printf("  Records:  %d\n", meta.RecordCount)
			fmt.Printf("  Previews: %d\n", meta.PreviewCount)
			fmt.Printf("  Workers:  %d\n", cfg.WorkerCount())

			// check DB file size
			if info, err := os.Stat(cfg.DBPath); err == nil {
				fmt.Printf("\n=== DB Size: %s ===\n", humanize.Bytes(uint64(info.Size())))
			}
			return nil
		},
	}
}

func checkDir(name, path string) {
	if info, err := os.Stat(path); err != nil {
		fmt.Printf("  %s: %s (NOT FOUND)\n", name, path)
	} else if !info.IsDir() {
		fmt.Printf("  %s: %s (NOT A DIRECTORY)\n", name, path)
	} else {
		fmt.Printf("  %s: %s (OK)\n", name, path)
	}
}
