package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zhang3xing1/codmate-sub000/internal/aggregate"
	"github.com/zhang3xing1/codmate-sub000/internal/config"
	"github.com/zhang3xing1/codmate-sub000/internal/index"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
)

var version = "dev"

var (
	configPath string
	verbose    bool
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "codmate",
		Short:   "Index and browse Codex, Claude Code and Gemini CLI sessions",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/codmate/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(tokensCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(doctorCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})
}

func roots() scan.Roots {
	return scan.Roots{Codex: cfg.CodexRoot, Claude: cfg.ClaudeRoot, Gemini: cfg.GeminiRoot}
}

func openIndex(ctx context.Context, fast bool) (*index.Index, error) {
	store, err := index.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	ix, err := index.New(ctx, index.Options{
		Roots:     roots(),
		Store:     store,
		Workers:   cfg.WorkerCount(),
		Fast:      fast,
		FastLines: cfg.FastParseLines,
		TailBytes: cfg.TailBytes,
		LRUSize:   cfg.LRUSize,
		Resolver:  aggregate.NewHashResolver(cfg.GeminiProjects...),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return ix, nil
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// termWidth is the width of stdout, or 0 when it is not a terminal.
func termWidth() int {
	if !isTTY() {
		return 0
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}
