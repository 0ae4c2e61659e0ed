// Package search finds indexed sessions whose log files mention a term.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

const (
	defaultLimit   = 100
	defaultWorkers = 8
	snippetContext = 60
)

// Index is the part of the session index a search needs.
type Index interface {
	Snapshot(ctx context.Context) ([]model.SessionSummary, error)
	SessionMatch(ctx context.Context, s model.SessionSummary, term string) (string, bool, error)
}

type Result struct {
	Summary model.SessionSummary
	Snippet string
}

type Options struct {
	Query   string
	Source  model.Source // "" = all
	Since   time.Time    // zero = no filter
	Limit   int
	Workers int
}

// Search scans the log files of every indexed session for opts.Query,
// case-insensitively, and returns matches newest first. When ctx is
// cancelled the matches found so far are returned with ctx.Err().
func Search(ctx context.Context, ix Index, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	sums, err := ix.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []model.SessionSummary
	for _, s := range sums {
		if opts.Source != "" && s.Source != opts.Source {
			continue
		}
		if !opts.Since.IsZero() && s.UpdatedAt().Before(opts.Since) {
			continue
		}
		candidates = append(candidates, s)
	}

	// one slot per candidate keeps the snapshot order without locking
	hits := make([]*Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, s := range candidates {
		g.Go(func() error {
			excerpt, ok, err := ix.SessionMatch(gctx, s, opts.Query)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Debug().Err(err).Str("path", s.FilePath).Msg("skipping unreadable session")
				return nil
			}
			if ok {
				hits[i] = &Result{Summary: s, Snippet: makeSnippet(excerpt, opts.Query, snippetContext)}
			}
			return nil
		})
	}
	err = g.Wait()

	var results []Result
	for _, h := range hits {
		if h == nil {
			continue
		}
		results = append(results, *h)
		if len(results) >= opts.Limit {
			break
		}
	}
	return results, err
}

// makeSnippet extracts a snippet around the first occurrence of query in text.
func makeSnippet(text, query string, contextChars int) string {
	lower := strings.ToLower(text)
	qLower := strings.ToLower(query)
	idx := strings.Index(lower, qLower)
	if idx < 0 || len(lower) != len(text) {
		// no match, or case folding moved byte offsets
		if len([]rune(text)) > contextChars*2 {
			return string([]rune(text)[:contextChars*2]) + "..."
		}
		return text
	}
	runes := []rune(text)
	qRunes := []rune(query)
	runePos := len([]rune(text[:idx]))
	start := max(runePos-contextChars, 0)
	end := min(runePos+len(qRunes)+contextChars, len(runes))

	prefix := ""
	suffix := ""
	if start > 0 {
		prefix = "..."
	}
	if end < len(runes) {
		suffix = "..."
	}
	// wrap the matched part with markers
	snippet := string(runes[start:runePos]) +
		">>>" + string(runes[runePos:runePos+len(qRunes)]) + "<<<" +
		string(runes[runePos+len(qRunes):end])
	return prefix + snippet + suffix
}
