package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/parse"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
	"github.com/zhang3xing1/codmate-sub000/internal/timeline"
)

type Stats struct {
	Scanned  int
	Updated  int
	Skipped  int
	Unusable int
	Pruned   int
	Errors   int
}

func (s Stats) String() string {
	return fmt.Sprintf("scanned=%d updated=%d skipped=%d unusable=%d pruned=%d errors=%d",
		s.Scanned, s.Updated, s.Skipped, s.Unusable, s.Pruned, s.Errors)
}

type job struct {
	file scan.FileInfo
	prev model.ParseLevel
}

// batch collects worker results.
type batch struct {
	mu       sync.Mutex
	stats    Stats
	records  []Record
	firstErr error
}

func (b *batch) add(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
	if rec.Status == StatusOK {
		b.stats.Updated++
	} else {
		b.stats.Unusable++
	}
}

func (b *batch) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Errors++
	if b.firstErr == nil {
		b.firstErr = err
	}
}

// Refresh brings the records of every file in scope up to date and
// returns the in-scope summaries, newest first. Unchanged files are served
// from the cache without reading them. A full-scope refresh started while
// another one runs returns the last snapshot instead of waiting.
//
// Per-file failures are logged and skipped. The first one is returned only
// when nothing in scope could be summarized.
func (ix *Index) Refresh(ctx context.Context, scope scan.Scope) ([]model.SessionSummary, error) {
	if scope.IsAll() {
		if !ix.refreshing.CompareAndSwap(false, true) {
			log.Debug().Msg("refresh already running, serving snapshot")
			return ix.Snapshot(ctx)
		}
		defer ix.refreshing.Store(false)
	}
	began := time.Now()

	files, err := scan.ScanRoots(ix.opts.Roots, scope)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var (
		fresh     []Record
		first     []job
		gemini    []job
		lookupErr error
	)
	err = ix.do(ctx, func() {
		for _, f := range files {
			rec, prev, ok, err := ix.lookup(ctx, f)
			if err != nil {
				lookupErr = fmt.Errorf("lookup %s: %w", f.Path, err)
				return
			}
			switch {
			case ok:
				fresh = append(fresh, rec)
			case f.Source == model.SourceGemini:
				gemini = append(gemini, job{file: f, prev: prev})
			default:
				first = append(first, job{file: f, prev: prev})
			}
		}
	})
	if err == nil {
		err = lookupErr
	}
	if err != nil {
		return nil, err
	}

	b := &batch{stats: Stats{Scanned: len(files), Skipped: len(fresh)}}
	// Gemini goes last so the project resolver has seen the working
	// directories of every other session.
	for _, phase := range [][]job{first, gemini} {
		if err := ix.parseJobs(ctx, phase, b); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f.Path] = struct{}{}
	}
	var pruneErr error
	if err := ix.do(ctx, func() { b.stats.Pruned, pruneErr = ix.prune(ctx, scope, seen) }); err != nil {
		return nil, err
	}
	if pruneErr != nil {
		log.Warn().Err(pruneErr).Msg("prune failed")
	}

	sums := summaries(append(fresh, b.records...))
	if len(sums) == 0 && b.firstErr != nil {
		return nil, b.firstErr
	}
	out := finish(scope, sums)
	if scope.IsAll() {
		if err := ix.do(ctx, func() { ix.snapshot = out }); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("scope", scope.String()).
		Stringer("stats", b.stats).
		Dur("took", time.Since(began)).
		Msg("refresh done")
	return out, nil
}

// parseJobs parses jobs on at most Workers goroutines and persists each
// result as soon as it is ready.
func (ix *Index) parseJobs(ctx context.Context, jobs []job, b *batch) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := ix.parseFile(gctx, j)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn().Err(err).Str("path", j.file.Path).Msg("parse failed")
				b.fail(err)
				return nil
			}

			var perr error
			if err := ix.do(gctx, func() { perr = ix.persist(gctx, rec) }); err != nil {
				return err
			}
			if perr != nil {
				log.Warn().Err(perr).Str("path", j.file.Path).Msg("persist failed")
				b.fail(perr)
				return nil
			}
			b.add(rec)
			return nil
		})
	}
	return g.Wait()
}

// parseFile turns one stale file into a record. Files that cannot hold a
// session produce a record too, so they are not read again until they
// change.
func (ix *Index) parseFile(ctx context.Context, j job) (Record, error) {
	f := j.file
	rec := Record{Path: f.Path, Source: f.Source, Mtime: f.Mtime, Size: f.Size, Status: StatusOK}
	p := ix.parsers[f.Source]

	var (
		sum *model.SessionSummary
		err error
	)
	if ix.opts.Fast && j.prev < model.LevelFull {
		sum, err = p.ParseFast(f.Path)
	} else {
		var res *parse.Result
		if res, err = p.Parse(f.Path); err == nil {
			sum = &res.Summary
			rec.Instructions = res.Instructions
			if j.prev == model.LevelEnriched {
				if err := enrich(ctx, sum, timeline.BuildTurns(res.Rows)); err != nil {
					return rec, err
				}
			}
		}
	}

	switch {
	case errors.Is(err, parse.ErrExcluded):
		rec.Status = StatusExcluded
		return rec, nil
	case errors.Is(err, parse.ErrIncomplete):
		log.Debug().Str("path", f.Path).Msg("no session identity")
		rec.Status = StatusIncomplete
		return rec, nil
	case err != nil:
		return rec, err
	}
	rec.Summary = sum
	rec.Level = sum.ParseLevel
	return rec, nil
}

// prune deletes records for files that are gone. A full-scope refresh
// drops everything it did not see; a narrower one only drops in-scope
// records whose file no longer exists. Owner only.
func (ix *Index) prune(ctx context.Context, scope scan.Scope, seen map[string]struct{}) (int, error) {
	recs, err := ix.store.FetchAll(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, rec := range recs {
		if _, ok := seen[rec.Path]; ok {
			continue
		}
		if !scope.IsAll() {
			if rec.Summary == nil || !scope.Contains(*rec.Summary) {
				continue
			}
			if _, err := ix.fs.Stat(rec.Path); !errors.Is(err, fs.ErrNotExist) {
				continue
			}
		}
		if err := ix.forget(ctx, rec); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
