// Package index keeps parsed session summaries in sync with the log files
// on disk and serves them to the CLI.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/zhang3xing1/codmate-sub000/internal/aggregate"
	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/parse"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
	"github.com/zhang3xing1/codmate-sub000/internal/timeline"
)

var (
	ErrClosed     = errors.New("index: closed")
	ErrNotIndexed = errors.New("index: not indexed")
)

const (
	DefaultLRUSize = 2048
	maxTitleRunes  = 200
)

type Options struct {
	Roots scan.Roots
	Store Store
	// FS defaults to the real filesystem. Tests inject a parse.CountingFS.
	FS      parse.FS
	Workers int
	// Fast parses new files at metadata level. Files already parsed at
	// full level or above are always re-parsed in full.
	Fast      bool
	FastLines int
	TailBytes int64
	LRUSize   int
	Resolver  *aggregate.HashResolver
}

type cacheKey struct {
	path  string
	mtime int64
}

// Index is the single writer of the record store. Every access to the
// store, the LRU tier and the derived maps runs on one goroutine; callers
// hand it closures through do.
type Index struct {
	opts     Options
	store    Store
	fs       parse.FS
	resolver *aggregate.HashResolver
	parsers  map[model.Source]parse.Parser

	reqs       chan func()
	quit       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	refreshing atomic.Bool

	// owned by run
	recent   *lru.Cache[cacheKey, Record]
	updated  map[string]time.Time
	snapshot []model.SessionSummary
}

func New(ctx context.Context, opts Options) (*Index, error) {
	if opts.Store == nil {
		return nil, errors.New("index: no store")
	}
	if opts.FS == nil {
		opts.FS = parse.OSFS{}
	}
	if opts.Workers <= 0 {
		opts.Workers = max(1, runtime.NumCPU()/2)
	}
	if opts.LRUSize <= 0 {
		opts.LRUSize = DefaultLRUSize
	}
	if opts.Resolver == nil {
		opts.Resolver = aggregate.NewHashResolver()
	}

	recent, err := lru.New[cacheKey, Record](opts.LRUSize)
	if err != nil {
		return nil, err
	}
	ix := &Index{
		opts:     opts,
		store:    opts.Store,
		fs:       opts.FS,
		resolver: opts.Resolver,
		parsers:  map[model.Source]parse.Parser{},
		reqs:     make(chan func()),
		quit:     make(chan struct{}),
		recent:   recent,
		updated:  map[string]time.Time{},
	}
	popts := parse.Options{FS: opts.FS, FastLines: opts.FastLines, TailBytes: opts.TailBytes}
	for _, src := range model.Sources {
		p, err := parse.New(src, popts, opts.Resolver)
		if err != nil {
			return nil, err
		}
		ix.parsers[src] = p
	}

	recs, err := opts.Store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	for _, rec := range recs {
		ix.remember(rec)
	}

	ix.wg.Add(1)
	go ix.run()
	return ix, nil
}

func (ix *Index) run() {
	defer ix.wg.Done()
	for {
		select {
		case fn := <-ix.reqs:
			fn()
		case <-ix.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it.
func (ix *Index) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case ix.reqs <- func() { defer close(done); fn() }:
	case <-ix.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Close stops the owner goroutine and closes the store. Calls made after
// Close fail with ErrClosed.
func (ix *Index) Close() error {
	err := ErrClosed
	ix.closeOnce.Do(func() {
		close(ix.quit)
		ix.wg.Wait()
		err = ix.store.Close()
	})
	return err
}

// remember updates the derived maps for rec. Owner only.
func (ix *Index) remember(rec Record) {
	if rec.Status != StatusOK || rec.Summary == nil {
		delete(ix.updated, rec.Path)
		return
	}
	ix.updated[rec.Path] = rec.Summary.UpdatedAt()
	if rec.Source != model.SourceGemini {
		ix.resolver.Add(rec.Summary.Cwd)
	}
}

// lookup serves f from the LRU tier, then the store. On a miss it reports
// the level of the outdated record, if any. Owner only.
func (ix *Index) lookup(ctx context.Context, f scan.FileInfo) (Record, model.ParseLevel, bool, error) {
	key := cacheKey{path: f.Path, mtime: f.Mtime}
	if rec, ok := ix.recent.Get(key); ok && rec.Size == f.Size {
		return rec, rec.Level, true, nil
	}
	rec, err := ix.store.Fetch(ctx, f.Path, f.Mtime, f.Size)
	if err != nil {
		return Record{}, model.LevelNone, false, err
	}
	if rec != nil {
		ix.recent.Add(key, *rec)
		return *rec, rec.Level, true, nil
	}
	old, err := ix.store.FetchByPath(ctx, f.Path)
	if err != nil || old == nil {
		return Record{}, model.LevelNone, false, err
	}
	return Record{}, old.Level, false, nil
}

// persist writes rec through to the store and the LRU tier. Owner only.
func (ix *Index) persist(ctx context.Context, rec Record) error {
	if err := ix.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("store %s: %w", rec.Path, err)
	}
	ix.recent.Add(cacheKey{path: rec.Path, mtime: rec.Mtime}, rec)
	ix.remember(rec)
	return nil
}

// forget drops every trace of rec. Owner only.
func (ix *Index) forget(ctx context.Context, rec Record) error {
	if err := ix.store.Delete(ctx, rec.Path); err != nil {
		return err
	}
	if id := rec.SessionID(); id != "" {
		if err := ix.store.DeletePreviews(ctx, id); err != nil {
			return err
		}
	}
	ix.recent.Remove(cacheKey{path: rec.Path, mtime: rec.Mtime})
	delete(ix.updated, rec.Path)
	return nil
}

func (ix *Index) record(ctx context.Context, path string) (*Record, error) {
	var (
		rec *Record
		err error
	)
	if derr := ix.do(ctx, func() { rec, err = ix.store.FetchByPath(ctx, path) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNotIndexed)
	}
	if rec.Status != StatusOK {
		return nil, fmt.Errorf("%s (%s): %w", path, rec.Status, ErrNotIndexed)
	}
	return rec, nil
}

// Snapshot returns the result of the last full refresh, or a view built
// from the store when no full refresh has completed yet.
func (ix *Index) Snapshot(ctx context.Context) ([]model.SessionSummary, error) {
	var (
		out []model.SessionSummary
		err error
	)
	derr := ix.do(ctx, func() {
		if ix.snapshot != nil {
			out = slices.Clone(ix.snapshot)
			return
		}
		var recs []Record
		if recs, err = ix.store.FetchAll(ctx); err == nil {
			out = finish(scan.All(), summaries(recs))
		}
	})
	if derr != nil {
		return nil, derr
	}
	return out, err
}

func (ix *Index) Meta(ctx context.Context) (Meta, error) {
	var (
		m   Meta
		err error
	)
	if derr := ix.do(ctx, func() { m, err = ix.store.FetchMeta(ctx) }); derr != nil {
		return Meta{}, derr
	}
	return m, err
}

// ChangedOn lists the files whose session was last updated on day, using
// the in-memory path index only.
func (ix *Index) ChangedOn(ctx context.Context, day time.Time) ([]string, error) {
	start, end := scan.Day(day, scan.DimensionUpdated).Range()
	var out []string
	err := ix.do(ctx, func() {
		for path, t := range ix.updated {
			if !t.Before(start) && t.Before(end) {
				out = append(out, path)
			}
		}
	})
	sort.Strings(out)
	return out, err
}

// DayCounts counts sessions per day of the given month, keyed by day of
// month, matching on the chosen dimension.
func (ix *Index) DayCounts(ctx context.Context, year int, month time.Month, dim scan.Dimension) (map[int]int, error) {
	var (
		recs []Record
		err  error
	)
	if derr := ix.do(ctx, func() { recs, err = ix.store.FetchAll(ctx) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}

	scope := scan.Month(time.Date(year, month, 1, 0, 0, 0, 0, time.Local), dim)
	counts := map[int]int{}
	for _, s := range aggregate.MergeSummaries(summaries(recs)) {
		if !scope.Contains(s) {
			continue
		}
		t := s.StartedAt
		if dim == scan.DimensionUpdated {
			t = s.UpdatedAt()
		}
		counts[t.In(time.Local).Day()]++
	}
	return counts, nil
}

// Enrich re-parses path in full, derives the active duration from its
// turns and stores the result at enriched level.
func (ix *Index) Enrich(ctx context.Context, path string) (*model.SessionSummary, error) {
	rec, err := ix.record(ctx, path)
	if err != nil {
		return nil, err
	}
	info, err := ix.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	mtime, size := info.ModTime().UnixNano(), info.Size()
	if rec.Level == model.LevelEnriched && rec.matches(mtime, size) {
		return rec.Summary, nil
	}

	res, err := ix.parsers[rec.Source].Parse(path)
	if err != nil {
		return nil, err
	}
	tl := timeline.Build(res.Rows)
	sum := res.Summary
	if err := enrich(ctx, &sum, tl.Turns); err != nil {
		return nil, err
	}

	next := Record{
		Path:         path,
		Source:       rec.Source,
		Mtime:        mtime,
		Size:         size,
		Level:        model.LevelEnriched,
		Status:       StatusOK,
		Summary:      &sum,
		Instructions: res.Instructions,
	}
	var perr error
	if err := ix.do(ctx, func() {
		if perr = ix.persist(ctx, next); perr != nil || rec.Source == model.SourceGemini {
			return
		}
		perr = ix.store.UpsertPreview(ctx, Preview{
			SessionID:    sum.ID,
			Signature:    signature([]string{path}, []int64{mtime}, []int64{size}),
			Summary:      sum,
			Paths:        []string{path},
			Turns:        tl.Turns,
			Environment:  tl.Environment,
			LatestTokens: tl.LatestTokens,
		})
	}); err != nil {
		return nil, err
	}
	return &sum, perr
}

// enrich fills the fields only a turn list can give. It requires a
// summary from a full parse.
func enrich(ctx context.Context, sum *model.SessionSummary, turns []model.ConversationTurn) error {
	if sum.ParseLevel < model.LevelFull {
		return fmt.Errorf("enrich %s: summary is only %s", sum.FilePath, sum.ParseLevel)
	}
	d, err := timeline.ActiveDuration(ctx, turns)
	if err != nil {
		return err
	}
	sum.ActiveDuration = d
	if sum.Title == "" {
		sum.Title = firstPrompt(turns)
	}
	sum.ParseLevel = model.LevelEnriched
	return nil
}

func firstPrompt(turns []model.ConversationTurn) string {
	for _, t := range turns {
		if t.UserMessage == nil {
			continue
		}
		title := strings.Join(strings.Fields(t.UserMessage.Text), " ")
		if r := []rune(title); len(r) > maxTitleRunes {
			title = string(r[:maxTitleRunes])
		}
		if title != "" {
			return title
		}
	}
	return ""
}

// Session returns the timeline of a session, merging every segment for
// sharded sources. The result is cached as a preview until one of the
// files changes.
func (ix *Index) Session(ctx context.Context, id string) (*Preview, error) {
	var (
		recs []Record
		err  error
	)
	if derr := ix.do(ctx, func() { recs, err = ix.store.FetchBySession(ctx, id) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotIndexed)
	}
	if recs[0].Source != model.SourceGemini {
		newest := recs[0]
		for _, r := range recs[1:] {
			if r.Summary.UpdatedAt().After(newest.Summary.UpdatedAt()) {
				newest = r
			}
		}
		recs = []Record{newest}
	}
	return ix.preview(ctx, id, recs)
}

// Turns returns the timeline for the session stored at path.
func (ix *Index) Turns(ctx context.Context, path string) (*Preview, error) {
	rec, err := ix.record(ctx, path)
	if err != nil {
		return nil, err
	}
	if rec.Source == model.SourceGemini {
		return ix.Session(ctx, rec.SessionID())
	}
	return ix.preview(ctx, rec.SessionID(), []Record{*rec})
}

func (ix *Index) preview(ctx context.Context, id string, recs []Record) (*Preview, error) {
	paths := make([]string, 0, len(recs))
	for _, r := range recs {
		paths = append(paths, r.Path)
	}
	sort.Strings(paths)
	sig, err := ix.signatureOf(paths)
	if err != nil {
		return nil, err
	}

	var cached *Preview
	if derr := ix.do(ctx, func() { cached, err = ix.store.FetchPreview(ctx, id, sig) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	p, err := ix.build(ctx, id, recs[0].Source, paths)
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	if derr := ix.do(ctx, func() { err = ix.store.UpsertPreview(ctx, *p) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		log.Warn().Err(err).Str("session", id).Msg("failed to cache preview")
	}
	return p, nil
}

func (ix *Index) build(ctx context.Context, id string, src model.Source, paths []string) (*Preview, error) {
	parser := ix.parsers[src]
	segs := make([]aggregate.Segment, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := parser.Parse(path)
		if err != nil {
			return nil, err
		}
		segs = append(segs, aggregate.Segment{Summary: res.Summary, Rows: res.Rows})
	}

	sum, rows := segs[0].Summary, segs[0].Rows
	if src == model.SourceGemini {
		logs, err := aggregate.LoadLogs(ix.fs, aggregate.LogsPath(paths[0]))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Err(err).Str("session", id).Msg("ignoring unreadable logs file")
		}
		var found bool
		for _, s := range aggregate.Merge(segs, logs) {
			if s.Summary.ID == id {
				sum, rows, found = s.Summary, s.Rows, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("session %s has no rows: %w", id, ErrNotIndexed)
		}
	}

	tl := timeline.Build(rows)
	if err := enrich(ctx, &sum, tl.Turns); err != nil {
		return nil, err
	}
	return &Preview{
		SessionID:    id,
		Summary:      sum,
		Paths:        paths,
		Turns:        tl.Turns,
		Environment:  tl.Environment,
		LatestTokens: tl.LatestTokens,
	}, nil
}

func (ix *Index) signatureOf(paths []string) (string, error) {
	mtimes := make([]int64, len(paths))
	sizes := make([]int64, len(paths))
	for i, p := range paths {
		info, err := ix.fs.Stat(p)
		if err != nil {
			return "", err
		}
		mtimes[i], sizes[i] = info.ModTime().UnixNano(), info.Size()
	}
	return signature(paths, mtimes, sizes), nil
}

func signature(paths []string, mtimes, sizes []int64) string {
	parts := make([]string, len(paths))
	for i := range paths {
		parts[i] = fmt.Sprintf("%s:%d:%d", paths[i], mtimes[i], sizes[i])
	}
	return strings.Join(parts, "|")
}

// LatestTokenUsage reads the newest usage record from the tail of path
// without parsing the rest of the file.
func (ix *Index) LatestTokenUsage(ctx context.Context, path string) (parse.TokenSnapshot, bool, error) {
	src, ok := ix.opts.Roots.SourceOf(path)
	if !ok {
		rec, err := ix.record(ctx, path)
		if err != nil {
			return parse.TokenSnapshot{}, false, err
		}
		src = rec.Source
	}
	return ix.parsers[src].TailTokenUsage(path)
}

// FileContains reports whether path contains term, ignoring case.
func (ix *Index) FileContains(ctx context.Context, path, term string) (bool, error) {
	return parse.FileContains(ctx, ix.fs, path, term)
}

// FileMatch is FileContains plus an excerpt around the first match.
func (ix *Index) FileMatch(ctx context.Context, path, term string) (string, bool, error) {
	return parse.FileMatch(ctx, ix.fs, path, term)
}

// SessionMatch searches every file behind a listed session: all segments
// of a merged Gemini session, the single log file otherwise. Unreadable
// segments are skipped; the first such error is returned when nothing
// matched.
func (ix *Index) SessionMatch(ctx context.Context, s model.SessionSummary, term string) (string, bool, error) {
	paths := []string{s.FilePath}
	if s.Source == model.SourceGemini && s.SegmentCount > 1 {
		var (
			recs []Record
			err  error
		)
		if derr := ix.do(ctx, func() { recs, err = ix.store.FetchBySession(ctx, s.ID) }); derr != nil {
			return "", false, derr
		}
		if err != nil {
			return "", false, err
		}
		var rest []string
		for _, r := range recs {
			if r.Source == model.SourceGemini && r.Path != s.FilePath {
				rest = append(rest, r.Path)
			}
		}
		sort.Strings(rest)
		paths = append(paths, rest...)
	}

	var firstErr error
	for _, path := range paths {
		excerpt, ok, err := ix.FileMatch(ctx, path, term)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return excerpt, true, nil
		}
	}
	return "", false, firstErr
}

// summaries extracts the usable summaries from recs.
func summaries(recs []Record) []model.SessionSummary {
	out := make([]model.SessionSummary, 0, len(recs))
	for _, r := range recs {
		if r.Status == StatusOK && r.Summary != nil {
			out = append(out, *r.Summary)
		}
	}
	return out
}

// finish merges segments, applies scope and orders newest first.
func finish(scope scan.Scope, sums []model.SessionSummary) []model.SessionSummary {
	merged := aggregate.MergeSummaries(sums)
	out := make([]model.SessionSummary, 0, len(merged))
	for _, s := range merged {
		if scope.Contains(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].UpdatedAt(), out[j].UpdatedAt()
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}
