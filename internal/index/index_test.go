package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhang3xing1/codmate-sub000/internal/aggregate"
	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/parse"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
)

const (
	codexID  = "0199a000-0000-7000-8000-000000000001"
	claudeID = "5f0c1b2e-8d1a-4c4e-9f3a-2b1c0d9e8f7a"
)

func codexLines(prompt string) []string {
	return []string{
		`{"timestamp":"2025-10-01T12:00:00.000Z","type":"session_meta","payload":{"id":"` + codexID + `","cwd":"/work/app","originator":"codex_cli_rs","cli_version":"0.42.0"}}`,
		`{"timestamp":"2025-10-01T12:00:01.000Z","type":"event_msg","payload":{"type":"user_message","message":"` + prompt + `"}}`,
		`{"timestamp":"2025-10-01T12:00:05.000Z","type":"event_msg","payload":{"type":"agent_message","message":"done"}}`,
		`{"timestamp":"2025-10-01T12:00:06.000Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":100,"cached_input_tokens":40,"output_tokens":20,"total_tokens":120}}}}`,
	}
}

var claudeLines = []string{
	`{"type":"user","sessionId":"` + claudeID + `","cwd":"/p","version":"2.0.1","timestamp":"2025-10-02T09:00:01Z","uuid":"u1","message":{"role":"user","content":"refactor the parser"}}`,
	`{"type":"assistant","sessionId":"` + claudeID + `","cwd":"/p","timestamp":"2025-10-02T09:00:04Z","uuid":"a1","message":{"id":"msg_1","role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"On it."}],"usage":{"input_tokens":10,"output_tokens":5}}}`,
}

type fixture struct {
	t      *testing.T
	roots  scan.Roots
	dbPath string
	fs     *parse.CountingFS
	codex  string
	claude string
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	f := &fixture{
		t: t,
		roots: scan.Roots{
			Codex:  filepath.Join(dir, "codex"),
			Claude: filepath.Join(dir, "claude"),
			Gemini: filepath.Join(dir, "gemini"),
		},
		dbPath: filepath.Join(dir, "db", "index.db"),
		fs:     parse.NewCountingFS(parse.OSFS{}),
	}
	f.codex = filepath.Join(f.roots.Codex, "2025", "10", "01", "rollout-2025-10-01T12-00-00-"+codexID+".jsonl")
	f.claude = filepath.Join(f.roots.Claude, "-p", claudeID+".jsonl")
	f.write(f.codex, codexLines("fix the bug")...)
	f.write(f.claude, claudeLines...)
	return f
}

func (f *fixture) write(path string, lines ...string) {
	f.t.Helper()
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// bump moves the mtime forward so a rewrite is seen as a change even on
// coarse-grained filesystems.
func (f *fixture) bump(path string) {
	f.t.Helper()
	later := time.Now().Add(time.Minute)
	require.NoError(f.t, os.Chtimes(path, later, later))
}

func (f *fixture) open(mutate ...func(*Options)) *Index {
	f.t.Helper()
	store, err := OpenSQLite(f.dbPath)
	require.NoError(f.t, err)
	opts := Options{Roots: f.roots, Store: store, FS: f.fs, Workers: 2}
	for _, m := range mutate {
		m(&opts)
	}
	ix, err := New(context.Background(), opts)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func byID(sums []model.SessionSummary) map[string]model.SessionSummary {
	out := map[string]model.SessionSummary{}
	for _, s := range sums {
		out[s.ID] = s
	}
	return out
}

func TestRefreshServesUnchangedFilesWithoutReading(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	ctx := context.Background()

	first, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	require.Len(t, first, 2)
	reads := f.fs.Reads()
	assert.Positive(t, reads)

	second, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	assert.Equal(t, reads, f.fs.Reads(), "unchanged files must not be read again")
	assert.Equal(t, first, second)

	// a fresh index over the same store hits the durable tier
	require.NoError(t, ix.Close())
	f.fs = parse.NewCountingFS(parse.OSFS{})
	reopened := f.open()
	third, err := reopened.Refresh(ctx, scan.All())
	require.NoError(t, err)
	assert.Zero(t, f.fs.Reads())
	assert.Equal(t, first, third)
}

func TestRefreshOrdersNewestFirst(t *testing.T) {
	f := newFixture(t)
	sums, err := f.open().Refresh(context.Background(), scan.All())
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, claudeID, sums[0].ID)
	assert.Equal(t, codexID, sums[1].ID)
}

func TestRefreshReparsesChangedFile(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	ctx := context.Background()

	_, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)

	f.write(f.codex, codexLines("fix the other bug")...)
	f.bump(f.codex)
	reads := f.fs.Reads()

	sums, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	assert.Equal(t, "fix the other bug", byID(sums)[codexID].Title)
	assert.Equal(t, reads+1, f.fs.Reads(), "only the changed file is read")
}

func TestRefreshPrunesDeletedFiles(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	ctx := context.Background()

	_, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.claude))

	sums, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, codexID, sums[0].ID)

	meta, err := ix.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.RecordCount)
	assert.Equal(t, 1, meta.SessionCount)
	assert.Equal(t, schemaVersion, meta.SchemaVersion)
}

func TestScopedRefreshKeepsOutOfScopeRecords(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	ctx := context.Background()

	all, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	codex := byID(all)[codexID]

	day, err := ix.Refresh(ctx, scan.Day(codex.StartedAt, scan.DimensionCreated))
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, codexID, day[0].ID)

	meta, err := ix.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.RecordCount)
}

func TestRefreshRemembersUnusableFiles(t *testing.T) {
	f := newFixture(t)
	f.write(filepath.Join(f.roots.Claude, "-p", "anon.jsonl"),
		`{"type":"user","cwd":"/p","timestamp":"2025-10-02T09:00:01Z","message":{"role":"user","content":"hi"}}`)
	ix := f.open()
	ctx := context.Background()

	sums, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	assert.Len(t, sums, 2)
	reads := f.fs.Reads()

	_, err = ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	assert.Equal(t, reads, f.fs.Reads())

	meta, err := ix.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.RecordCount)
}

// failingFS fails every content read of the paths fail selects.
type failingFS struct {
	parse.FS
	fail func(path string) bool
}

var errInjected = errors.New("injected read failure")

func (f failingFS) ReadFile(path string) ([]byte, func(), error) {
	if f.fail(path) {
		return nil, func() {}, errInjected
	}
	return f.FS.ReadFile(path)
}

func (f failingFS) ReadRange(path string, off, n int64) ([]byte, error) {
	if f.fail(path) {
		return nil, errInjected
	}
	return f.FS.ReadRange(path, off, n)
}

func TestRefreshErrorPolicy(t *testing.T) {
	t.Run("partial failure is absorbed", func(t *testing.T) {
		f := newFixture(t)
		ix := f.open(func(o *Options) {
			o.FS = failingFS{FS: parse.OSFS{}, fail: func(p string) bool { return strings.Contains(p, claudeID) }}
		})
		sums, err := ix.Refresh(context.Background(), scan.All())
		require.NoError(t, err)
		require.Len(t, sums, 1)
		assert.Equal(t, codexID, sums[0].ID)
	})

	t.Run("total failure surfaces the first error", func(t *testing.T) {
		f := newFixture(t)
		ix := f.open(func(o *Options) {
			o.FS = failingFS{FS: parse.OSFS{}, fail: func(string) bool { return true }}
		})
		sums, err := ix.Refresh(context.Background(), scan.All())
		assert.ErrorIs(t, err, errInjected)
		assert.Empty(t, sums)
	})
}

func TestFastModeNeverDemotesFullRecords(t *testing.T) {
	f := newFixture(t)
	ix := f.open(func(o *Options) { o.Fast = true })
	ctx := context.Background()

	sums, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	assert.Equal(t, model.LevelMetadata, byID(sums)[codexID].ParseLevel)

	enriched, err := ix.Enrich(ctx, f.codex)
	require.NoError(t, err)
	assert.Equal(t, model.LevelEnriched, enriched.ParseLevel)
	assert.Equal(t, 4*time.Second, enriched.ActiveDuration)

	f.write(f.codex, codexLines("again")...)
	f.bump(f.codex)
	sums, err = ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	got := byID(sums)[codexID]
	assert.Equal(t, model.LevelEnriched, got.ParseLevel)
	assert.Equal(t, "again", got.Title)
}

func TestEnrichUnknownPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.open().Enrich(context.Background(), filepath.Join(f.roots.Codex, "nope.jsonl"))
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestReentrantFullRefreshServesSnapshot(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	ctx := context.Background()

	first, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)

	ix.refreshing.Store(true)
	defer ix.refreshing.Store(false)
	f.write(filepath.Join(f.roots.Claude, "-q", "1d2e3f40-0000-4000-8000-000000000009.jsonl"), claudeLines...)
	reads := f.fs.Reads()

	got, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, reads, f.fs.Reads())
}

func TestTurnsUsesPreviewCache(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	ctx := context.Background()
	_, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)

	p, err := ix.Turns(ctx, f.claude)
	require.NoError(t, err)
	require.Len(t, p.Turns, 1)
	assert.Equal(t, "refactor the parser", p.Turns[0].UserMessage.Text)
	assert.Equal(t, model.LevelEnriched, p.Summary.ParseLevel)
	reads := f.fs.Reads()

	again, err := ix.Session(ctx, claudeID)
	require.NoError(t, err)
	assert.Equal(t, reads, f.fs.Reads())
	require.Len(t, again.Turns, 1)
	assert.Equal(t, p.Turns[0].ID, again.Turns[0].ID)
}

func TestGeminiSegmentsMergeIntoOneSession(t *testing.T) {
	f := newFixture(t)
	project := filepath.Join(f.roots.Gemini, "abc")
	f.write(filepath.Join(project, "chats", "session-a.jsonl"),
		`{"sessionId":"g1","id":"m1","timestamp":"2025-10-03T08:00:00Z","type":"user","content":"hello"}`,
		`{"sessionId":"g1","id":"m2","timestamp":"2025-10-03T08:00:02Z","type":"gemini","content":"hi","tokens":{"input":10,"output":2,"total":12}}`,
	)
	f.write(filepath.Join(project, "chats", "session-b.jsonl"),
		`{"sessionId":"g1","id":"m3","timestamp":"2025-10-03T08:01:00Z","type":"user","content":"next"}`,
		`{"sessionId":"g1","id":"m4","timestamp":"2025-10-03T08:01:03Z","type":"gemini","content":"done","tokens":{"input":20,"output":3,"total":23}}`,
	)
	require.NoError(t, os.WriteFile(filepath.Join(project, aggregate.LogsFileName),
		[]byte(`[{"sessionId":"g1","messageId":0,"type":"user","message":"hello","timestamp":"2025-10-03T08:00:01Z"}]`), 0o644))

	ix := f.open()
	ctx := context.Background()
	sums, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	require.Len(t, sums, 3)

	g := byID(sums)["g1"]
	assert.Equal(t, 2, g.SegmentCount)
	assert.Equal(t, int64(35), g.Tokens.Total)

	p, err := ix.Session(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, p.Paths, 2)
	require.Len(t, p.Turns, 2, "the logged repeat of the first prompt is folded")
	assert.Equal(t, "next", p.Turns[1].UserMessage.Text)

	for _, term := range []string{"HELLO", "next"} {
		_, ok, err := ix.SessionMatch(ctx, g, term)
		require.NoError(t, err)
		assert.True(t, ok, "every segment is searched for %q", term)
	}
	_, ok, err := ix.SessionMatch(ctx, g, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChangedOnAndDayCounts(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	ctx := context.Background()
	sums, err := ix.Refresh(ctx, scan.All())
	require.NoError(t, err)
	codex := byID(sums)[codexID]

	paths, err := ix.ChangedOn(ctx, codex.UpdatedAt())
	require.NoError(t, err)
	assert.Contains(t, paths, f.codex)

	start := codex.StartedAt.In(time.Local)
	counts, err := ix.DayCounts(ctx, start.Year(), start.Month(), scan.DimensionCreated)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[start.Day()], 1)
}

func TestLatestTokenUsage(t *testing.T) {
	f := newFixture(t)
	snap, ok, err := f.open().LatestTokenUsage(context.Background(), f.codex)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(120), snap.Usage.Total)
}

func TestClosedIndex(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	require.NoError(t, ix.Close())

	_, err := ix.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ix.Close(), ErrClosed)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)

	sum := &model.SessionSummary{ID: "s1", Source: model.SourceCodex, FilePath: "/a", ParseLevel: model.LevelFull}
	require.NoError(t, store.Upsert(ctx, Record{Path: "/a", Source: model.SourceCodex, Mtime: 1, Size: 2, Level: model.LevelFull, Status: StatusOK, Summary: sum}))
	require.NoError(t, store.Upsert(ctx, Record{Path: "/b", Source: model.SourceClaude, Mtime: 1, Size: 2, Status: StatusExcluded}))

	rec, err := store.Fetch(ctx, "/a", 1, 2)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, *sum, *rec.Summary)

	rec, err = store.Fetch(ctx, "/a", 1, 3)
	require.NoError(t, err)
	assert.Nil(t, rec, "size mismatch is a miss")

	bySession, err := store.FetchBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, bySession, 1)

	require.NoError(t, store.UpsertPreview(ctx, Preview{SessionID: "s1", Signature: "sig", Summary: *sum}))
	p, err := store.FetchPreview(ctx, "s1", "sig")
	require.NoError(t, err)
	require.NotNil(t, p)
	p, err = store.FetchPreview(ctx, "s1", "other")
	require.NoError(t, err)
	assert.Nil(t, p)

	// a schema change invalidates every signature and preview
	_, err = store.db.Exec("UPDATE meta SET value = 'old' WHERE key = 'schema_version'")
	require.NoError(t, err)
	require.NoError(t, store.Close())
	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	rec, err = store.Fetch(ctx, "/a", 1, 2)
	require.NoError(t, err)
	assert.Nil(t, rec)
	meta, err := store.FetchMeta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.RecordCount)
	assert.Zero(t, meta.PreviewCount)
}

func TestWatcherRefreshesOnceAfterBurst(t *testing.T) {
	f := newFixture(t)
	ix := f.open()
	_, err := ix.Refresh(context.Background(), scan.All())
	require.NoError(t, err)

	const debounce = 200 * time.Millisecond
	w, err := NewWatcher(ix, debounce)
	require.NoError(t, err)
	refreshed := make(chan []model.SessionSummary, 4)
	w.OnRefresh = func(sums []model.SessionSummary, err error) {
		assert.NoError(t, err)
		refreshed <- sums
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// the day directory does not exist yet
	newID := "0199a000-0000-7000-8000-0000000000ff"
	path := filepath.Join(f.roots.Codex, "2025", "10", "02", "rollout-2025-10-02T08-00-00-"+newID+".jsonl")
	lines := codexLines("watch me")
	lines[0] = strings.Replace(lines[0], codexID, newID, 1)
	f.write(path, lines...)

	var sums []model.SessionSummary
	select {
	case sums = <-refreshed:
	case <-time.After(5 * time.Second):
		t.Fatal("no refresh after change")
	}
	ids := make([]string, 0, len(sums))
	for _, s := range sums {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, newID)

	select {
	case <-refreshed:
		t.Fatal("burst of events caused a second refresh")
	case <-time.After(3 * debounce):
	}
}

func TestRelevantEvents(t *testing.T) {
	for name, want := range map[string]bool{
		"/r/a.jsonl": true,
		"/r/a.json":  true,
		"/r/2025":    true,
		"/r/a.tmp":   false,
	} {
		assert.Equal(t, want, relevant(fsnotify.Event{Name: name, Op: fsnotify.Write}), name)
	}
	assert.False(t, relevant(fsnotify.Event{Name: "/r/a.jsonl", Op: fsnotify.Chmod}))
}
