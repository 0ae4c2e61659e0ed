package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func paths(files []FileInfo) []string {
	var out []string
	for _, f := range files {
		out = append(out, filepath.Base(f.Path))
	}
	return out
}

func TestScanRoots(t *testing.T) {
	dir := t.TempDir()
	roots := Roots{
		Codex:  filepath.Join(dir, "codex"),
		Claude: filepath.Join(dir, "claude"),
		Gemini: filepath.Join(dir, "gemini"),
	}
	oct1 := time.Date(2025, 10, 1, 12, 0, 0, 0, time.Local)
	oct5 := time.Date(2025, 10, 5, 12, 0, 0, 0, time.Local)

	touch(t, filepath.Join(roots.Codex, "2025", "10", "01", "rollout-a.jsonl"), oct1)
	touch(t, filepath.Join(roots.Codex, "2025", "10", "01", "rollout-b.jsonl"), oct5) // resumed later
	touch(t, filepath.Join(roots.Codex, "2025", "10", "05", "rollout-c.jsonl"), oct5)
	touch(t, filepath.Join(roots.Claude, "-proj", "s1.jsonl"), oct1)
	touch(t, filepath.Join(roots.Claude, "-proj", "agent-x.jsonl"), oct1)
	touch(t, filepath.Join(roots.Claude, "-proj", "subagents", "s2.jsonl"), oct1)
	touch(t, filepath.Join(roots.Gemini, "abc", "chats", "session-1.json"), oct5)
	touch(t, filepath.Join(roots.Gemini, "abc", "logs.json"), oct5)

	all, err := ScanRoots(roots, All())
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"rollout-a.jsonl", "rollout-b.jsonl", "rollout-c.jsonl", "s1.jsonl", "session-1.json"},
		paths(all))
	for _, f := range all {
		if filepath.Base(f.Path) == "session-1.json" {
			assert.Equal(t, model.SourceGemini, f.Source)
			assert.Equal(t, oct5.UnixNano(), f.Mtime)
		}
	}

	created, err := ScanRoots(roots, Day(oct5, DimensionCreated))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rollout-c.jsonl", "session-1.json"}, paths(created))

	updated, err := ScanRoots(roots, Day(oct5, DimensionUpdated))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rollout-b.jsonl", "rollout-c.jsonl", "session-1.json"}, paths(updated))
}

func TestScanMissingRoot(t *testing.T) {
	files, err := ScanRoots(Roots{Codex: filepath.Join(t.TempDir(), "nope")}, All())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScopeContains(t *testing.T) {
	oct1 := time.Date(2025, 10, 1, 9, 0, 0, 0, time.Local)
	sum := model.SessionSummary{StartedAt: oct1, EndedAt: oct1.Add(time.Hour), LastUpdatedAt: oct1.AddDate(0, 0, 2)}

	assert.True(t, All().Contains(sum))
	assert.True(t, Day(oct1, DimensionCreated).Contains(sum))
	assert.False(t, Day(oct1, DimensionUpdated).Contains(sum))
	assert.True(t, Day(oct1.AddDate(0, 0, 2), DimensionUpdated).Contains(sum))
	assert.True(t, Month(oct1, DimensionCreated).Contains(sum))
	assert.False(t, Month(oct1.AddDate(0, 1, 0), DimensionCreated).Contains(sum))
	assert.True(t, CalendarDay(oct1.AddDate(0, 0, 1)).Contains(sum), "active across the middle day")
	assert.False(t, CalendarDay(oct1.AddDate(0, 0, 3)).Contains(sum))
}

func TestSourceOf(t *testing.T) {
	roots := Roots{Codex: "/r/codex", Claude: "/r/claude"}
	src, ok := roots.SourceOf("/r/claude/p/s.jsonl")
	assert.True(t, ok)
	assert.Equal(t, model.SourceClaude, src)
	_, ok = roots.SourceOf("/elsewhere/s.jsonl")
	assert.False(t, ok)
}
