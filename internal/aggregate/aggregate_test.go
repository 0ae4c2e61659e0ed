package aggregate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/parse"
	"github.com/zhang3xing1/codmate-sub000/internal/timeline"
)

var t0 = time.Date(2025, 10, 3, 8, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func user(seq, sec int, text string) model.Row {
	return model.Row{Seq: seq, Timestamp: at(sec), Payload: model.EventMsg{Type: "user_message", Message: text}}
}

func reply(seq, sec int, text string) model.Row {
	return model.Row{Seq: seq, Timestamp: at(sec), Payload: model.EventMsg{Type: "agent_message", Message: text}}
}

func TestDedupeUserRowsWithinWindow(t *testing.T) {
	rows := DedupeUserRows([]model.Row{user(0, 0, "run tests"), user(1, 2, "run  tests ")}, DefaultWindow)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].RepeatCount)
}

func TestDedupeUserRowsOutsideWindow(t *testing.T) {
	rows := DedupeUserRows([]model.Row{user(0, 0, "run tests"), user(1, 10, "run tests")}, DefaultWindow)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Repeats())
	assert.Equal(t, 1, rows[1].Repeats())
}

func TestDedupeLeavesOtherRowsAlone(t *testing.T) {
	rows := DedupeUserRows([]model.Row{reply(0, 0, "ok"), reply(1, 1, "ok"), user(2, 2, "next")}, DefaultWindow)
	assert.Len(t, rows, 3)
}

func segment(id, path string, start, updated int, tokens model.TokenUsage, rows ...model.Row) Segment {
	return Segment{
		Summary: model.SessionSummary{
			ID: id, Source: model.SourceGemini, FilePath: path,
			StartedAt: at(start), EndedAt: at(updated), LastUpdatedAt: at(updated),
			Tokens: tokens, ParseLevel: model.LevelFull, Cwd: "/proj",
		},
		Rows: rows,
	}
}

func TestMergeSegments(t *testing.T) {
	first := segment("g", "/tmp/a.json", 0, 5, model.TokenUsage{Total: 100, Input: 60, Output: 40},
		user(0, 0, "build it"), reply(1, 3, "built"))
	second := segment("g", "/tmp/b.json", 20, 30, model.TokenUsage{Total: 50, Input: 30, Output: 15, CacheRead: 5},
		user(0, 20, "ship it"), reply(1, 25, "shipped"))
	logs := map[string][]model.Row{"g": {user(0, 1, "build it"), user(1, 20, "ship it")}}

	sessions := Merge([]Segment{second, first}, logs)
	require.Len(t, sessions, 1)
	s := sessions[0]

	assert.Equal(t, []string{"/tmp/a.json", "/tmp/b.json"}, s.Paths)
	assert.Equal(t, "/tmp/b.json", s.Summary.FilePath, "most recently updated segment represents the session")
	assert.Equal(t, 2, s.Summary.SegmentCount)
	assert.Equal(t, at(0), s.Summary.StartedAt)
	assert.Equal(t, at(30), s.Summary.EndedAt)
	assert.Equal(t, model.TokenUsage{Total: 150, Input: 90, Output: 55, CacheRead: 5}, s.Summary.Tokens)

	turns := timeline.BuildTurns(s.Rows)
	require.Len(t, turns, 2)
	assert.Equal(t, "build it", turns[0].UserMessage.Text)
	assert.Equal(t, 2, turns[0].UserMessage.RepeatCount)
	assert.Equal(t, 2, s.Summary.UserMessageCount)
}

func TestMergeDropsEmptySessions(t *testing.T) {
	sessions := Merge([]Segment{segment("empty", "/tmp/e.json", 0, 1, model.TokenUsage{})}, nil)
	assert.Empty(t, sessions)
}

func TestMergeSummaries(t *testing.T) {
	codex := model.SessionSummary{ID: "c", Source: model.SourceCodex, FilePath: "/c.jsonl"}
	a := segment("g", "/a.json", 0, 5, model.TokenUsage{Total: 10}).Summary
	b := segment("g", "/b.json", 10, 40, model.TokenUsage{Total: 5}).Summary
	b.ParseLevel = model.LevelMetadata
	a.UserMessageCount, b.UserMessageCount = 2, 3

	out := MergeSummaries([]model.SessionSummary{a, codex, b})
	require.Len(t, out, 2)
	assert.Equal(t, "g", out[0].ID)
	assert.Equal(t, int64(15), out[0].Tokens.Total)
	assert.Equal(t, 5, out[0].UserMessageCount)
	assert.Equal(t, "/b.json", out[0].FilePath)
	assert.Equal(t, model.LevelMetadata, out[0].ParseLevel)
	assert.Equal(t, codex, out[1])
}

func TestLoadLogs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "abc")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chats"), 0o755))
	path := filepath.Join(dir, LogsFileName)
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"sessionId":"g","messageId":1,"type":"user","message":"second","timestamp":"2025-10-03T08:00:05Z"},
  {"sessionId":"g","messageId":0,"type":"user","message":"first","timestamp":"2025-10-03T08:00:00Z"},
  {"sessionId":"h","messageId":0,"type":"user","message":"other","timestamp":"2025-10-03T09:00:00Z"}
]`), 0o644))

	assert.Equal(t, path, LogsPath(filepath.Join(dir, "chats", "session-1.json")))

	logs, err := LoadLogs(parse.OSFS{}, path)
	require.NoError(t, err)
	require.Len(t, logs["g"], 2)
	assert.Equal(t, "first", logs["g"][0].Payload.(model.EventMsg).Message)
	assert.Len(t, logs["h"], 1)
}

func TestHashResolver(t *testing.T) {
	r := NewHashResolver("/home/me/proj", "")
	p, ok := r.Resolve(ProjectHash("/home/me/proj"))
	require.True(t, ok)
	assert.Equal(t, "/home/me/proj", p)

	_, ok = r.Resolve(ProjectHash("/elsewhere"))
	assert.False(t, ok)
	r.Add("/elsewhere/")
	p, ok = r.Resolve(ProjectHash("/elsewhere"))
	assert.True(t, ok)
	assert.Equal(t, "/elsewhere", p)
	assert.Equal(t, 2, r.Len())
}
