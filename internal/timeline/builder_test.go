package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func userRow(seq, sec int, text string) model.Row {
	return model.Row{Seq: seq, Timestamp: at(sec), Payload: model.EventMsg{Type: "user_message", Message: text}}
}

func assistantRow(seq, sec int, text string) model.Row {
	return model.Row{Seq: seq, Timestamp: at(sec), Payload: model.EventMsg{Type: "agent_message", Message: text}}
}

func toolCallRow(seq, sec int, callID, name string, args model.JSON) model.Row {
	return model.Row{Seq: seq, Timestamp: at(sec), Payload: model.ResponseItem{
		Type: model.ItemToolCall, Name: name, CallID: callID, Arguments: args,
	}}
}

func toolOutputRow(seq, sec int, callID, output string) model.Row {
	return model.Row{Seq: seq, Timestamp: at(sec), Payload: model.ResponseItem{
		Type: model.ItemToolOutput, CallID: callID, Output: output,
	}}
}

func TestBuildTurnsSingleExchange(t *testing.T) {
	turns := BuildTurns([]model.Row{userRow(0, 0, "hi"), assistantRow(1, 1, "hello")})

	require.Len(t, turns, 1)
	require.NotNil(t, turns[0].UserMessage)
	assert.Equal(t, "hi", turns[0].UserMessage.Text)
	require.Len(t, turns[0].Outputs, 1)
	assert.Equal(t, "hello", turns[0].Outputs[0].Text)
}

func TestBuildTurnsOrdersByTimestampThenSequence(t *testing.T) {
	rows := []model.Row{
		assistantRow(2, 5, "second answer"),
		userRow(0, 0, "first"),
		assistantRow(1, 1, "first answer"),
		userRow(3, 5, "second"),
	}
	turns := BuildTurns(rows)

	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].UserMessage.Text)
	// equal timestamps keep source order: the assistant row (seq 2) lands
	// in the first turn before the user row (seq 3) opens the second
	assert.Len(t, turns[0].Outputs, 2)
	assert.Equal(t, "second", turns[1].UserMessage.Text)
	assert.Empty(t, turns[1].Outputs)
}

func TestBuildTurnsDropsInvalidRows(t *testing.T) {
	rows := []model.Row{
		{Seq: 0, Payload: model.EventMsg{Type: "user_message", Message: "no timestamp"}},
		{Seq: 1, Timestamp: at(0), Payload: model.Unknown{Type: "mystery"}},
		userRow(2, 1, "kept"),
	}
	turns := BuildTurns(rows)
	require.Len(t, turns, 1)
	assert.Equal(t, "kept", turns[0].UserMessage.Text)
}

func TestToolPairing(t *testing.T) {
	args := model.ObjectJSON(map[string]model.JSON{"command": model.ArrayJSON(model.StringJSON("ls"), model.StringJSON("-la"))})
	rows := []model.Row{
		userRow(0, 0, "list files"),
		toolCallRow(1, 1, "x", "shell", args),
		toolOutputRow(2, 2, "x", "README.md\ngo.mod"),
	}
	turns := BuildTurns(rows)

	require.Len(t, turns, 1)
	require.Len(t, turns[0].Outputs, 1)
	out := turns[0].Outputs[0]
	assert.Equal(t, "x", out.CallID)
	assert.Contains(t, out.Text, "ls -la")
	assert.Contains(t, out.Text, "README.md")
	assert.Equal(t, model.KindToolCall, out.Kind)
}

func TestToolPairingSkipsOutputAlreadyInCall(t *testing.T) {
	rows := []model.Row{
		toolCallRow(0, 0, "y", "echo", model.StringJSON("echo done")),
		toolOutputRow(1, 1, "y", "done"),
	}
	turns := BuildTurns(rows)
	require.Len(t, turns, 1)
	assert.Equal(t, "echo done", turns[0].Outputs[0].Text)
	assert.Nil(t, turns[0].UserMessage, "system-only turn is still emitted")
}

func TestCodeEditClassification(t *testing.T) {
	edit := model.ObjectJSON(map[string]model.JSON{
		"file_path":  model.StringJSON("main.go"),
		"old_string": model.StringJSON("a"),
		"new_string": model.StringJSON("b"),
	})
	read := model.ObjectJSON(map[string]model.JSON{"file_path": model.StringJSON("main.go")})
	patch := model.StringJSON("*** Begin Patch\n*** Update File: main.go\n@@\n-a\n+b\n*** End Patch")

	rows := []model.Row{
		userRow(0, 0, "fix it"),
		toolCallRow(1, 1, "e", "Edit", edit),
		toolCallRow(2, 2, "r", "Read", read),
		toolCallRow(3, 3, "p", "apply_patch", patch),
	}
	outs := BuildTurns(rows)[0].Outputs
	require.Len(t, outs, 3)
	assert.Equal(t, model.KindCodeEdit, outs[0].Kind)
	assert.Equal(t, model.KindToolCall, outs[1].Kind)
	assert.Equal(t, model.KindCodeEdit, outs[2].Kind)
}

func TestCollapseRepeats(t *testing.T) {
	rows := []model.Row{
		userRow(0, 0, "go"),
		assistantRow(1, 1, "working"),
		assistantRow(2, 2, "  working "),
		assistantRow(3, 3, "done"),
	}
	outs := BuildTurns(rows)[0].Outputs
	require.Len(t, outs, 2)
	assert.Equal(t, 2, outs[0].RepeatCount)
	assert.Equal(t, 1, outs[1].RepeatCount)
}

func userItemRow(seq, sec int, text string) model.Row {
	return model.Row{Seq: seq, Timestamp: at(sec), Payload: model.ResponseItem{Type: model.ItemMessage, Role: "user", Text: text}}
}

func TestCollapseRepeatsCountsVocabularyTwinsOnce(t *testing.T) {
	turns := BuildTurns([]model.Row{
		userItemRow(0, 0, "go"),
		userRow(1, 0, "go"),
		assistantRow(2, 1, "ok"),
		{Seq: 3, Timestamp: at(1), Payload: model.ResponseItem{Type: model.ItemMessage, Role: "assistant", Text: "ok"}},
	})
	require.Len(t, turns, 1)
	assert.Equal(t, 1, turns[0].UserMessage.RepeatCount)
	require.Len(t, turns[0].Outputs, 1)
	assert.Equal(t, 1, turns[0].Outputs[0].RepeatCount)

	// a prompt really sent twice, each logged in both vocabularies
	outs := BuildTurns([]model.Row{
		userRow(0, 0, "go"),
		assistantRow(1, 1, "retry"),
		{Seq: 2, Timestamp: at(1), Payload: model.ResponseItem{Type: model.ItemMessage, Role: "assistant", Text: "retry"}},
		assistantRow(3, 2, "retry"),
		{Seq: 4, Timestamp: at(2), Payload: model.ResponseItem{Type: model.ItemMessage, Role: "assistant", Text: "retry"}},
	})[0].Outputs
	require.Len(t, outs, 1)
	assert.Equal(t, 2, outs[0].RepeatCount)
}

func TestEnvironmentContextExtracted(t *testing.T) {
	env := "<environment_context>\n  <cwd>/work/app</cwd>\n  <approval_policy>on-request</approval_policy>\n</environment_context>"
	tl := Build([]model.Row{
		{Seq: 0, Timestamp: at(0), Payload: model.ResponseItem{Type: model.ItemMessage, Role: "user", Text: env}},
		userRow(1, 1, "hi"),
		assistantRow(2, 2, "hello"),
	})

	require.Len(t, tl.Environment, 1)
	assert.Equal(t, "/work/app", tl.Environment[0].Metadata["cwd"])
	assert.Equal(t, model.KindEnvironmentContext, tl.Environment[0].Kind)
	require.Len(t, tl.Turns, 1)
	assert.Equal(t, "hi", tl.Turns[0].UserMessage.Text)
}

func TestEnvironmentContextKeepsRemainingProse(t *testing.T) {
	text := "please help\n<environment_context><cwd>/w</cwd></environment_context>"
	tl := Build([]model.Row{userRow(0, 0, text)})

	require.Len(t, tl.Environment, 1)
	require.Len(t, tl.Turns, 1)
	assert.Equal(t, "please help", tl.Turns[0].UserMessage.Text)
}

func TestTurnBoundaryFlushes(t *testing.T) {
	rows := []model.Row{
		userRow(0, 0, "start"),
		assistantRow(1, 1, "a"),
		{Seq: 2, Timestamp: at(2), Payload: model.EventMsg{Type: "turn_aborted", Reason: "interrupted"}},
		assistantRow(3, 3, "background note"),
	}
	turns := BuildTurns(rows)
	require.Len(t, turns, 2)
	assert.Nil(t, turns[1].UserMessage)
	assert.Equal(t, "background note", turns[1].Outputs[0].Text)
}

func TestTokenSnapshotsExcludedFromTurns(t *testing.T) {
	info := model.TokenInfoJSON(model.TokenUsage{Total: 30, Input: 10, Output: 20})
	rows := []model.Row{
		userRow(0, 0, "hi"),
		{Seq: 1, Timestamp: at(1), Payload: model.EventMsg{Type: "token_count", Info: info}},
		assistantRow(2, 2, "hello"),
		{Seq: 3, Timestamp: at(3), Payload: model.EventMsg{Type: "token_count", Info: model.TokenInfoJSON(model.TokenUsage{Total: 50, Input: 20, Output: 30})}},
	}
	tl := Build(rows)
	require.Len(t, tl.Turns, 1)
	assert.Len(t, tl.Turns[0].Outputs, 1)
	require.NotNil(t, tl.LatestTokens)
	assert.Equal(t, "50", tl.LatestTokens.Metadata["total"])
}

func TestTurnIDsStableAndDistinct(t *testing.T) {
	rows := []model.Row{userRow(0, 0, "a"), userRow(1, 0, "b"), userRow(2, 4, "c")}
	first := BuildTurns(rows)
	second := BuildTurns(rows)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.Equal(t, "2025-10-01T12:00:00Z#0", first[0].ID)
	assert.Equal(t, "2025-10-01T12:00:00Z#1", first[1].ID)
}

func TestActiveDuration(t *testing.T) {
	turns := BuildTurns([]model.Row{
		userRow(0, 0, "a"), assistantRow(1, 10, "x"),
		userRow(2, 100, "b"), assistantRow(3, 130, "y"),
		userRow(4, 200, "c"),
	})
	d, err := ActiveDuration(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err = ActiveDuration(ctx, turns)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, d)
}
