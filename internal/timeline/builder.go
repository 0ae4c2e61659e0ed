// Package timeline reconstructs conversation turns from normalized rows.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// Timeline is the full result of one build. Environment blocks and token
// snapshots are kept out of turn content and surfaced here instead.
type Timeline struct {
	Turns        []model.ConversationTurn
	Environment  []model.TimelineEvent
	LatestTokens *model.TimelineEvent
}

// BuildTurns groups rows into conversation turns.
func BuildTurns(rows []model.Row) []model.ConversationTurn {
	return Build(rows).Turns
}

// Build is a pure function of rows: the input is not modified and equal
// input always yields equal output.
func Build(rows []model.Row) Timeline {
	ordered := sortRows(rows)

	var tl Timeline
	var stream []classified
	for _, row := range ordered {
		for _, c := range classify(row) {
			switch {
			case c.env:
				tl.Environment = append(tl.Environment, c.event)
			case c.event.Kind == model.KindTokenUsage:
				ev := c.event
				tl.LatestTokens = &ev
			default:
				stream = append(stream, c)
			}
		}
	}

	stream = pairToolOutputs(stream)
	stream = collapseRepeats(stream)
	tl.Turns = group(stream)
	return tl
}

// sortRows drops invalid rows and orders the rest by timestamp, keeping
// source order for equal timestamps.
func sortRows(rows []model.Row) []model.Row {
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		if r.Valid() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func isOutputTitle(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "output") || strings.Contains(t, "result")
}

// pairToolOutputs folds tool outputs into the call that shares their
// call-id.
func pairToolOutputs(in []classified) []classified {
	out := make([]classified, 0, len(in))
	pending := map[string]int{}
	for _, c := range in {
		ev := c.event
		if ev.Actor != model.ActorTool || ev.CallID == "" {
			out = append(out, c)
			continue
		}
		idx, seen := pending[ev.CallID]
		if !seen {
			pending[ev.CallID] = len(out)
			out = append(out, c)
			continue
		}
		if !isOutputTitle(ev.Title) {
			out = append(out, c)
			continue
		}
		call := &out[idx].event
		if !strings.Contains(call.Text, ev.Text) {
			if call.Text == "" {
				call.Text = ev.Text
			} else {
				call.Text = call.Text + "\n" + ev.Text
			}
		}
		if call.Kind == model.KindToolCall && patchMarkers.MatchString(ev.Text) {
			call.Kind = model.KindCodeEdit
		}
	}
	return out
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sameEvent(a, b model.TimelineEvent) bool {
	return a.Actor == b.Actor && a.Title == b.Title && normalizeText(a.Text) == normalizeText(b.Text)
}

// collapseRepeats merges runs of identical consecutive events. The same
// message logged in both vocabularies counts once: repeats are summed per
// origin and the larger sum wins.
func collapseRepeats(in []classified) []classified {
	out := make([]classified, 0, len(in))
	for _, c := range in {
		if c.event.RepeatCount < 1 {
			c.event.RepeatCount = 1
		}
		if n := len(out); n > 0 && c.event.Kind != model.KindTurnBoundary && sameEvent(out[n-1].event, c.event) {
			prev := &out[n-1]
			prev.seen[c.origin] += c.event.RepeatCount
			prev.event.RepeatCount = max(prev.seen[originItem], prev.seen[originEvent])
			continue
		}
		c.seen[c.origin] = c.event.RepeatCount
		out = append(out, c)
	}
	return out
}

func group(stream []classified) []model.ConversationTurn {
	var (
		turns   []model.ConversationTurn
		current *model.ConversationTurn
		anchors = map[int64]int{}
	)
	flush := func() {
		if current == nil {
			return
		}
		if current.UserMessage != nil || len(current.Outputs) > 0 {
			anchor := current.Timestamp.UnixNano()
			current.ID = turnID(current.Timestamp, anchors[anchor])
			anchors[anchor]++
			turns = append(turns, *current)
		}
		current = nil
	}

	for _, c := range stream {
		ev := c.event
		switch {
		case ev.Kind == model.KindTurnBoundary:
			flush()
		case ev.Actor == model.ActorUser:
			flush()
			user := ev
			current = &model.ConversationTurn{Timestamp: ev.Timestamp, UserMessage: &user}
		default:
			if current == nil {
				current = &model.ConversationTurn{Timestamp: ev.Timestamp}
			}
			current.Outputs = append(current.Outputs, ev)
		}
	}
	flush()
	return turns
}

func turnID(anchor time.Time, n int) string {
	return fmt.Sprintf("%s#%d", anchor.UTC().Format(time.RFC3339Nano), n)
}
