// Package aggregate stitches sessions that are sharded across several log
// files back into one logical session.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/parse"
)

// DefaultWindow is how close two identical user prompts must be to count
// as one.
const DefaultWindow = 5 * time.Second

// Segment is one parsed file of a session.
type Segment struct {
	Summary model.SessionSummary
	Rows    []model.Row
}

// Session is the merged result for one session id.
type Session struct {
	Summary model.SessionSummary
	Rows    []model.Row
	Paths   []string
}

// Merge groups segments by session id, concatenates their rows in start
// order, splices in the log rows recorded for the same id and folds
// repeated user prompts. Sessions left without rows are dropped.
func Merge(segments []Segment, logs map[string][]model.Row) []Session {
	groups := map[string][]Segment{}
	var order []string
	for _, seg := range segments {
		id := seg.Summary.ID
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], seg)
	}

	var out []Session
	for _, id := range order {
		segs := groups[id]
		sort.SliceStable(segs, func(i, j int) bool {
			a, b := segs[i].Summary, segs[j].Summary
			if !a.StartedAt.Equal(b.StartedAt) {
				return a.StartedAt.Before(b.StartedAt)
			}
			return a.FilePath < b.FilePath
		})

		var rows []model.Row
		sums := make([]model.SessionSummary, 0, len(segs))
		paths := make([]string, 0, len(segs))
		for _, seg := range segs {
			rows = appendResequenced(rows, seg.Rows)
			sums = append(sums, seg.Summary)
			paths = append(paths, seg.Summary.FilePath)
		}
		rows = appendResequenced(rows, logs[id])
		rows = DedupeUserRows(rows, DefaultWindow)
		if len(rows) == 0 {
			continue
		}

		sum := mergeSummary(sums)
		parse.Reconcile(&sum, rows)
		out = append(out, Session{Summary: sum, Rows: rows, Paths: paths})
	}
	return out
}

func appendResequenced(dst, src []model.Row) []model.Row {
	for _, r := range src {
		r.Seq = len(dst)
		dst = append(dst, r)
	}
	return dst
}

// DedupeUserRows orders rows by time and folds a user prompt into an
// earlier identical one seen within window, bumping its repeat count.
func DedupeUserRows(rows []model.Row, window time.Duration) []model.Row {
	sorted := make([]model.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	type occurrence struct {
		idx int
		at  time.Time
	}
	seen := map[string]occurrence{}
	out := make([]model.Row, 0, len(sorted))
	for _, r := range sorted {
		text, ok := userText(r)
		if !ok {
			out = append(out, r)
			continue
		}
		key := strings.Join(strings.Fields(text), " ")
		if prev, ok := seen[key]; ok {
			if gap := r.Timestamp.Sub(prev.at); gap >= 0 && gap <= window {
				out[prev.idx].RepeatCount = out[prev.idx].Repeats() + r.Repeats()
				seen[key] = occurrence{idx: prev.idx, at: r.Timestamp}
				continue
			}
		}
		seen[key] = occurrence{idx: len(out), at: r.Timestamp}
		out = append(out, r)
	}
	for i := range out {
		out[i].Seq = i
	}
	return out
}

func userText(r model.Row) (string, bool) {
	switch p := r.Payload.(type) {
	case model.EventMsg:
		if p.Type == "user_message" && strings.TrimSpace(p.Message) != "" {
			return p.Message, true
		}
	case model.ResponseItem:
		if p.Type == model.ItemMessage && p.Role == "user" && strings.TrimSpace(p.Text) != "" {
			return p.Text, true
		}
	}
	return "", false
}

// MergeSummaries collapses Gemini summaries that share a session id into
// one. Summaries of other sources pass through unchanged. Output keeps the
// position of each session's first summary.
func MergeSummaries(sums []model.SessionSummary) []model.SessionSummary {
	groups := map[string][]model.SessionSummary{}
	for _, s := range sums {
		if s.Source == model.SourceGemini {
			groups[s.ID] = append(groups[s.ID], s)
		}
	}

	out := make([]model.SessionSummary, 0, len(sums))
	done := map[string]bool{}
	for _, s := range sums {
		if s.Source != model.SourceGemini {
			out = append(out, s)
			continue
		}
		if done[s.ID] {
			continue
		}
		done[s.ID] = true
		segs := groups[s.ID]
		if len(segs) == 1 {
			out = append(out, s)
			continue
		}
		sorted := append([]model.SessionSummary(nil), segs...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartedAt.Before(sorted[j].StartedAt) })
		out = append(out, mergeSummary(sorted))
	}
	return out
}

// mergeSummary folds segment summaries, given in start order. Tokens and
// counts are sums of each segment's own values; the representative file is
// the most recently updated segment.
func mergeSummary(segs []model.SessionSummary) model.SessionSummary {
	m := segs[0]
	rep := segs[0]
	for _, s := range segs[1:] {
		if s.StartedAt.Before(m.StartedAt) || m.StartedAt.IsZero() {
			m.StartedAt = s.StartedAt
		}
		if s.EndedAt.After(m.EndedAt) {
			m.EndedAt = s.EndedAt
		}
		if s.LastUpdatedAt.After(rep.LastUpdatedAt) {
			rep = s
		}
		m.ActiveDuration += s.ActiveDuration
		m.UserMessageCount += s.UserMessageCount
		m.AssistantMessageCount += s.AssistantMessageCount
		m.ToolInvocationCount += s.ToolInvocationCount
		m.Tokens = m.Tokens.Add(s.Tokens)
		m.LineCount += s.LineCount
		m.FileSize += s.FileSize
		m.ParseLevel = min(m.ParseLevel, s.ParseLevel)
		fill(&m.Cwd, s.Cwd)
		fill(&m.Model, s.Model)
		fill(&m.Title, s.Title)
		fill(&m.CLIVersion, s.CLIVersion)
		fill(&m.AgentID, s.AgentID)
	}
	m.FilePath = rep.FilePath
	m.LastUpdatedAt = rep.LastUpdatedAt
	m.SegmentCount = len(segs)
	return m
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
