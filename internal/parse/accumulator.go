package parse

import (
	"strings"
	"time"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// accumulator folds one file's lines into summary metadata in a single pass.
type accumulator struct {
	sessionID    string
	agentID      string
	cliVersion   string
	originator   string
	cwd          string
	model        string
	approval     string
	title        string
	summaryTitle string
	instructions string

	first, last time.Time
	lines       int

	tokens tokenLedger
	clock  activeClock

	seenUser      map[string]bool
	seenAssistant map[string]bool
	seenTool      map[string]bool
	users         int
	assistants    int
	tools         int
}

func newAccumulator() *accumulator {
	return &accumulator{
		tokens:        newTokenLedger(),
		seenUser:      map[string]bool{},
		seenAssistant: map[string]bool{},
		seenTool:      map[string]bool{},
	}
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func (a *accumulator) observeTime(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if a.first.IsZero() || ts.Before(a.first) {
		a.first = ts
	}
	if ts.After(a.last) {
		a.last = ts
	}
}

func (a *accumulator) setTitle(text string) {
	if a.title != "" {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, "<user_instructions>") || strings.HasPrefix(text, "<environment_context>") {
		return
	}
	if r := []rune(text); len(r) > maxTitleRunes {
		text = string(r[:maxTitleRunes])
	}
	a.title = strings.Join(strings.Fields(text), " ")
}

// countMessage counts a user or assistant message once per id and only when
// it carries renderable text. Messages without an id count every time.
func (a *accumulator) countMessage(role, id, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	seen := a.seenAssistant
	if role == "user" {
		seen = a.seenUser
	}
	if id != "" {
		if seen[id] {
			return
		}
		seen[id] = true
	}
	if role == "user" {
		a.users++
	} else {
		a.assistants++
	}
}

func (a *accumulator) countTool(id string) {
	if id != "" {
		if a.seenTool[id] {
			return
		}
		a.seenTool[id] = true
	}
	a.tools++
}

// essential reports whether the identity a summary requires has been seen.
func (a *accumulator) essential() bool {
	return a.sessionID != "" && a.cwd != "" && !a.first.IsZero()
}

// tokenLedger accumulates cumulative per-message usage snapshots. Only the
// positive change against the previous snapshot of the same message is
// added, so streamed repeats of one message are not double counted.
type tokenLedger struct {
	last  map[string]model.TokenUsage
	total model.TokenUsage
}

func newTokenLedger() tokenLedger {
	return tokenLedger{last: map[string]model.TokenUsage{}}
}

// observe records a snapshot and returns the delta it contributed. An empty
// id is treated as a fresh message each time.
func (l *tokenLedger) observe(id string, snap model.TokenUsage) model.TokenUsage {
	if id == "" {
		l.total = l.total.Add(snap)
		return snap
	}
	delta := snap.Delta(l.last[id])
	l.last[id] = maxUsage(l.last[id], snap)
	l.total = l.total.Add(delta)
	return delta
}

func maxUsage(a, b model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		Total:         max(a.Total, b.Total),
		Input:         max(a.Input, b.Input),
		Output:        max(a.Output, b.Output),
		CacheRead:     max(a.CacheRead, b.CacheRead),
		CacheCreation: max(a.CacheCreation, b.CacheCreation),
	}
}

type durationRole int

const (
	roleIgnored durationRole = iota
	roleUser
	roleOutput
)

// activeClock measures time from each user prompt to the last output that
// answered it.
type activeClock struct {
	turnStart  time.Time
	lastOutput time.Time
	total      time.Duration
}

func (c *activeClock) observe(role durationRole, ts time.Time) {
	if ts.IsZero() {
		return
	}
	switch role {
	case roleUser:
		c.flush()
		c.turnStart = ts
	case roleOutput:
		if ts.After(c.lastOutput) {
			c.lastOutput = ts
		}
	}
}

func (c *activeClock) flush() {
	if !c.turnStart.IsZero() && !c.lastOutput.IsZero() {
		if d := c.lastOutput.Sub(c.turnStart); d > 0 {
			c.total += d
		}
	}
	c.turnStart, c.lastOutput = time.Time{}, time.Time{}
}
