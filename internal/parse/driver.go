package parse

import (
	"bytes"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/timeline"
)

type lineStatus int

const (
	lineOK lineStatus = iota
	// lineSkipped is a well-formed line that must not affect the session,
	// such as side-channel traffic.
	lineSkipped
	lineMalformed
)

// dialect is the per-source part of parsing. Everything else is shared.
type dialect interface {
	source() model.Source
	excluded(path string) bool
	decode(line []byte, st *state) lineStatus
	sessionID(line []byte) string
	tailUsage(line []byte) (model.TokenUsage, time.Time, bool)
}

// cumulativeDialect is implemented by sources whose usage records carry the
// running session total, so the newest one stands for the whole file.
type cumulativeDialect interface {
	cumulativeUsage()
}

// documentDialect is implemented by sources that may also store a session
// as a single JSON document instead of one record per line.
type documentDialect interface {
	decodeDocument(data []byte, st *state) bool
}

// state is threaded through one parse of one file.
type state struct {
	path      string
	acc       *accumulator
	rows      []model.Row
	keep      bool
	counter   *timeline.Counter // turn tally when rows are not kept
	seq       int
	read      int
	malformed int
}

func newState(path string, keep bool) *state {
	return &state{path: path, acc: newAccumulator(), keep: keep}
}

func (st *state) line(d dialect, line []byte) {
	st.read++
	switch d.decode(line, st) {
	case lineOK:
		st.acc.lines++
	case lineMalformed:
		st.malformed++
	}
}

func (st *state) emit(ts time.Time, p model.Payload) {
	row := model.Row{Seq: st.seq, Timestamp: ts, Payload: p}
	switch {
	case st.keep:
		st.rows = append(st.rows, row)
	case st.counter != nil:
		st.counter.Add(row)
	}
	st.seq++
}

func (st *state) emitTokens(ts time.Time) {
	st.emit(ts, model.EventMsg{Type: "token_count", Info: model.TokenInfoJSON(st.acc.tokens.total)})
}

func (st *state) summary(src model.Source, path string, info fs.FileInfo, level model.ParseLevel) (model.SessionSummary, error) {
	a := st.acc
	a.clock.flush()
	if !a.essential() {
		return model.SessionSummary{}, fmt.Errorf("%s: %w", path, ErrIncomplete)
	}
	title := a.summaryTitle
	if title == "" {
		title = a.title
	}
	return model.SessionSummary{
		ID:                    a.sessionID,
		Source:                src,
		FilePath:              path,
		FileSize:              info.Size(),
		StartedAt:             a.first,
		EndedAt:               a.last,
		LastUpdatedAt:         info.ModTime().UTC(),
		ActiveDuration:        a.clock.total,
		CLIVersion:            a.cliVersion,
		Originator:            a.originator,
		AgentID:               a.agentID,
		Cwd:                   a.cwd,
		Model:                 a.model,
		ApprovalPolicy:        a.approval,
		Title:                 title,
		UserMessageCount:      a.users,
		AssistantMessageCount: a.assistants,
		ToolInvocationCount:   a.tools,
		Tokens:                a.tokens.total,
		LineCount:             a.lines,
		ParseLevel:            level,
	}, nil
}

// Reconcile redefines message counts from the reconstructed turns. Tool
// invocations keep the raw unique tool-use count.
func Reconcile(sum *model.SessionSummary, rows []model.Row) {
	reconcileCounts(sum, timeline.CountTurns(timeline.BuildTurns(rows)))
}

func reconcileCounts(sum *model.SessionSummary, c timeline.Counts) {
	sum.UserMessageCount = c.UserTurns
	sum.AssistantMessageCount = max(min(c.Turns, sum.AssistantMessageCount), c.Turns)
}

// TokenSnapshot is the most recent usage record found near the end of a file.
type TokenSnapshot struct {
	Usage     model.TokenUsage
	Timestamp time.Time
}

// driver implements Parser on top of a dialect.
type driver struct {
	opts Options
	d    dialect
}

func newDriver(opts Options, d dialect) driver {
	return driver{opts: opts.withDefaults(), d: d}
}

func (p *driver) Source() model.Source { return p.d.source() }

func (p *driver) Parse(path string) (*Result, error) {
	st := newState(path, true)
	sum, err := p.parseAll(path, st)
	if err != nil {
		return nil, err
	}
	Reconcile(&sum, st.rows)
	return &Result{Summary: sum, Rows: st.rows, Instructions: st.acc.instructions}, nil
}

// ParseSummaryOnly reads the whole file like Parse but tallies turns as it
// goes instead of keeping rows.
func (p *driver) ParseSummaryOnly(path string) (*model.SessionSummary, error) {
	st := newState(path, false)
	st.counter = &timeline.Counter{}
	sum, err := p.parseAll(path, st)
	if err != nil {
		return nil, err
	}
	reconcileCounts(&sum, st.counter.Counts())
	return &sum, nil
}

func (p *driver) parseAll(path string, st *state) (model.SessionSummary, error) {
	if p.d.excluded(path) {
		return model.SessionSummary{}, ErrExcluded
	}
	info, err := p.opts.FS.Stat(path)
	if err != nil {
		return model.SessionSummary{}, fmt.Errorf("stat %s: %w", path, err)
	}
	data, release, err := p.opts.FS.ReadFile(path)
	if err != nil {
		return model.SessionSummary{}, fmt.Errorf("read %s: %w", path, err)
	}
	defer release()

	if dd, ok := p.d.(documentDialect); !ok || !dd.decodeDocument(data, st) {
		forEachLine(data, func(line []byte) bool {
			st.line(p.d, line)
			return true
		})
	}
	p.logMalformed(path, st)
	return st.summary(p.d.source(), path, info, model.LevelFull)
}

func (p *driver) ParseFast(path string) (*model.SessionSummary, error) {
	if p.d.excluded(path) {
		return nil, ErrExcluded
	}
	info, err := p.opts.FS.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	st := newState(path, false)
	whole, err := scanPrefix(p.opts.FS, path, func(line []byte) bool {
		st.line(p.d, line)
		return st.read < p.opts.FastLines
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !st.acc.essential() {
		log.Debug().Str("path", path).Int("lines", st.read).Msg("identity not found in prefix, parsing in full")
		return p.ParseSummaryOnly(path)
	}

	if _, ok := p.d.(cumulativeDialect); ok && !whole && st.acc.tokens.total.IsZero() {
		snap, ok, err := p.TailTokenUsage(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("tail token scan failed")
		} else if ok {
			st.acc.tokens.total = snap.Usage
			st.acc.observeTime(snap.Timestamp)
		}
	}

	sum, err := st.summary(p.d.source(), path, info, model.LevelMetadata)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (p *driver) FastSessionID(path string) (string, error) {
	var id string
	n := 0
	_, err := scanPrefix(p.opts.FS, path, func(line []byte) bool {
		n++
		id = p.d.sessionID(line)
		return id == "" && n < p.opts.SessionIDLines
	})
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if id == "" {
		return "", fmt.Errorf("%s: %w", path, ErrIncomplete)
	}
	return id, nil
}

// TailTokenUsage reads the last TailBytes of path and returns the newest
// line carrying token usage.
func (p *driver) TailTokenUsage(path string) (TokenSnapshot, bool, error) {
	info, err := p.opts.FS.Stat(path)
	if err != nil {
		return TokenSnapshot{}, false, err
	}
	off := max(info.Size()-p.opts.TailBytes, 0)
	data, err := p.opts.FS.ReadRange(path, off, info.Size()-off)
	if err != nil {
		return TokenSnapshot{}, false, err
	}
	if off > 0 {
		// the first line is most likely cut
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return TokenSnapshot{}, false, nil
		}
		data = data[i+1:]
	}

	var lines [][]byte
	forEachLine(data, func(line []byte) bool {
		lines = append(lines, line)
		return true
	})
	for i := len(lines) - 1; i >= 0; i-- {
		if u, ts, ok := p.d.tailUsage(lines[i]); ok {
			return TokenSnapshot{Usage: u, Timestamp: ts}, true, nil
		}
	}
	return TokenSnapshot{}, false, nil
}

func (p *driver) logMalformed(path string, st *state) {
	if st.malformed > 0 {
		log.Debug().Str("path", path).Int("malformed", st.malformed).Int("lines", st.read).Msg("skipped malformed lines")
	}
}
