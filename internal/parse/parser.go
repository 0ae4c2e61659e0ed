// Package parse turns the JSONL logs of the supported CLIs into normalized
// rows and session summaries.
package parse

import (
	"errors"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

var (
	// ErrExcluded is returned for auxiliary files that never hold a user
	// session (warm-up and side-channel agents).
	ErrExcluded = errors.New("parse: excluded file")
	// ErrIncomplete is returned when a file never yields a session id, a
	// working directory or a first timestamp.
	ErrIncomplete = errors.New("parse: missing session identity")
)

const (
	DefaultFastLines      = 64
	DefaultTailBytes      = 256 << 10
	DefaultSessionIDLines = 20

	maxLineSize  = 10 * 1024 * 1024 // 10MB
	readChunk    = 64 * 1024
	maxTitleRunes = 200 // characters, not bytes
)

// Parser is implemented once per source dialect.
type Parser interface {
	Source() model.Source
	// Parse reads the whole file and keeps the row sequence.
	Parse(path string) (*Result, error)
	// ParseSummaryOnly does the same accounting without keeping rows.
	ParseSummaryOnly(path string) (*model.SessionSummary, error)
	// ParseFast stops after a bounded prefix once identity is known. Token
	// totals are read from the tail only for sources that log running totals.
	ParseFast(path string) (*model.SessionSummary, error)
	// FastSessionID scans only the first lines for the session id.
	FastSessionID(path string) (string, error)
	// TailTokenUsage returns the newest usage record in the file's tail.
	TailTokenUsage(path string) (TokenSnapshot, bool, error)
}

type Result struct {
	Summary      model.SessionSummary
	Rows         []model.Row
	Instructions string
}

type Options struct {
	FS             FS
	FastLines      int
	TailBytes      int64
	SessionIDLines int
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		o.FS = OSFS{}
	}
	if o.FastLines <= 0 {
		o.FastLines = DefaultFastLines
	}
	if o.TailBytes <= 0 {
		o.TailBytes = DefaultTailBytes
	}
	if o.SessionIDLines <= 0 {
		o.SessionIDLines = DefaultSessionIDLines
	}
	return o
}

// ProjectResolver maps a project hash directory name back to the project
// path it was derived from.
type ProjectResolver interface {
	Resolve(hash string) (string, bool)
}

// New returns the parser for src. resolver is only used by Gemini and may
// be nil.
func New(src model.Source, opts Options, resolver ProjectResolver) (Parser, error) {
	switch src {
	case model.SourceCodex:
		return NewCodex(opts), nil
	case model.SourceClaude:
		return NewClaude(opts), nil
	case model.SourceGemini:
		return NewGemini(opts, resolver), nil
	}
	_, err := model.ParseSource(string(src))
	return nil, err
}
