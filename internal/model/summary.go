package model

import (
	"fmt"
	"strings"
	"time"
)

type Source string

const (
	SourceCodex  Source = "codex"
	SourceClaude Source = "claude"
	SourceGemini Source = "gemini"
)

var Sources = []Source{SourceCodex, SourceClaude, SourceGemini}

func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceCodex:
		return SourceCodex, nil
	case SourceClaude:
		return SourceClaude, nil
	case SourceGemini:
		return SourceGemini, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// ParseLevel is the completeness tier of the parse a summary came from.
// Levels are ordered: a higher level never loses information captured by a
// lower one.
type ParseLevel int

const (
	LevelNone ParseLevel = iota
	LevelMetadata
	LevelFull
	LevelEnriched
)

func (l ParseLevel) String() string {
	switch l {
	case LevelMetadata:
		return "metadata"
	case LevelFull:
		return "full"
	case LevelEnriched:
		return "enriched"
	default:
		return "none"
	}
}

func ParseLevelFromString(s string) ParseLevel {
	switch s {
	case "metadata":
		return LevelMetadata
	case "full":
		return LevelFull
	case "enriched":
		return LevelEnriched
	default:
		return LevelNone
	}
}

func (l ParseLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *ParseLevel) UnmarshalText(b []byte) error {
	*l = ParseLevelFromString(string(b))
	return nil
}

// TokenUsage is a token breakdown. Total is reported by the source when
// available and otherwise the sum of the other fields.
type TokenUsage struct {
	Total         int64 `json:"total"`
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheRead     int64 `json:"cacheRead"`
	CacheCreation int64 `json:"cacheCreation"`
}

func (t TokenUsage) IsZero() bool { return t == TokenUsage{} }

func (t TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Total:         t.Total + o.Total,
		Input:         t.Input + o.Input,
		Output:        t.Output + o.Output,
		CacheRead:     t.CacheRead + o.CacheRead,
		CacheCreation: t.CacheCreation + o.CacheCreation,
	}
}

// Delta returns the per-field positive increase from prev to t.
func (t TokenUsage) Delta(prev TokenUsage) TokenUsage {
	pos := func(a, b int64) int64 {
		if a > b {
			return a - b
		}
		return 0
	}
	return TokenUsage{
		Total:         pos(t.Total, prev.Total),
		Input:         pos(t.Input, prev.Input),
		Output:        pos(t.Output, prev.Output),
		CacheRead:     pos(t.CacheRead, prev.CacheRead),
		CacheCreation: pos(t.CacheCreation, prev.CacheCreation),
	}
}

// SessionSummary is the aggregate metadata for one session file, or for
// several segments merged into one logical session.
type SessionSummary struct {
	ID                    string        `json:"id"`
	Source                Source        `json:"source"`
	FilePath              string        `json:"filePath"`
	FileSize              int64         `json:"fileSize"`
	StartedAt             time.Time     `json:"startedAt"`
	EndedAt               time.Time     `json:"endedAt"`
	LastUpdatedAt         time.Time     `json:"lastUpdatedAt"`
	ActiveDuration        time.Duration `json:"activeDuration"`
	CLIVersion            string        `json:"cliVersion,omitempty"`
	Originator            string        `json:"originator,omitempty"`
	AgentID               string        `json:"agentId,omitempty"`
	Cwd                   string        `json:"cwd"`
	Model                 string        `json:"model,omitempty"`
	ApprovalPolicy        string        `json:"approvalPolicy,omitempty"`
	Title                 string        `json:"title,omitempty"`
	UserMessageCount      int           `json:"userMessageCount"`
	AssistantMessageCount int           `json:"assistantMessageCount"`
	ToolInvocationCount   int           `json:"toolInvocationCount"`
	Tokens                TokenUsage    `json:"tokens"`
	LineCount             int           `json:"lineCount"`
	ParseLevel            ParseLevel    `json:"parseLevel"`
	SegmentCount          int           `json:"segmentCount,omitempty"`
}

// Duration is the wall-clock span between the first and last event.
func (s SessionSummary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// UpdatedAt is the best known last-activity time.
func (s SessionSummary) UpdatedAt() time.Time {
	if s.LastUpdatedAt.After(s.EndedAt) {
		return s.LastUpdatedAt
	}
	return s.EndedAt
}
