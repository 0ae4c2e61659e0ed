package parse

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// codexTokenKey is the ledger key for Codex usage, which is reported as one
// running total for the whole session.
const codexTokenKey = "total"

type CodexParser struct {
	driver
}

func NewCodex(opts Options) *CodexParser {
	return &CodexParser{driver: newDriver(opts, codexDialect{})}
}

// FastSessionID falls back to the UUID embedded in rollout file names when
// the first lines carry no session_meta record.
func (p *CodexParser) FastSessionID(path string) (string, error) {
	id, err := p.driver.FastSessionID(path)
	if err == nil {
		return id, nil
	}
	if id, ok := rolloutUUID(path); ok {
		return id, nil
	}
	return "", err
}

// rolloutUUID extracts <uuid> from rollout-2025-10-01T12-00-00-<uuid>.jsonl.
func rolloutUUID(path string) (string, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if len(name) < 36 {
		return "", false
	}
	id, err := uuid.Parse(name[len(name)-36:])
	if err != nil {
		return "", false
	}
	return id.String(), true
}

type codexDialect struct{}

func (codexDialect) source() model.Source { return model.SourceCodex }

func (codexDialect) excluded(string) bool { return false }

func (codexDialect) cumulativeUsage() {}

func (codexDialect) decode(line []byte, st *state) lineStatus {
	row, err := model.DecodeRow(line)
	if err != nil {
		return lineMalformed
	}
	a := st.acc
	ts := row.Timestamp
	a.observeTime(ts)

	switch p := row.Payload.(type) {
	case model.SessionMeta:
		setOnce(&a.sessionID, p.ID)
		setOnce(&a.cwd, p.Cwd)
		setOnce(&a.originator, p.Originator)
		setOnce(&a.cliVersion, p.CLIVersion)
		setOnce(&a.instructions, p.Instructions)
	case model.TurnContext:
		setOnce(&a.model, p.Model)
		setOnce(&a.approval, p.ApprovalPolicy)
		setOnce(&a.cwd, p.Cwd)
	case model.EventMsg:
		switch p.Type {
		case "user_message":
			a.clock.observe(roleUser, ts)
			a.countMessage("user", "", p.Message)
			a.setTitle(p.Message)
		case "agent_message":
			a.clock.observe(roleOutput, ts)
			a.countMessage("assistant", "", p.Message)
		case "agent_reasoning":
			a.clock.observe(roleOutput, ts)
		case "token_count":
			if u, ok := model.TokenUsageFromInfo(p.Info); ok {
				a.tokens.observe(codexTokenKey, u)
			}
		}
	case model.ResponseItem:
		switch {
		case p.Type == model.ItemMessage && p.Role == "user":
			if i := strings.Index(p.Text, "<user_instructions>"); i >= 0 {
				setOnce(&a.instructions, instructionsBody(p.Text[i:]))
			}
		case p.Type == model.ItemToolCall:
			a.clock.observe(roleOutput, ts)
			a.countTool(p.CallID)
		default:
			a.clock.observe(roleOutput, ts)
		}
	}

	st.emit(ts, row.Payload)
	return lineOK
}

func instructionsBody(s string) string {
	s = strings.TrimPrefix(s, "<user_instructions>")
	if j := strings.Index(s, "</user_instructions>"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

type codexIDProbe struct {
	Type    string `json:"type"`
	Payload struct {
		ID string `json:"id"`
	} `json:"payload"`
}

func (codexDialect) sessionID(line []byte) string {
	var probe codexIDProbe
	if err := json.Unmarshal(line, &probe); err != nil || probe.Type != "session_meta" {
		return ""
	}
	return probe.Payload.ID
}

func (codexDialect) tailUsage(line []byte) (model.TokenUsage, time.Time, bool) {
	if !bytes.Contains(line, []byte(`"token_count"`)) {
		return model.TokenUsage{}, time.Time{}, false
	}
	row, err := model.DecodeRow(line)
	if err != nil {
		return model.TokenUsage{}, time.Time{}, false
	}
	ev, ok := row.Payload.(model.EventMsg)
	if !ok || ev.Type != "token_count" {
		return model.TokenUsage{}, time.Time{}, false
	}
	u, ok := model.TokenUsageFromInfo(ev.Info)
	return u, row.Timestamp, ok
}
