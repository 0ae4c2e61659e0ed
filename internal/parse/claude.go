package parse

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

type claudeRecord struct {
	Type        string         `json:"type"`
	Subtype     string         `json:"subtype"`
	Timestamp   string         `json:"timestamp"`
	SessionID   string         `json:"sessionId"`
	AgentID     string         `json:"agentId"`
	Cwd         string         `json:"cwd"`
	Version     string         `json:"version"`
	IsSidechain bool           `json:"isSidechain"`
	IsMeta      bool           `json:"isMeta"`
	UUID        string         `json:"uuid"`
	Summary     string         `json:"summary"` // for type="summary" records
	Content     model.JSON     `json:"content"` // for type="system" records
	Message     *claudeMessage `json:"message"`
}

type claudeMessage struct {
	ID      string       `json:"id"`
	Role    string       `json:"role"`
	Model   string       `json:"model"`
	Content model.JSON   `json:"content"`
	Usage   *claudeUsage `json:"usage"`
}

type claudeUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

func (u claudeUsage) tokens() model.TokenUsage {
	t := model.TokenUsage{
		Input:         u.InputTokens,
		Output:        u.OutputTokens,
		CacheRead:     u.CacheReadInputTokens,
		CacheCreation: u.CacheCreationInputTokens,
	}
	t.Total = t.Input + t.Output + t.CacheRead + t.CacheCreation
	return t
}

// syntheticModel marks assistant lines written by the CLI itself.
const syntheticModel = "<synthetic>"

type ClaudeParser struct {
	driver
}

func NewClaude(opts Options) *ClaudeParser {
	return &ClaudeParser{driver: newDriver(opts, claudeDialect{})}
}

// FastSessionID falls back to the file name, which is the session UUID for
// regular project logs.
func (p *ClaudeParser) FastSessionID(path string) (string, error) {
	id, err := p.driver.FastSessionID(path)
	if err == nil {
		return id, nil
	}
	if id, perr := uuid.Parse(strings.TrimSuffix(filepath.Base(path), ".jsonl")); perr == nil {
		return id.String(), nil
	}
	return "", err
}

type claudeDialect struct{}

func (claudeDialect) source() model.Source { return model.SourceClaude }

// excluded matches the warm-up and sub-agent side files written next to
// the real sessions.
func (claudeDialect) excluded(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "agent-")
}

func (d claudeDialect) decode(line []byte, st *state) lineStatus {
	var rec claudeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return lineMalformed
	}
	if rec.IsSidechain {
		return lineSkipped
	}

	a := st.acc
	ts := model.ParseTimestamp(rec.Timestamp)
	a.observeTime(ts)
	setOnce(&a.sessionID, rec.SessionID)
	setOnce(&a.agentID, rec.AgentID)
	setOnce(&a.cliVersion, rec.Version)
	setOnce(&a.cwd, rec.Cwd)
	if rec.Message != nil && rec.Message.Model != syntheticModel {
		setOnce(&a.model, rec.Message.Model)
	}

	if rec.IsMeta {
		if rec.Message != nil {
			setOnce(&a.instructions, model.ContentText(rec.Message.Content))
		}
		return lineOK
	}

	switch rec.Type {
	case "user":
		if rec.Message != nil {
			d.user(rec, ts, st)
		}
	case "assistant":
		if rec.Message != nil {
			d.assistant(rec, ts, st)
		}
	case "system":
		a.clock.observe(roleOutput, ts)
		if rec.Subtype == "compact_boundary" {
			st.emit(ts, model.EventMsg{Type: "compact_boundary", Message: model.ContentText(rec.Content)})
		} else if text := model.ContentText(rec.Content); text != "" {
			st.emit(ts, model.EventMsg{Type: "system_message", Message: text})
		}
	case "summary":
		a.clock.observe(roleOutput, ts)
		setOnce(&a.summaryTitle, rec.Summary)
		if rec.Summary != "" {
			st.emit(ts, model.EventMsg{Type: "summary", Message: rec.Summary})
		}
	}
	return lineOK
}

func blockType(b model.JSON) string {
	t, _ := b.Get("type")
	s, _ := t.AsString()
	return s
}

func blockString(b model.JSON, key string) string {
	v, _ := b.Get(key)
	s, _ := v.AsString()
	return s
}

func (claudeDialect) user(rec claudeRecord, ts time.Time, st *state) {
	a := st.acc
	var texts []string
	content := rec.Message.Content
	if s, ok := content.AsString(); ok {
		texts = append(texts, s)
	}
	for _, b := range content.Array() {
		switch blockType(b) {
		case "tool_result":
			// tool results travel as user lines but answer the assistant
			a.clock.observe(roleOutput, ts)
			out, _ := b.Get("content")
			st.emit(ts, model.ResponseItem{
				Type:   model.ItemToolOutput,
				CallID: blockString(b, "tool_use_id"),
				Output: model.ContentText(out),
			})
		case "image":
			texts = append(texts, "[image]")
		default:
			if t := model.BlockText(b); t != "" {
				texts = append(texts, t)
			}
		}
	}

	text := strings.TrimSpace(strings.Join(texts, "\n"))
	if text == "" {
		return
	}
	a.clock.observe(roleUser, ts)
	a.countMessage("user", rec.UUID, text)
	a.setTitle(text)
	st.emit(ts, model.EventMsg{Type: "user_message", Message: text})
}

func (claudeDialect) assistant(rec claudeRecord, ts time.Time, st *state) {
	a := st.acc
	msg := rec.Message
	a.clock.observe(roleOutput, ts)

	var texts []string
	if s, ok := msg.Content.AsString(); ok {
		texts = append(texts, s)
	}
	for _, b := range msg.Content.Array() {
		switch blockType(b) {
		case "thinking", "redacted_thinking":
			if t := model.BlockText(b); t != "" {
				st.emit(ts, model.ResponseItem{Type: model.ItemReasoning, Role: "assistant", Text: t})
			}
		case "tool_use", "server_tool_use":
			id := blockString(b, "id")
			a.countTool(id)
			args, _ := b.Get("input")
			st.emit(ts, model.ResponseItem{
				Type:      model.ItemToolCall,
				Name:      blockString(b, "name"),
				CallID:    id,
				Arguments: args,
			})
		default:
			if t := model.BlockText(b); t != "" {
				texts = append(texts, t)
			}
		}
	}

	if text := strings.TrimSpace(strings.Join(texts, "\n")); text != "" {
		a.countMessage("assistant", msg.ID, text)
		st.emit(ts, model.EventMsg{Type: "agent_message", Message: text})
	}
	if msg.Usage != nil {
		if delta := a.tokens.observe(msg.ID, msg.Usage.tokens()); !delta.IsZero() {
			st.emitTokens(ts)
		}
	}
}

type claudeIDProbe struct {
	SessionID   string `json:"sessionId"`
	IsSidechain bool   `json:"isSidechain"`
}

func (claudeDialect) sessionID(line []byte) string {
	var probe claudeIDProbe
	if err := json.Unmarshal(line, &probe); err != nil || probe.IsSidechain {
		return ""
	}
	return probe.SessionID
}

func (claudeDialect) tailUsage(line []byte) (model.TokenUsage, time.Time, bool) {
	var rec claudeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return model.TokenUsage{}, time.Time{}, false
	}
	if rec.IsSidechain || rec.Type != "assistant" || rec.Message == nil || rec.Message.Usage == nil {
		return model.TokenUsage{}, time.Time{}, false
	}
	return rec.Message.Usage.tokens(), model.ParseTimestamp(rec.Timestamp), true
}
