package model

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type RowKind uint8

const (
	RowUnknown RowKind = iota
	RowSessionMeta
	RowTurnContext
	RowEventMsg
	RowResponseItem
)

func (k RowKind) String() string {
	switch k {
	case RowSessionMeta:
		return "session_meta"
	case RowTurnContext:
		return "turn_context"
	case RowEventMsg:
		return "event_msg"
	case RowResponseItem:
		return "response_item"
	default:
		return "unknown"
	}
}

// Row is one decoded log line in the normalized, source-agnostic shape.
// Seq is the position of the row in its source stream and breaks timestamp
// ties when rows are re-ordered.
type Row struct {
	Seq         int
	Timestamp   time.Time
	RepeatCount int
	Payload     Payload
}

// Payload is the sealed set of row variants.
type Payload interface {
	Kind() RowKind
	sealed()
}

type SessionMeta struct {
	ID           string
	Cwd          string
	Originator   string
	CLIVersion   string
	Instructions string
}

type TurnContext struct {
	Model          string
	ApprovalPolicy string
	Cwd            string
	Summary        string
}

type EventMsg struct {
	Type       string
	Message    string
	Text       string
	Reason     string
	Info       JSON
	RateLimits JSON
}

type ItemType string

const (
	ItemMessage    ItemType = "message"
	ItemToolCall   ItemType = "tool_call"
	ItemToolOutput ItemType = "tool_output"
	ItemReasoning  ItemType = "reasoning"
	ItemOther      ItemType = "other"
)

type ResponseItem struct {
	Type      ItemType
	Role      string
	Text      string
	Name      string
	Arguments JSON
	Output    string
	CallID    string
}

type Unknown struct {
	Type string
	Raw  JSON
}

func (SessionMeta) Kind() RowKind  { return RowSessionMeta }
func (TurnContext) Kind() RowKind  { return RowTurnContext }
func (EventMsg) Kind() RowKind     { return RowEventMsg }
func (ResponseItem) Kind() RowKind { return RowResponseItem }
func (Unknown) Kind() RowKind      { return RowUnknown }

func (SessionMeta) sealed()  {}
func (TurnContext) sealed()  {}
func (EventMsg) sealed()     {}
func (ResponseItem) sealed() {}
func (Unknown) sealed()      {}

func (r Row) Kind() RowKind {
	if r.Payload == nil {
		return RowUnknown
	}
	return r.Payload.Kind()
}

// Valid reports whether the row may reach the timeline builder: it must
// carry a timestamp and a recognized payload.
func (r Row) Valid() bool {
	return !r.Timestamp.IsZero() && r.Kind() != RowUnknown
}

// Repeats returns the effective repeat count (at least 1).
func (r Row) Repeats() int {
	if r.RepeatCount < 1 {
		return 1
	}
	return r.RepeatCount
}

type rawEnvelope struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type rawSessionMeta struct {
	ID           string `json:"id"`
	Cwd          string `json:"cwd"`
	Originator   string `json:"originator"`
	CLIVersion   string `json:"cli_version"`
	Instructions string `json:"instructions"`
}

type rawTurnContext struct {
	Model          string `json:"model"`
	ApprovalPolicy string `json:"approval_policy"`
	Cwd            string `json:"cwd"`
	Summary        string `json:"summary"`
}

type rawEventMsg struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Text       string `json:"text"`
	Reason     string `json:"reason"`
	Info       JSON   `json:"info"`
	RateLimits JSON   `json:"rate_limits"`
}

type rawResponseItem struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	Arguments JSON   `json:"arguments"`
	Input     JSON   `json:"input"`
	Output    JSON   `json:"output"`
	CallID    string `json:"call_id"`
	Content   JSON   `json:"content"`
	Summary   JSON   `json:"summary"`
}

// DecodeRow decodes one envelope-shaped line ({timestamp, type, payload}).
// Unrecognized types decode into Unknown rather than failing. A line that is
// not a JSON object, or whose known payload does not match its shape, is an
// error.
func DecodeRow(line []byte) (Row, error) {
	var env rawEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Row{}, fmt.Errorf("decode envelope: %w", err)
	}
	row := Row{Timestamp: ParseTimestamp(env.Timestamp)}

	switch env.Type {
	case "session_meta":
		var p rawSessionMeta
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Row{}, err
		}
		row.Payload = SessionMeta(p)
	case "turn_context":
		var p rawTurnContext
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Row{}, err
		}
		row.Payload = TurnContext(p)
	case "event_msg":
		var p rawEventMsg
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Row{}, err
		}
		row.Payload = EventMsg(p)
	case "response_item":
		var p rawResponseItem
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Row{}, err
		}
		row.Payload = p.normalize()
	default:
		raw, _ := ParseJSON(env.Payload)
		row.Payload = Unknown{Type: env.Type, Raw: raw}
	}
	return row, nil
}

func unmarshalPayload(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (p rawResponseItem) normalize() ResponseItem {
	item := ResponseItem{Role: p.Role, Name: p.Name, CallID: p.CallID}
	switch p.Type {
	case "message":
		item.Type = ItemMessage
		item.Text = ContentText(p.Content)
	case "function_call", "custom_tool_call", "local_shell_call", "web_search_call", "tool_call":
		item.Type = ItemToolCall
		item.Arguments = decodeArguments(p.Arguments)
		if item.Arguments.IsNull() {
			item.Arguments = p.Input
		}
	case "function_call_output", "custom_tool_call_output", "tool_output":
		item.Type = ItemToolOutput
		item.Output = outputText(p.Output)
	case "reasoning":
		item.Type = ItemReasoning
		item.Text = ContentText(p.Summary)
		if item.Text == "" {
			item.Text = ContentText(p.Content)
		}
	default:
		item.Type = ItemOther
		item.Text = ContentText(p.Content)
	}
	return item
}

// decodeArguments unwraps string-encoded argument objects.
func decodeArguments(v JSON) JSON {
	s, ok := v.AsString()
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if parsed, err := ParseJSON([]byte(trimmed)); err == nil {
			return parsed
		}
	}
	return v
}

func outputText(v JSON) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	if out, ok := v.Get("output"); ok {
		return out.Text()
	}
	return v.Text()
}

// ContentText renders a content field that is either a plain string, a
// single typed block, or a list of typed blocks.
func ContentText(v JSON) string {
	switch v.Kind() {
	case JSONString:
		s, _ := v.AsString()
		return strings.TrimSpace(s)
	case JSONObject:
		return BlockText(v)
	case JSONArray:
		var parts []string
		for _, b := range v.Array() {
			if t := ContentText(b); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// BlockText renders one typed content block, falling back through explicit
// text, thinking text, nested content and finally the input object.
func BlockText(b JSON) string {
	for _, key := range []string{"text", "thinking"} {
		if t, ok := b.Get(key); ok {
			if s, ok := t.AsString(); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	if c, ok := b.Get("content"); ok {
		if s := ContentText(c); s != "" {
			return s
		}
	}
	if in, ok := b.Get("input"); ok && !in.IsNull() {
		return in.Canonical()
	}
	return ""
}
