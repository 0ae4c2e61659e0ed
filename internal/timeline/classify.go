package timeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// skipEventTypes are event_msg types with no display value of their own.
var skipEventTypes = map[string]bool{
	"task_started":                  true,
	"agent_message_delta":           true,
	"agent_reasoning_delta":         true,
	"agent_reasoning_section_break": true,
	"exec_command_begin":            true,
	"exec_command_output_delta":     true,
	"exec_command_end":              true,
	"mcp_tool_call_begin":           true,
	"mcp_tool_call_end":             true,
	"patch_apply_begin":             true,
	"patch_apply_end":               true,
	"web_search_begin":              true,
	"web_search_end":                true,
	"get_history_entry_response":    true,
	"shutdown_complete":             true,
	"session_configured":            true,
}

var boundaryEventTypes = map[string]bool{
	"turn_aborted":     true,
	"task_complete":    true,
	"compact_boundary": true,
}

var patchMarkers = regexp.MustCompile(`(?m)^\*\*\* (Begin Patch|Update File:|Add File:|Delete File:)|^diff --git |^@@ -\d+(,\d+)? \+\d+`)

var (
	pathKeys    = []string{"file_path", "path", "filename", "file", "target_file"}
	contentKeys = []string{"content", "diff", "patch", "new_string", "old_string", "edits", "new_str", "contents"}
)

// origin tells which vocabulary a row came from. Codex logs every prompt
// and reply once as an event_msg and once as a response_item.
type origin int

const (
	originItem origin = iota
	originEvent
)

type classified struct {
	seq    int
	event  model.TimelineEvent
	env    bool
	origin origin
	// seen sums repeat counts per origin while collapsing.
	seen [2]int
}

// classify maps one valid row to its timeline events: usually one, none for
// undisplayed rows, two when a message carries an environment envelope next
// to regular prose.
func classify(row model.Row) []classified {
	ev := model.TimelineEvent{Timestamp: row.Timestamp, RepeatCount: row.Repeats()}

	switch p := row.Payload.(type) {
	case model.EventMsg:
		if skipEventTypes[p.Type] {
			return nil
		}
		switch {
		case p.Type == "user_message":
			ev.Actor, ev.Kind, ev.Title, ev.Text = model.ActorUser, model.KindUserMessage, "User", p.Message
		case p.Type == "agent_message":
			ev.Actor, ev.Kind, ev.Title, ev.Text = model.ActorAssistant, model.KindAssistantMessage, "Assistant", p.Message
		case p.Type == "agent_reasoning" || p.Type == "agent_reasoning_raw_content":
			ev.Actor, ev.Kind, ev.Title, ev.Text = model.ActorAssistant, model.KindReasoning, "Reasoning", firstNonEmpty(p.Text, p.Message)
		case p.Type == "token_count":
			usage, ok := model.TokenUsageFromInfo(p.Info)
			if !ok {
				return nil
			}
			ev.Actor, ev.Kind, ev.Title = model.ActorInfo, model.KindTokenUsage, "Token usage"
			ev.Text = formatUsage(usage)
			ev.Metadata = usageMetadata(usage)
			if !p.RateLimits.IsNull() {
				ev.Metadata["rate_limits"] = p.RateLimits.Canonical()
			}
			return []classified{{seq: row.Seq, event: ev}}
		case boundaryEventTypes[p.Type]:
			ev.Actor, ev.Kind, ev.Title = model.ActorInfo, model.KindTurnBoundary, titleCase(p.Type)
			ev.Text = firstNonEmpty(p.Reason, p.Message, p.Text)
			return []classified{{seq: row.Seq, event: ev}}
		default:
			ev.Actor, ev.Kind, ev.Title = model.ActorInfo, model.KindInfo, titleCase(p.Type)
			ev.Text = firstNonEmpty(p.Message, p.Text, p.Reason)
		}

	case model.ResponseItem:
		switch p.Type {
		case model.ItemMessage:
			switch p.Role {
			case "user":
				if strings.Contains(p.Text, "<user_instructions>") {
					return nil
				}
				ev.Actor, ev.Kind, ev.Title = model.ActorUser, model.KindUserMessage, "User"
			case "assistant":
				ev.Actor, ev.Kind, ev.Title = model.ActorAssistant, model.KindAssistantMessage, "Assistant"
			default:
				ev.Actor, ev.Kind, ev.Title = model.ActorInfo, model.KindInfo, titleCase(firstNonEmpty(p.Role, "system"))
			}
			ev.Text = p.Text
		case model.ItemReasoning:
			ev.Actor, ev.Kind, ev.Title, ev.Text = model.ActorAssistant, model.KindReasoning, "Reasoning", p.Text
		case model.ItemToolCall:
			ev.Actor, ev.Kind = model.ActorTool, model.KindToolCall
			ev.Title = "Tool call: " + firstNonEmpty(p.Name, "tool")
			ev.Text = toolCallText(p)
			ev.CallID = p.CallID
			if p.Name != "" {
				ev.Metadata = map[string]string{"tool": p.Name}
			}
			if isCodeEdit(ev.Text, p.Arguments) {
				ev.Kind = model.KindCodeEdit
			}
		case model.ItemToolOutput:
			ev.Actor, ev.Kind, ev.Title, ev.Text = model.ActorTool, model.KindToolCall, "Tool output", p.Output
			ev.CallID = p.CallID
		default:
			ev.Actor, ev.Kind, ev.Title, ev.Text = model.ActorInfo, model.KindInfo, "Item", p.Text
		}

	default:
		// session meta, turn context and unknown rows are not displayed
		return nil
	}

	ev.Text = strings.TrimSpace(ev.Text)
	var out []classified
	if ev.Actor == model.ActorUser || ev.Actor == model.ActorInfo {
		if pairs, rest, ok := extractEnvironment(ev.Text); ok {
			envEv := ev
			envEv.Actor = model.ActorInfo
			envEv.Kind = model.KindEnvironmentContext
			envEv.Title = "Environment"
			envEv.Text = renderPairs(pairs)
			envEv.Metadata = pairs
			out = append(out, classified{seq: row.Seq, event: envEv, env: true})
			ev.Text = rest
		}
	}
	if ev.Text != "" {
		out = append(out, classified{seq: row.Seq, event: ev})
	}
	if _, ok := row.Payload.(model.EventMsg); ok {
		for i := range out {
			out[i].origin = originEvent
		}
	}
	return out
}

func toolCallText(p model.ResponseItem) string {
	args := p.Arguments
	if args.IsNull() {
		return p.Name
	}
	if s, ok := args.AsString(); ok {
		return s
	}
	if cmd, ok := args.Get("command"); ok {
		if parts := cmd.Array(); len(parts) > 0 {
			words := make([]string, 0, len(parts))
			for _, w := range parts {
				words = append(words, w.Text())
			}
			return strings.Join(words, " ")
		}
		if s, ok := cmd.AsString(); ok {
			return s
		}
	}
	return args.Canonical()
}

// isCodeEdit separates code-mutating tool calls from inspection-only ones.
func isCodeEdit(text string, args model.JSON) bool {
	if patchMarkers.MatchString(text) {
		return true
	}
	if s, ok := args.AsString(); ok && patchMarkers.MatchString(s) {
		return true
	}
	if args.Kind() != model.JSONObject {
		return false
	}
	hasPath, hasContent := false, false
	for _, k := range pathKeys {
		if _, ok := args.Get(k); ok {
			hasPath = true
			break
		}
	}
	for _, k := range contentKeys {
		if _, ok := args.Get(k); ok {
			hasContent = true
			break
		}
	}
	return hasPath && hasContent
}

func formatUsage(u model.TokenUsage) string {
	return fmt.Sprintf("total %d (input %d, output %d, cache read %d, cache write %d)",
		u.Total, u.Input, u.Output, u.CacheRead, u.CacheCreation)
}

func usageMetadata(u model.TokenUsage) map[string]string {
	return map[string]string{
		"total":          fmt.Sprint(u.Total),
		"input":          fmt.Sprint(u.Input),
		"output":         fmt.Sprint(u.Output),
		"cache_read":     fmt.Sprint(u.CacheRead),
		"cache_creation": fmt.Sprint(u.CacheCreation),
	}
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
