package model

import "time"

type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
	ActorTool      Actor = "tool"
	ActorInfo      Actor = "info"
)

// VisibilityKind lets consumers filter timeline events by what they show.
type VisibilityKind string

const (
	KindUserMessage        VisibilityKind = "user_message"
	KindAssistantMessage   VisibilityKind = "assistant_message"
	KindReasoning          VisibilityKind = "reasoning"
	KindToolCall           VisibilityKind = "tool_call"
	KindCodeEdit           VisibilityKind = "code_edit"
	KindEnvironmentContext VisibilityKind = "environment_context"
	KindTokenUsage         VisibilityKind = "token_usage"
	KindInfo               VisibilityKind = "info"
	KindTurnBoundary       VisibilityKind = "turn_boundary"
)

// TimelineEvent is a classified, display-ready unit.
type TimelineEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	Actor       Actor             `json:"actor"`
	Kind        VisibilityKind    `json:"kind"`
	Title       string            `json:"title,omitempty"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RepeatCount int               `json:"repeatCount,omitempty"`
	CallID      string            `json:"callId,omitempty"`
}

// ConversationTurn is one user prompt and everything produced in response.
// UserMessage is nil for turns made only of system output.
type ConversationTurn struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	UserMessage *TimelineEvent  `json:"userMessage,omitempty"`
	Outputs     []TimelineEvent `json:"outputs"`
}

// LastActivity is the timestamp of the last event in the turn.
func (t ConversationTurn) LastActivity() time.Time {
	last := t.Timestamp
	if t.UserMessage != nil && t.UserMessage.Timestamp.After(last) {
		last = t.UserMessage.Timestamp
	}
	for _, o := range t.Outputs {
		if o.Timestamp.After(last) {
			last = o.Timestamp
		}
	}
	return last
}
