// Package message defines the per-session chat history: a tagged variant
// message type and the well-formedness rules the completion loop must
// preserve between turns.
package message

// Kind discriminates the tagged Message variant.
type Kind string

const (
	KindUserText           Kind = "user_text"
	KindAssistantText      Kind = "assistant_text"
	KindAssistantToolCall  Kind = "assistant_tool_call"
	KindToolResult         Kind = "tool_result"
	KindSystemNote         Kind = "system_note"
)

// Message is the tagged variant flowing through session chat history.
// Only the fields relevant to Kind are populated.
type Message struct {
	Kind Kind `json:"kind"`

	// UserText / AssistantText / SystemNote
	Text string `json:"text,omitempty"`

	// AssistantToolCall
	ToolCallID   string                 `json:"tool_call_id,omitempty"`
	ToolName     string                 `json:"tool_name,omitempty"`
	ToolArgs     map[string]interface{} `json:"tool_args,omitempty"`

	// ToolResult
	ToolResultFor string `json:"tool_result_for,omitempty"` // matches ToolCallID
	Content       string `json:"content,omitempty"`
	Error         string `json:"error,omitempty"`
	Pending       bool   `json:"pending,omitempty"` // true for synthetic placeholders
}

// UserText constructs a user-authored message.
func UserText(text string) Message { return Message{Kind: KindUserText, Text: text} }

// AssistantText constructs a terminal assistant message.
func AssistantText(text string) Message { return Message{Kind: KindAssistantText, Text: text} }

// AssistantToolCall constructs an assistant tool-invocation message.
func AssistantToolCall(id, name string, args map[string]interface{}) Message {
	return Message{Kind: KindAssistantToolCall, ToolCallID: id, ToolName: name, ToolArgs: args}
}

// ToolResult constructs a terminal tool-result message.
func ToolResult(callID, content, errText string) Message {
	return Message{Kind: KindToolResult, ToolResultFor: callID, Content: content, Error: errText}
}

// PendingToolResult constructs a synthetic placeholder tool-result, used when
// a long-running tool's real result has not arrived yet. It keeps history
// well-formed (invariant: every AssistantToolCall has a matching ToolResult
// before the next completion starts).
func PendingToolResult(callID, taskID string) Message {
	return Message{
		Kind:          KindToolResult,
		ToolResultFor: callID,
		Content:       `{"status":"pending","task_id":"` + taskID + `"}`,
		Pending:       true,
	}
}

// SystemNote constructs a UI-visible system note.
func SystemNote(text string) Message { return Message{Kind: KindSystemNote, Text: text} }

// History is an ordered, append-only sequence of Messages for one session.
// It is owned by the completion loop; SessionState mutates it only through
// the serializing methods below (AppendUser, ReplacePlaceholder).
type History struct {
	messages []Message
}

// NewHistory returns an empty history.
func NewHistory() *History { return &History{} }

// Append adds messages to the end of the history.
func (h *History) Append(msgs ...Message) { h.messages = append(h.messages, msgs...) }

// Messages returns a read-only snapshot copy of the history.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.messages) }

// PendingToolCallIDs returns the IDs of AssistantToolCall messages that do
// not yet have a matching ToolResult in history — used to validate
// well-formedness before starting a new completion.
func (h *History) PendingToolCallIDs() []string {
	resolved := make(map[string]bool)
	for _, m := range h.messages {
		if m.Kind == KindToolResult {
			resolved[m.ToolResultFor] = true
		}
	}
	var pending []string
	for _, m := range h.messages {
		if m.Kind == KindAssistantToolCall && !resolved[m.ToolCallID] {
			pending = append(pending, m.ToolCallID)
		}
	}
	return pending
}

// ReplacePlaceholder rewrites an in-place pending tool-result (matched by
// call id) with the real content, clearing the Pending flag. Returns false
// if no matching placeholder was found.
func (h *History) ReplacePlaceholder(callID, content, errText string) bool {
	for i := range h.messages {
		m := &h.messages[i]
		if m.Kind == KindToolResult && m.ToolResultFor == callID && m.Pending {
			m.Content = content
			m.Error = errText
			m.Pending = false
			return true
		}
	}
	return false
}
