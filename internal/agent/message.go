// File: internal/agent/message.go
package agent

// Role is the discriminant for the message variant held by a Message.
type Role string

const (
	RoleSystem       Role = "system"
	RoleHuman        Role = "human"
	RoleAssistant    Role = "assistant"
	RoleActionResult Role = "action_result"
)

// ActionRequest is a single action invocation requested by the assistant.
// The ID correlates the request with the ActionResult message produced when
// it is executed; it is unique within a run.
type ActionRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"args"`
	ID        string         `json:"id"`
}

// Message is one entry in a conversation history, modeled as a tagged union:
// the Role field selects the variant, and only the fields meaningful for that
// variant are populated. Histories are append-only; compaction rewrites
// action_result content in place but never reorders or removes entries.
type Message struct {
	Role    Role   `json:"type"`
	Content string `json:"content"`
	// ActionRequests is set only on assistant messages.
	ActionRequests []ActionRequest `json:"tool_calls,omitempty"`
	// ActionRequestID is set only on action_result messages and names the
	// prior ActionRequest this result answers.
	ActionRequestID string `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a static instruction message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// HumanMessage builds a goal/context message.
func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// AssistantMessage builds a model-output message carrying zero or more
// action requests.
func AssistantMessage(content string, requests ...ActionRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ActionRequests: requests}
}

// ActionResultMessage builds the result message for one executed action.
func ActionResultMessage(content, requestID string) Message {
	return Message{Role: RoleActionResult, Content: content, ActionRequestID: requestID}
}

// HasActionRequests reports whether the message carries pending action requests.
func (m Message) HasActionRequests() bool {
	return m.Role == RoleAssistant && len(m.ActionRequests) > 0
}
