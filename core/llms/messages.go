package llms

// Response is a single response from a language model invocation.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Message is one entry of the model-facing conversation history. The agent
// loop appends assistant tool-call messages and tool result messages between
// iterations.
type Message struct {
	Role    MessageRole
	Content string

	// ToolCalls is set on assistant messages that requested tool use.
	ToolCalls []ToolCall
	// ToolCallID is set on tool result messages and refers back to the
	// requesting call.
	ToolCallID string
}

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall is a model-requested capability invocation. Response carries the
// normalized result once the call is executed; IsError marks results that
// describe a failure the model may recover from.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string

	Response string
	IsError  bool
}
