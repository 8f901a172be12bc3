package groq

import (
	"github.com/brightboard/tutor-core/core/llms"
	"github.com/jinzhu/copier"
)

const (
	url         = "https://api.groq.com/openai/v1/chat/completions"
	chunkPrefix = "data:"
	endMessage  = "[DONE]"
)

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
	messageRoleTool      messageRole = "tool"
)

type message struct {
	Role       messageRole `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []toolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is the provider-facing tool declaration.
type Tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

func toTools(tools []llms.Tool) []Tool {
	if len(tools) == 0 {
		return nil
	}

	converted := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		fn := toolFunction{}
		copier.Copy(&fn, &tool)
		fn.Parameters = tool.InputSchema
		converted = append(converted, Tool{Type: "function", Function: fn})
	}
	return converted
}

func toMessages(instructions string, history []llms.Message) []message {
	messages := []message{}
	if instructions != "" {
		messages = append(messages, message{Role: messageRoleSystem, Content: instructions})
	}

	for _, entry := range history {
		converted := message{
			Role:       messageRole(entry.Role),
			Content:    entry.Content,
			ToolCallID: entry.ToolCallID,
		}
		for _, call := range entry.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, toolCall{
				ID:   call.ID,
				Type: "function",
				Function: toolCallFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		messages = append(messages, converted)
	}
	return messages
}

type requestBody struct {
	Model      string    `json:"model"`
	Messages   []message `json:"messages"`
	Stream     bool      `json:"stream"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice *string   `json:"tool_choice,omitempty"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Role         string     `json:"role"`
			Content      string     `json:"content"`
			ToolCalls    []toolCall `json:"tool_calls"`
			FinishReason *string    `json:"finish_reason"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// StreamContentChunk carries one streamed content delta.
type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (c StreamContentChunk) FinishReason() *string { return c.finishReason }
func (c StreamContentChunk) Content() string       { return c.content }

// StreamToolCallChunk carries one streamed tool call request.
type StreamToolCallChunk struct {
	finishReason *string
	toolCall     llms.ToolCall
}

func (c StreamToolCallChunk) FinishReason() *string   { return c.finishReason }
func (c StreamToolCallChunk) ToolCall() llms.ToolCall { return c.toolCall }
