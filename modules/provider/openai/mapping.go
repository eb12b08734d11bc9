package openai

import (
	"encoding/json"

	"github.com/flemzord/scout/internal/provider"
)

// Chat Completions wire types. Only the fields scout sends or reads.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// chatResponse reuses provider.TokenUsage, whose JSON names match the
// Chat Completions usage object.
type chatResponse struct {
	Choices []chatChoice        `json:"choices"`
	Usage   provider.TokenUsage `json:"usage"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatMessages maps the research conversation. A tool message answers the
// call named by its ToolID, whether the result came from the tool or from
// the reviewer; the API has no name field for it.
func chatMessages(msgs []provider.LLMMessage) []chatMessage {
	out := make([]chatMessage, len(msgs))
	for i, m := range msgs {
		cm := chatMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == provider.MessageRoleTool {
			cm.ToolCallID = m.ToolID
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunctionCall{Name: tc.Name, Arguments: string(tc.Input())},
			})
		}
		out[i] = cm
	}
	return out
}

func chatTools(defs []provider.ToolDefinition) []chatTool {
	out := make([]chatTool, len(defs))
	for i, d := range defs {
		out[i] = chatTool{
			Type:     "function",
			Function: chatFunction{Name: d.Name, Description: d.Description, Parameters: d.Parameters},
		}
	}
	return out
}

// completion reads the first choice. Callers reject a response with no
// choices before calling it. Compatible servers that omit total_tokens
// still charge the task's budget with the sum of the parts.
func completion(resp *chatResponse) provider.CompletionResponse {
	choice := resp.Choices[0]
	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	out := provider.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: finishReason(choice.FinishReason),
		Usage:        usage,
	}
	for _, c := range choice.Message.ToolCalls {
		call := provider.ToolCall{ID: c.ID, Name: c.Function.Name}
		if c.Function.Arguments != "" {
			call.Arguments = json.RawMessage(c.Function.Arguments)
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out
}

func finishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishReasonStop
	case "length":
		return provider.FinishReasonLength
	case "tool_calls", "function_call":
		return provider.FinishReasonToolUse
	case "content_filter":
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReason(reason)
	}
}
