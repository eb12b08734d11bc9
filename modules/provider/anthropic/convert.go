package anthropic

import (
	"encoding/json"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/flemzord/scout/internal/provider"
)

// messageParams builds the Messages API call for one planner turn.
// A request-level max tokens overrides the configured one.
func messageParams(req provider.CompletionRequest, cfg *Config) sdkanthropic.MessageNewParams {
	system, messages := transcript(req.Messages)
	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		System:    system,
		Messages:  messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}

	if cfg.Temperature != nil {
		params.Temperature = sdkanthropic.Float(*cfg.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toolParams(req.Tools)
	}
	return params
}

// transcript splits the research conversation into the System field and
// the turn list. Every system message goes to System wherever it sits,
// since the API has no inline system role. The results of one planner turn
// (search results, sent-email confirmations, reviewer feedback) travel
// together in a single user turn, as the API requires.
func transcript(msgs []provider.LLMMessage) ([]sdkanthropic.TextBlockParam, []sdkanthropic.MessageParam) {
	var (
		system []sdkanthropic.TextBlockParam
		turns  []sdkanthropic.MessageParam
	)
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		switch m.Role {
		case provider.MessageRoleSystem:
			system = append(system, sdkanthropic.TextBlockParam{Text: m.Content})
		case provider.MessageRoleUser:
			turns = append(turns, sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock(m.Content)))
		case provider.MessageRoleAssistant:
			turns = append(turns, assistantTurn(m))
		case provider.MessageRoleTool:
			var results []sdkanthropic.ContentBlockParamUnion
			for ; i < len(msgs) && msgs[i].Role == provider.MessageRoleTool; i++ {
				results = append(results, sdkanthropic.NewToolResultBlock(msgs[i].ToolID, msgs[i].Content, msgs[i].IsError))
			}
			i--
			turns = append(turns, sdkanthropic.NewUserMessage(results...))
		}
	}
	return system, turns
}

func assistantTurn(m provider.LLMMessage) sdkanthropic.MessageParam {
	var blocks []sdkanthropic.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, sdkanthropic.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, sdkanthropic.NewToolUseBlock(tc.ID, tc.Input(), tc.Name))
	}
	return sdkanthropic.NewAssistantMessage(blocks...)
}

func toolParams(defs []provider.ToolDefinition) []sdkanthropic.ToolUnionParam {
	out := make([]sdkanthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		tp := &sdkanthropic.ToolParam{Name: d.Name, InputSchema: inputSchema(d.Parameters)}
		if d.Description != "" {
			tp.Description = sdkanthropic.String(d.Description)
		}
		out[i] = sdkanthropic.ToolUnionParam{OfTool: tp}
	}
	return out
}

// inputSchema maps a registry schema onto the SDK type. The SDK sets
// "type" itself and the "$schema" draft marker is dropped; properties and
// required get their typed fields and anything else (enum items,
// additionalProperties) rides in ExtraFields.
func inputSchema(raw json.RawMessage) sdkanthropic.ToolInputSchemaParam {
	var schema sdkanthropic.ToolInputSchemaParam
	var fields map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return schema
	}

	schema.Properties = fields["properties"]
	if req, ok := fields["required"].([]any); ok {
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	for _, k := range []string{"properties", "required", "type", "$schema"} {
		delete(fields, k)
	}
	if len(fields) > 0 {
		schema.ExtraFields = fields
	}
	return schema
}

// completion maps a Messages API reply onto a planner turn. Text blocks
// are joined with newlines; the final research answer is their join.
func completion(msg *sdkanthropic.Message) provider.CompletionResponse {
	var (
		text  []string
		calls []provider.ToolCall
	)
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdkanthropic.TextBlock:
			text = append(text, b.Text)
		case sdkanthropic.ToolUseBlock:
			calls = append(calls, provider.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}

	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return provider.CompletionResponse{
		Content:      strings.Join(text, "\n"),
		ToolCalls:    calls,
		FinishReason: finishReason(msg.StopReason),
		Usage:        provider.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}
}

func finishReason(reason sdkanthropic.StopReason) provider.FinishReason {
	switch reason {
	case sdkanthropic.StopReasonMaxTokens:
		return provider.FinishReasonLength
	case sdkanthropic.StopReasonToolUse:
		return provider.FinishReasonToolUse
	case sdkanthropic.StopReasonRefusal:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}
