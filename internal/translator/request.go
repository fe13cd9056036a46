// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/bedrock"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/openai"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/jsonvalue"
)

const defaultMaxTokens int64 = 8192

const (
	invokePathTemplate       = "/model/%s/invoke"
	invokeStreamPathTemplate = "/model/%s/invoke-with-response-stream"
)

// Request is the output of TranslateRequest: everything the orchestrator
// needs to dispatch the outbound call.
type Request struct {
	BedrockPath   string
	BedrockBody   bedrock.InvokeRequest
	IsStreaming   bool
	IncludeUsage  bool
	OriginalModel string
}

// TranslateRequest builds a Bedrock Invoke request from a validated
// OpenAI chat completion request and the already-resolved Bedrock model
// id (see internal/modelcache).
func TranslateRequest(req *openai.ChatCompletionRequest, bedrockModelID string) (*Request, error) {
	system, messages, err := translateMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := translateTools(req.Tools)
	if err != nil {
		return nil, err
	}

	body := bedrock.InvokeRequest{
		AnthropicVersion: bedrock.AnthropicVersion,
		MaxTokens:        resolveMaxTokens(req),
		System:           system,
		Messages:         messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Tools:            tools,
		ToolChoice:       translateToolChoice(req.ToolChoice),
	}
	if len(req.Stop) > 0 {
		body.StopSequences = []string(req.Stop)
	}

	pathTemplate := invokePathTemplate
	if req.Stream {
		pathTemplate = invokeStreamPathTemplate
	}

	return &Request{
		BedrockPath:   fmt.Sprintf(pathTemplate, bedrockModelID),
		BedrockBody:   body,
		IsStreaming:   req.Stream,
		IncludeUsage:  req.StreamOptions != nil && req.StreamOptions.IncludeUsage,
		OriginalModel: req.Model,
	}, nil
}

func resolveMaxTokens(req *openai.ChatCompletionRequest) int64 {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	if req.MaxCompletionTokens != nil {
		return *req.MaxCompletionTokens
	}
	return defaultMaxTokens
}

// contentBlocksFromContent applies the string/parts content rule shared
// by user, assistant, and "other role" messages: a string wraps as one
// text block; a parts array keeps only text parts, dropping the rest
// (image parts are a v1 non-goal).
func contentBlocksFromContent(c openai.Content) []bedrock.ContentBlock {
	if !c.IsParts {
		return []bedrock.ContentBlock{{Type: bedrock.ContentBlockText, Text: c.Text}}
	}
	blocks := make([]bedrock.ContentBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == openai.ContentPartText {
			blocks = append(blocks, bedrock.ContentBlock{Type: bedrock.ContentBlockText, Text: p.Text})
		}
	}
	return blocks
}

// translateMessages produces the hoisted system string and the ordered
// Bedrock message list, merging adjacent tool results into a single
// user message as they arrive.
func translateMessages(messages []openai.Message) (string, []bedrock.Message, error) {
	var systemParts []string
	var out []bedrock.Message

	for _, m := range messages {
		switch m.Role {
		case openai.RoleSystem:
			systemParts = append(systemParts, m.Content.Text)

		case openai.RoleUser:
			out = append(out, bedrock.Message{Role: "user", Content: contentBlocksFromContent(m.Content)})

		case openai.RoleAssistant:
			var blocks []bedrock.ContentBlock
			if m.Content.IsParts || m.Content.Text != "" {
				blocks = contentBlocksFromContent(m.Content)
			}
			for _, tc := range m.ToolCalls {
				input := parseToolArguments(tc.Function.Arguments)
				blocks = append(blocks, bedrock.ContentBlock{
					Type: bedrock.ContentBlockToolUse,
					ID:   tc.ID,
					Name: tc.Function.Name,
					Input: &input,
				})
			}
			if len(blocks) == 0 {
				blocks = []bedrock.ContentBlock{{Type: bedrock.ContentBlockText, Text: ""}}
			}
			out = append(out, bedrock.Message{Role: "assistant", Content: blocks})

		case openai.RoleTool:
			block := bedrock.ContentBlock{
				Type:              bedrock.ContentBlockToolResult,
				ToolUseID:         m.ToolCallID,
				ToolResultContent: m.Content.Text,
			}
			if n := len(out); n > 0 && out[n-1].Role == "user" && isAllToolResults(out[n-1].Content) {
				out[n-1].Content = append(out[n-1].Content, block)
			} else {
				out = append(out, bedrock.Message{Role: "user", Content: []bedrock.ContentBlock{block}})
			}

		default:
			out = append(out, bedrock.Message{Role: string(m.Role), Content: contentBlocksFromContent(m.Content)})
		}
	}

	system := ""
	if len(systemParts) > 0 {
		system = joinWithNewlines(systemParts)
	}
	return system, out, nil
}

func joinWithNewlines(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n" + p
	}
	return out
}

func isAllToolResults(blocks []bedrock.ContentBlock) bool {
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		if b.Type != bedrock.ContentBlockToolResult {
			return false
		}
	}
	return true
}

// parseToolArguments parses a tool call's JSON-encoded argument string
// into a jsonvalue.Value, falling back to carrying it as a raw JSON
// string if it does not parse.
func parseToolArguments(raw string) jsonvalue.Value {
	v, err := jsonvalue.Parse([]byte(raw))
	if err != nil {
		return jsonvalue.String(raw)
	}
	return v
}

func translateTools(tools []openai.ToolDef) ([]bedrock.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]bedrock.Tool, 0, len(tools))
	for i, t := range tools {
		if t.Function.Name == "" {
			return nil, missingFunctionError(i)
		}
		out = append(out, bedrock.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return out, nil
}

func translateToolChoice(tc *openai.ToolChoice) *bedrock.ToolChoice {
	if tc == nil {
		return nil
	}
	switch tc.Mode {
	case "auto":
		return &bedrock.ToolChoice{Type: "auto"}
	case "required":
		return &bedrock.ToolChoice{Type: "any"}
	case "function":
		return &bedrock.ToolChoice{Type: "tool", Name: tc.FunctionName}
	default: // "none", or anything unrecognized
		return nil
	}
}
