// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/bedrock"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/openai"
)

// MapStopReason maps a Bedrock/Anthropic stop_reason to an OpenAI
// finish_reason. Shared between the unary response translator (C4) and
// the SSE encoder (C6), which the spec requires to apply the identical
// mapping.
func MapStopReason(stopReason string) openai.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return openai.FinishStop
	case "max_tokens":
		return openai.FinishLength
	case "tool_use":
		return openai.FinishToolCalls
	case "":
		return ""
	default:
		return openai.FinishReason(stopReason)
	}
}

// TranslateResponse converts a unary Bedrock Invoke response into an
// OpenAI chat completion. now is the Unix-seconds creation timestamp to
// stamp onto the result (injected so the caller controls clock access).
func TranslateResponse(resp bedrock.Response, originalModel string, now int64) openai.ChatCompletionResponse {
	id, _ := resp.GetString("id")
	if id == "" {
		id = uuid.NewString()
	}

	var text strings.Builder
	hasText := false
	var toolCalls []openai.ToolCall

	if blocks, ok := bedrock.ContentBlocks(resp); ok {
		for _, b := range blocks {
			typ, _ := b.GetString("type")
			switch typ {
			case "text":
				if t, ok := b.GetString("text"); ok {
					text.WriteString(t)
					hasText = true
				}
			case "tool_use":
				tcID, _ := b.GetString("id")
				name, _ := b.GetString("name")
				var argBytes []byte
				if input, ok := b.Get("input"); ok {
					argBytes, _ = json.Marshal(input)
				} else {
					argBytes = []byte("{}")
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   tcID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      name,
						Arguments: string(argBytes),
					},
				})
			}
		}
	}

	var content *string
	if hasText {
		s := text.String()
		content = &s
	}

	finish := MapStopReason(stopReasonOf(resp))
	if len(toolCalls) > 0 && finish == "" {
		finish = openai.FinishToolCalls
	}

	msg := openai.ResponseMessage{Role: "assistant", Content: content}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	out := openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + id,
		Object:  "chat.completion",
		Created: now,
		Model:   originalModel,
		Choices: []openai.Choice{{Index: 0, Message: msg, FinishReason: finish}},
	}
	if inTok, outTok, ok := bedrock.Usage(resp); ok {
		out.Usage = &openai.Usage{PromptTokens: inTok, CompletionTokens: outTok, TotalTokens: inTok + outTok}
	}
	return out
}

func stopReasonOf(resp bedrock.Response) string {
	s, _ := bedrock.StopReason(resp)
	return s
}
