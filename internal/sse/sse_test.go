// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package sse

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/openai"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/jsonvalue"
)

func mustParse(t *testing.T, s string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func decodeChunk(t *testing.T, line string) openai.ChatCompletionChunk {
	t.Helper()
	require.True(t, strings.HasPrefix(line, "data: "))
	require.True(t, strings.HasSuffix(line, "\n\n"))
	body := strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n\n")
	var chunk openai.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(body), &chunk))
	return chunk
}

// TestEncoder_S3 implements spec scenario S3: streaming with usage.
func TestEncoder_S3_StreamingWithUsage(t *testing.T) {
	clock := int64(1700000000)
	enc := NewEncoder("anthropic/claude-sonnet-4-5-20250514", true, func() int64 { return clock })
	var state StreamState
	var lines []string

	events := []string{
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":100,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hey"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"! I'm doing great"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":", thanks for asking."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":15}}`,
		`{"type":"message_stop"}`,
	}
	for _, raw := range events {
		lines = append(lines, enc.Encode(mustParse(t, raw), &state)...)
	}

	require.Len(t, lines, 7) // 6 chunks + [DONE]
	assert.Equal(t, Done, lines[6])

	opening := decodeChunk(t, lines[0])
	require.Len(t, opening.Choices, 1)
	assert.Equal(t, "assistant", opening.Choices[0].Delta.Role)
	require.NotNil(t, opening.Choices[0].Delta.Content)
	assert.Equal(t, "", *opening.Choices[0].Delta.Content)

	wantText := []string{"Hey", "! I'm doing great", ", thanks for asking."}
	for i, want := range wantText {
		c := decodeChunk(t, lines[1+i])
		require.NotNil(t, c.Choices[0].Delta.Content)
		assert.Equal(t, want, *c.Choices[0].Delta.Content)
	}

	finish := decodeChunk(t, lines[4])
	require.NotNil(t, finish.Choices[0].FinishReason)
	assert.Equal(t, openai.FinishStop, *finish.Choices[0].FinishReason)

	usageChunk := decodeChunk(t, lines[5])
	assert.Empty(t, usageChunk.Choices)
	require.NotNil(t, usageChunk.Usage)
	assert.Equal(t, int64(115), usageChunk.Usage.TotalTokens)
	assert.Equal(t, int64(100), usageChunk.Usage.PromptTokens)
	assert.Equal(t, int64(15), usageChunk.Usage.CompletionTokens)

	// id/model/created constant across every non-sentinel chunk.
	for _, l := range lines[:6] {
		c := decodeChunk(t, l)
		assert.Equal(t, opening.ID, c.ID)
		assert.Equal(t, opening.Model, c.Model)
		assert.Equal(t, opening.Created, c.Created)
	}
}

func TestEncoder_UnknownEventTypeYieldsNothing(t *testing.T) {
	enc := NewEncoder("m", false, func() int64 { return 0 })
	var state StreamState
	lines := enc.Encode(mustParse(t, `{"type":"ping"}`), &state)
	assert.Empty(t, lines)
}

func TestEncoder_NoUsageWhenNotRequested(t *testing.T) {
	enc := NewEncoder("m", false, func() int64 { return 0 })
	var state StreamState
	enc.Encode(mustParse(t, `{"type":"message_start","message":{"id":"msg_1"}}`), &state)
	lines := enc.Encode(mustParse(t, `{"type":"message_stop"}`), &state)
	require.Len(t, lines, 1)
	assert.Equal(t, Done, lines[0])
}

func TestEncoder_ToolUseStreaming(t *testing.T) {
	enc := NewEncoder("m", false, func() int64 { return 0 })
	var state StreamState
	enc.Encode(mustParse(t, `{"type":"message_start","message":{"id":"msg_1"}}`), &state)

	startLines := enc.Encode(mustParse(t, `{"type":"content_block_start","content_block":{"type":"tool_use","id":"call_1","name":"weather"}}`), &state)
	require.Len(t, startLines, 1)
	start := decodeChunk(t, startLines[0])
	require.Len(t, start.Choices[0].Delta.ToolCalls, 1)
	assert.Equal(t, "call_1", start.Choices[0].Delta.ToolCalls[0].ID)
	assert.Equal(t, "weather", start.Choices[0].Delta.ToolCalls[0].Function.Name)
	assert.Equal(t, int64(0), start.Choices[0].Delta.ToolCalls[0].Index)

	fragLines := enc.Encode(mustParse(t, `{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`), &state)
	frag := decodeChunk(t, fragLines[0])
	assert.Equal(t, "", frag.Choices[0].Delta.ToolCalls[0].ID)
	assert.Equal(t, `{"city":`, frag.Choices[0].Delta.ToolCalls[0].Function.Arguments)

	enc.Encode(mustParse(t, `{"type":"content_block_stop"}`), &state)
	assert.Equal(t, int64(1), state.ToolCallIndex)
	assert.False(t, state.CurrentBlockIsToolUse)
}
