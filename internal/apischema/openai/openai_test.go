// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Content
		wantErr bool
	}{
		{name: "string", in: `"hello"`, want: Content{Text: "hello"}},
		{
			name: "parts",
			in:   `[{"type":"text","text":"hi"}]`,
			want: Content{IsParts: true, Parts: []ContentPart{{Type: ContentPartText, Text: "hi"}}},
		},
		{name: "invalid", in: `42`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			err := json.Unmarshal([]byte(tt.in), &c)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestStop_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Stop
	}{
		{name: "single string widens to one element", in: `"STOP"`, want: Stop{"STOP"}},
		{name: "array passes through", in: `["a","b"]`, want: Stop{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Stop
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestToolChoice_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ToolChoice
	}{
		{name: "auto", in: `"auto"`, want: ToolChoice{Mode: "auto"}},
		{name: "required", in: `"required"`, want: ToolChoice{Mode: "required"}},
		{
			name: "function",
			in:   `{"type":"function","function":{"name":"get_weather"}}`,
			want: ToolChoice{Mode: "function", FunctionName: "get_weather"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tc ToolChoice
			require.NoError(t, json.Unmarshal([]byte(tt.in), &tc))
			assert.Equal(t, tt.want, tc)
		})
	}
}

func TestChatCompletionRequest_UnmarshalJSON(t *testing.T) {
	in := []byte(`{
		"model": "claude-sonnet-4-5-20250514",
		"messages": [
			{"role": "system", "content": "You are helpful."},
			{"role": "user", "content": "Weather?"},
			{"role": "assistant", "content": "", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "weather", "arguments": "{\"city\":\"Paris\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "Sunny 25C"}
		],
		"stream": true,
		"stream_options": {"include_usage": true},
		"stop": "STOP"
	}`)
	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal(in, &req))

	assert.Equal(t, "claude-sonnet-4-5-20250514", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are helpful.", req.Messages[0].Content.Text)
	assert.True(t, req.Stream)
	require.NotNil(t, req.StreamOptions)
	assert.True(t, req.StreamOptions.IncludeUsage)
	assert.Equal(t, Stop{"STOP"}, req.Stop)

	assistant := req.Messages[2]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "weather", assistant.ToolCalls[0].Function.Name)

	tool := req.Messages[3]
	assert.Equal(t, RoleTool, tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, "Sunny 25C", tool.Content.Text)
}

func TestErrorResponse_MarshalJSON_KeyOrder(t *testing.T) {
	e := ErrorResponse{Error: ErrorBody{Message: "boom", Type: "invalid_request_error", Code: "invalid_request"}}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"message":"boom","type":"invalid_request_error","code":"invalid_request"}}`, string(b))
}
