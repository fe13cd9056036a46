// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package bedrock contains the subset of the Bedrock Runtime Invoke API
// schema this proxy speaks on its southbound face, targeting Anthropic
// models through InvokeModel / InvokeModelWithResponseStream. Request
// bodies are strict structs because this proxy constructs them; response
// and streaming-event bodies are kept as jsonvalue.Value so that a field
// Bedrock adds tomorrow does not break decoding today.
package bedrock

import (
	"encoding/json"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/jsonvalue"
)

// AnthropicVersion is the fixed value Bedrock's Anthropic Invoke API
// requires in every request body.
const AnthropicVersion = "bedrock-2023-05-31"

// InvokeRequest is the JSON body of POST /model/{id}/invoke and
// /model/{id}/invoke-with-response-stream.
type InvokeRequest struct {
	AnthropicVersion string      `json:"anthropic_version"`
	MaxTokens        int64       `json:"max_tokens"`
	Messages         []Message   `json:"messages"`
	System           string      `json:"system,omitempty"`
	Temperature      *float64    `json:"temperature,omitempty"`
	TopP             *float64    `json:"top_p,omitempty"`
	StopSequences    []string    `json:"stop_sequences,omitempty"`
	Tools            []Tool      `json:"tools,omitempty"`
	ToolChoice       *ToolChoice `json:"tool_choice,omitempty"`
}

// Message is one turn of the Anthropic-shaped conversation. Role is
// "user" or "assistant"; Bedrock's Invoke API has no "system" role, so
// system content is hoisted into InvokeRequest.System instead.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlockType discriminates the shape of a ContentBlock.
type ContentBlockType string

// The content block kinds this proxy produces or consumes.
const (
	ContentBlockText       ContentBlockType = "text"
	ContentBlockImage      ContentBlockType = "image"
	ContentBlockToolUse    ContentBlockType = "tool_use"
	ContentBlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one element of a Message's content array. Only the
// fields relevant to Type are populated; the rest are left zero.
type ContentBlock struct {
	Type   ContentBlockType `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *ImageSource     `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input *jsonvalue.Value `json:"input,omitempty"`

	// tool_result
	ToolUseID         string `json:"tool_use_id,omitempty"`
	ToolResultContent string `json:"content,omitempty"`
	IsError           bool   `json:"is_error,omitempty"`
}

// ImageSource is the base64 inline source of an image content block.
// This proxy does not translate image parts (see spec Non-goals); the
// type exists for forward compatibility only.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Tool declares a function the model may invoke.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice controls whether, and which, tool the model must use.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", or "tool"
	Name string `json:"name,omitempty"`
}

// Response is a non-streaming Invoke response body. It is never decoded
// into a strict struct; use the accessor functions below against the
// parsed jsonvalue.Value instead.
type Response = jsonvalue.Value

// StreamEvent is one decoded Anthropic streaming event payload (the JSON
// carried inside a "chunk" EventStream frame), also kept untyped.
type StreamEvent = jsonvalue.Value

// EventType returns the Anthropic streaming event's "type" field, e.g.
// "content_block_delta" or "message_stop".
func EventType(v StreamEvent) (string, bool) {
	return v.GetString("type")
}

// StopReason extracts stop_reason from a unary Response or a
// message_delta StreamEvent's nested "delta" object.
func StopReason(v jsonvalue.Value) (string, bool) {
	if s, ok := v.GetString("stop_reason"); ok {
		return s, true
	}
	delta, ok := v.Get("delta")
	if !ok {
		return "", false
	}
	return delta.GetString("stop_reason")
}

// Usage extracts cumulative input/output token counts from a unary
// Response's top-level "usage" object, or from a message_start event's
// nested "message.usage", or a message_delta event's top-level "usage".
func Usage(v jsonvalue.Value) (inputTokens, outputTokens int64, ok bool) {
	usage, found := v.Get("usage")
	if !found {
		if msg, hasMsg := v.Get("message"); hasMsg {
			usage, found = msg.Get("usage")
		}
	}
	if !found {
		return 0, 0, false
	}
	in, inOK := usage.Get("input_tokens")
	out, outOK := usage.Get("output_tokens")
	inVal, _ := in.NumberValue()
	outVal, _ := out.NumberValue()
	if !inOK || !outOK {
		return 0, 0, false
	}
	return int64(inVal), int64(outVal), true
}

// ContentBlocks extracts the top-level "content" array of a unary
// Response.
func ContentBlocks(v jsonvalue.Value) ([]jsonvalue.Value, bool) {
	content, ok := v.Get("content")
	if !ok {
		return nil, false
	}
	return content.ArrayValue()
}

// FoundationModelSummary is one entry of ListFoundationModelsResponse.
type FoundationModelSummary struct {
	ModelID        string `json:"modelId"`
	ModelName      string `json:"modelName"`
	ProviderName   string `json:"providerName"`
	ModelLifecycle struct {
		Status string `json:"status"`
	} `json:"modelLifecycle"`
}

// ListFoundationModelsResponse is the body of
// GET /foundation-models?byProvider=Anthropic.
type ListFoundationModelsResponse struct {
	ModelSummaries []FoundationModelSummary `json:"modelSummaries"`
}

// InferenceProfileModel names one underlying foundation model of an
// inference profile.
type InferenceProfileModel struct {
	ModelArn string `json:"modelArn"`
}

// InferenceProfileSummary is one entry of ListInferenceProfilesResponse.
type InferenceProfileSummary struct {
	InferenceProfileID   string                  `json:"inferenceProfileId"`
	InferenceProfileName string                  `json:"inferenceProfileName"`
	Status               string                  `json:"status"`
	Type                 string                  `json:"type"`
	Models               []InferenceProfileModel `json:"models"`
}

// ListInferenceProfilesResponse is the body of
// GET /inference-profiles?maxResults=1000&typeEquals=SYSTEM_DEFINED.
type ListInferenceProfilesResponse struct {
	InferenceProfileSummaries []InferenceProfileSummary `json:"inferenceProfileSummaries"`
	NextToken                 string                    `json:"nextToken,omitempty"`
}
