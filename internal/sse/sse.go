// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package sse implements the stateful Anthropic-streaming-event to
// OpenAI-SSE-chunk translator (C6). Encode is deliberately a pure
// function over (event, *StreamState) rather than a coroutine, so any
// caller scheduling model — a goroutine with a channel, a synchronous
// callback, whatever — observes identical output.
package sse

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/bedrock"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/openai"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/jsonvalue"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/translator"
)

const chunkObject = "chat.completion.chunk"

// Done is the literal sentinel line every streaming session ends with.
const Done = "data: [DONE]\n\n"

// StreamState is the per-stream mutable state threaded through Encode.
// It is created lazily (zero value is valid) on the first message_start
// event and discarded when the stream terminates.
type StreamState struct {
	ChunkID               string
	Model                 string
	Created               int64
	InputTokens           int64
	OutputTokens          int64
	ToolCallIndex         int64
	CurrentBlockIsToolUse bool
}

// Encoder holds the per-stream configuration Encode needs but that
// never changes across events: the client's original model string, the
// clock to stamp `created` with, and whether the client opted into a
// trailing usage chunk.
type Encoder struct {
	OriginalModel string
	IncludeUsage  bool
	Now           func() int64
}

// NewEncoder returns an Encoder for one streaming session.
func NewEncoder(originalModel string, includeUsage bool, now func() int64) *Encoder {
	return &Encoder{OriginalModel: originalModel, IncludeUsage: includeUsage, Now: now}
}

// Encode translates one decoded Anthropic streaming event into zero or
// more OpenAI SSE lines, mutating state as needed. Unknown event types
// yield no lines; Encode never fails.
func (e *Encoder) Encode(event jsonvalue.Value, state *StreamState) []string {
	typ, _ := bedrock.EventType(event)
	switch typ {
	case "message_start":
		return e.encodeMessageStart(event, state)
	case "content_block_start":
		return e.encodeContentBlockStart(event, state)
	case "content_block_delta":
		return e.encodeContentBlockDelta(event, state)
	case "content_block_stop":
		if state.CurrentBlockIsToolUse {
			state.ToolCallIndex++
			state.CurrentBlockIsToolUse = false
		}
		return nil
	case "message_delta":
		return e.encodeMessageDelta(event, state)
	case "message_stop":
		return e.encodeMessageStop(state)
	default:
		return nil
	}
}

func (e *Encoder) encodeMessageStart(event jsonvalue.Value, state *StreamState) []string {
	id := ""
	if message, ok := event.Get("message"); ok {
		id, _ = message.GetString("id")
	}
	if id == "" {
		id = uuid.NewString()
	}
	id = "chatcmpl-" + id

	state.ChunkID = id
	state.Model = e.OriginalModel
	state.Created = e.Now()
	if in, _, ok := bedrock.Usage(event); ok {
		state.InputTokens = in
	}

	emptyContent := ""
	chunk := e.newChunk(state, nil)
	chunk.Choices = []openai.ChunkChoice{{
		Index: 0,
		Delta: openai.Delta{Role: "assistant", Content: &emptyContent},
	}}
	return []string{encodeLine(chunk)}
}

func (e *Encoder) encodeContentBlockStart(event jsonvalue.Value, state *StreamState) []string {
	block, ok := event.Get("content_block")
	if !ok {
		return nil
	}
	blockType, _ := block.GetString("type")
	if blockType != "tool_use" {
		state.CurrentBlockIsToolUse = false
		return nil
	}
	state.CurrentBlockIsToolUse = true

	id, _ := block.GetString("id")
	name, _ := block.GetString("name")

	chunk := e.newChunk(state, nil)
	chunk.Choices = []openai.ChunkChoice{{
		Index: 0,
		Delta: openai.Delta{ToolCalls: []openai.ToolCallDelta{{
			Index:    state.ToolCallIndex,
			ID:       id,
			Type:     "function",
			Function: openai.FunctionCallDelta{Name: name},
		}}},
	}}
	return []string{encodeLine(chunk)}
}

func (e *Encoder) encodeContentBlockDelta(event jsonvalue.Value, state *StreamState) []string {
	delta, ok := event.Get("delta")
	if !ok {
		return nil
	}
	deltaType, _ := delta.GetString("type")

	switch deltaType {
	case "text_delta":
		text, _ := delta.GetString("text")
		chunk := e.newChunk(state, nil)
		chunk.Choices = []openai.ChunkChoice{{
			Index: 0,
			Delta: openai.Delta{Role: "assistant", Content: &text},
		}}
		return []string{encodeLine(chunk)}
	case "input_json_delta":
		partial, _ := delta.GetString("partial_json")
		chunk := e.newChunk(state, nil)
		chunk.Choices = []openai.ChunkChoice{{
			Index: 0,
			Delta: openai.Delta{ToolCalls: []openai.ToolCallDelta{{
				Index:    state.ToolCallIndex,
				Function: openai.FunctionCallDelta{Arguments: partial},
			}}},
		}}
		return []string{encodeLine(chunk)}
	default:
		return nil
	}
}

func (e *Encoder) encodeMessageDelta(event jsonvalue.Value, state *StreamState) []string {
	if usage, ok := event.Get("usage"); ok {
		if out, ok := usage.Get("output_tokens"); ok {
			if n, ok := out.NumberValue(); ok {
				state.OutputTokens = int64(n)
			}
		}
	}

	stopReason, _ := bedrock.StopReason(event)
	finish := translator.MapStopReason(stopReason)

	chunk := e.newChunk(state, nil)
	chunk.Choices = []openai.ChunkChoice{{
		Index:        0,
		Delta:        openai.Delta{Role: "assistant"},
		FinishReason: &finish,
	}}
	return []string{encodeLine(chunk)}
}

func (e *Encoder) encodeMessageStop(state *StreamState) []string {
	var lines []string
	if e.IncludeUsage {
		total := state.InputTokens + state.OutputTokens
		usage := &openai.Usage{
			PromptTokens:     state.InputTokens,
			CompletionTokens: state.OutputTokens,
			TotalTokens:      total,
		}
		chunk := e.newChunk(state, usage)
		chunk.Choices = []openai.ChunkChoice{}
		lines = append(lines, encodeLine(chunk))
	}
	lines = append(lines, Done)
	return lines
}

func (e *Encoder) newChunk(state *StreamState, usage *openai.Usage) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:      state.ChunkID,
		Object:  chunkObject,
		Created: state.Created,
		Model:   state.Model,
		Usage:   usage,
	}
}

func encodeLine(chunk openai.ChatCompletionChunk) string {
	b, err := json.Marshal(chunk)
	if err != nil {
		// Every field of ChatCompletionChunk is JSON-safe; this would
		// only happen from a broken json.Marshaler implementation.
		panic(fmt.Errorf("sse: failed to marshal chunk: %w", err))
	}
	return "data: " + string(b) + "\n\n"
}
