// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package eventstream parses the AWS binary EventStream framing Bedrock
// uses for InvokeModelWithResponseStream, decoding each frame into the
// Anthropic streaming event JSON it carries. Frame decoding itself is
// delegated to github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream,
// the same dependency the teacher uses for this exact purpose; this
// package only interprets the `:message-type`/`:event-type` headers and
// the chunk payload's base64 envelope.
package eventstream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	awseventstream "github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// Event is one decoded Anthropic streaming event, still raw JSON bytes
// (the caller parses it as a jsonvalue.Value).
type Event struct {
	Payload []byte
}

// ExceptionError is raised when a frame's `:message-type` header is
// "exception". No event is emitted for such a frame.
type ExceptionError struct {
	ExceptionType string
	Message       string
}

func (e *ExceptionError) Error() string {
	if e.ExceptionType != "" {
		return fmt.Sprintf("eventstream: exception frame (%s): %s", e.ExceptionType, e.Message)
	}
	return fmt.Sprintf("eventstream: exception frame: %s", e.Message)
}

// ParseError is raised when a chunk frame's payload cannot be decoded as
// the expected `{"bytes": <base64>}` envelope.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return "eventstream: " + e.Message }

// Parser incrementally decodes a byte stream of EventStream frames.
// Partial frames are retained across Feed calls; the accumulator
// compacts after each call to bound memory.
type Parser struct {
	dec *awseventstream.Decoder
	buf []byte
}

// NewParser returns a ready-to-use Parser.
func NewParser() *Parser {
	return &Parser{dec: awseventstream.NewDecoder()}
}

// Feed appends chunk to the internal accumulator and decodes as many
// complete frames as are buffered, returning the Anthropic events they
// carried. A frame whose :event-type is not "chunk" (e.g. the initial
// response preamble) contributes no event and is not an error. An
// exception frame returns the events decoded so far alongside an
// *ExceptionError; the caller should treat that as end-of-stream.
func (p *Parser) Feed(chunk []byte) ([]Event, error) {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		r := bytes.NewReader(p.buf)
		msg, err := p.dec.Decode(r, nil)
		if err != nil {
			// Not enough bytes buffered for a complete frame yet; retain
			// what we have for the next Feed call.
			break
		}
		consumed := int64(len(p.buf)) - int64(r.Len())
		p.buf = p.buf[consumed:]

		event, ok, ferr := decodeFrame(msg)
		if ferr != nil {
			p.compact()
			return events, ferr
		}
		if ok {
			events = append(events, event)
		}
	}

	p.compact()
	return events, nil
}

// compact reallocates the retained buffer so repeated appends in Feed
// don't hold onto an ever-growing backing array across many chunks.
func (p *Parser) compact() {
	if len(p.buf) == 0 {
		p.buf = nil
		return
	}
	retained := make([]byte, len(p.buf))
	copy(retained, p.buf)
	p.buf = retained
}

func decodeFrame(msg awseventstream.Message) (Event, bool, error) {
	if headerString(msg.Headers, ":message-type") == "exception" {
		return Event{}, false, &ExceptionError{
			ExceptionType: headerString(msg.Headers, ":exception-type"),
			Message:       string(msg.Payload),
		}
	}

	if headerString(msg.Headers, ":event-type") != "chunk" {
		return Event{}, false, nil
	}

	var envelope struct {
		Bytes string `json:"bytes"`
	}
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		return Event{}, false, &ParseError{Message: err.Error()}
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope.Bytes)
	if err != nil {
		return Event{}, false, &ParseError{Message: err.Error()}
	}
	return Event{Payload: decoded}, true, nil
}

func headerString(headers awseventstream.Headers, name string) string {
	v := headers.Get(name)
	if v == nil {
		return ""
	}
	return v.String()
}
