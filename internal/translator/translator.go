// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package translator implements the request translator (C3), from the
// OpenAI Chat Completions schema to the Bedrock/Anthropic Invoke body,
// and the unary response translator (C4), from a Bedrock Invoke response
// back to an OpenAI chat completion. Both directions are pure functions
// of their inputs, except that the response translator mints a random id
// when the Bedrock response carries none.
package translator

import "fmt"

// Error is raised by TranslateRequest when the client request cannot be
// translated (as opposed to errors from downstream collaborators).
type Error struct {
	Message string
}

func (e *Error) Error() string { return "translator: " + e.Message }

func missingFunctionError(index int) error {
	return &Error{Message: fmt.Sprintf("tool at index %d has no function definition", index)}
}
