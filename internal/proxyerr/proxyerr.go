// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package proxyerr is the OpenAI-shaped error taxonomy every surfaced
// failure in the proxy is translated into before reaching the client.
package proxyerr

import (
	"encoding/json"
	"net/http"
)

// Error is a failure carrying both the HTTP status to answer the client
// with and the OpenAI error envelope fields.
type Error struct {
	HTTPStatus int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string { return e.Message }

// WriteJSON writes the OpenAI-shaped error envelope
// {"error":{"message","type","code"}} with the error's HTTP status.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(envelope{Error: envelopeBody{
		Message: e.Message,
		Type:    e.Type,
		Code:    e.Code,
	}})
}

type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// InvalidRequest covers malformed JSON, empty model/messages, oversized
// bodies, and missing function definitions on a tool.
func InvalidRequest(message string) *Error {
	return &Error{HTTPStatus: http.StatusBadRequest, Type: "invalid_request_error", Code: "invalid_request", Message: message}
}

// ModelNotFound covers a model-resolution miss or an upstream 404.
func ModelNotFound(message string) *Error {
	return &Error{HTTPStatus: http.StatusNotFound, Type: "invalid_request_error", Code: "model_not_found", Message: message}
}

// AuthorizationFailed covers an upstream 403.
func AuthorizationFailed(message string) *Error {
	return &Error{HTTPStatus: http.StatusInternalServerError, Type: "server_error", Code: "server_error", Message: message}
}

// RateLimited covers an upstream 429.
func RateLimited(message string) *Error {
	return &Error{HTTPStatus: http.StatusTooManyRequests, Type: "rate_limit_error", Code: "rate_limit_exceeded", Message: message}
}

// Timeout covers an upstream 408.
func Timeout(message string) *Error {
	return &Error{HTTPStatus: http.StatusRequestTimeout, Type: "server_error", Code: "timeout", Message: message}
}

// UpstreamServerError covers an upstream 5xx or any other unexpected status.
func UpstreamServerError(message string) *Error {
	return &Error{HTTPStatus: http.StatusInternalServerError, Type: "server_error", Code: "server_error", Message: message}
}

// Internal covers failures in signing, encoding, or response construction.
func Internal(message string) *Error {
	return &Error{HTTPStatus: http.StatusInternalServerError, Type: "server_error", Code: "server_error", Message: message}
}

// FromUpstreamStatus maps a Bedrock HTTP status (and its body message, if
// any) onto the taxonomy above, per the status table in the error design.
func FromUpstreamStatus(status int, body string) *Error {
	switch {
	case status == http.StatusNotFound:
		return ModelNotFound(body)
	case status == http.StatusForbidden:
		return AuthorizationFailed(body)
	case status == http.StatusTooManyRequests:
		return RateLimited(body)
	case status == http.StatusRequestTimeout:
		return Timeout(body)
	case status == http.StatusBadRequest:
		return InvalidRequest(body)
	case status >= 500:
		return UpstreamServerError(body)
	default:
		return UpstreamServerError(body)
	}
}
