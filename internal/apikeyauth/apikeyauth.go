// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package apikeyauth gates the northbound HTTP surface with a static
// bearer API key, compared in constant time.
package apikeyauth

import (
	"crypto/subtle"
	"net/http"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/proxyerr"
)

// HeaderName is the header the static key is read from.
const HeaderName = "Authorization"

const bearerPrefix = "Bearer "

// Middleware rejects any request whose Authorization header does not
// carry the configured bearer key with a 401 OpenAI-shaped error body.
type Middleware struct {
	key []byte
}

// New returns a Middleware gating requests with key. key must not be
// empty; the proxy refuses to start without one configured.
func New(key string) *Middleware {
	return &Middleware{key: []byte(key)}
}

// Wrap returns next guarded by the API key check.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			unauthorized().WriteJSON(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) authorized(r *http.Request) bool {
	got := r.Header.Get(HeaderName)
	got, ok := trimBearer(got)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), m.key) == 1
}

func trimBearer(header string) (string, bool) {
	if len(header) <= len(bearerPrefix) || header[:len(bearerPrefix)] != bearerPrefix {
		return "", false
	}
	return header[len(bearerPrefix):], true
}

func unauthorized() *proxyerr.Error {
	return &proxyerr.Error{HTTPStatus: http.StatusUnauthorized, Type: "invalid_request_error", Code: "invalid_api_key", Message: "invalid API key"}
}
