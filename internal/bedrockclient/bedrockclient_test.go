// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package bedrockclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSigner struct{}

func (noopSigner) Sign(context.Context, *http.Request) error { return nil }

// redirectingTransport rewrites requests meant for the real AWS hosts to
// the local httptest server so Client's URL-building code runs unmodified.
type redirectingTransport struct {
	base   http.RoundTripper
	target string
}

func (t redirectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target
	req.Host = t.target
	return t.base.RoundTrip(req)
}

func newRedirectingClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	httpClient := &http.Client{Transport: redirectingTransport{base: http.DefaultTransport, target: srv.Listener.Addr().String()}}
	c := New(httpClient, noopSigner{}, "us-east-1")
	c.Retry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return c
}

func TestClient_InvokeModel_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model/claude-3/invoke", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newRedirectingClient(t, srv)
	resp, err := c.InvokeModel(context.Background(), "claude-3", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClient_InvokeModel_RetriesOn429ThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"Too many requests"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newRedirectingClient(t, srv)
	resp, err := c.InvokeModel(context.Background(), "claude-3", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_InvokeModel_DoesNotRetry4xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad"}`))
	}))
	defer srv.Close()

	c := newRedirectingClient(t, srv)
	resp, err := c.InvokeModel(context.Background(), "claude-3", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_InvokeModel_ExhaustsRetriesOnPersistent429(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"Too many requests"}`))
	}))
	defer srv.Close()

	c := newRedirectingClient(t, srv)
	resp, err := c.InvokeModel(context.Background(), "claude-3", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_InvokeModelWithResponseStream_NeverRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		assert.Equal(t, "/model/claude-3/invoke-with-response-stream", r.URL.Path)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newRedirectingClient(t, srv)
	resp, err := c.InvokeModelWithResponseStream(context.Background(), "claude-3", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_ListFoundationModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/foundation-models", r.URL.Path)
		assert.Equal(t, "Anthropic", r.URL.Query().Get("byProvider"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"modelSummaries":[{"modelId":"anthropic.claude-3-sonnet-20240229-v1:0","modelName":"Claude 3 Sonnet","providerName":"Anthropic"}]}`))
	}))
	defer srv.Close()

	c := newRedirectingClient(t, srv)
	resp, err := c.ListFoundationModels(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.ModelSummaries, 1)
	assert.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", resp.ModelSummaries[0].ModelID)
}

func TestClient_ListInferenceProfiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inference-profiles", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "SYSTEM_DEFINED", r.URL.Query().Get("typeEquals"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"inferenceProfileSummaries":[]}`))
	}))
	defer srv.Close()

	c := newRedirectingClient(t, srv)
	resp, err := c.ListInferenceProfiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resp.InferenceProfileSummaries)
}
