// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package bedrockclient is the outbound HTTP collaborator that signs and
// dispatches requests to the Bedrock runtime and control-plane hosts,
// retrying transient failures with jittered exponential backoff.
package bedrockclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/bedrock"
)

// Signer signs an outbound request in place. Satisfied by *awsauth.Signer.
type Signer interface {
	Sign(ctx context.Context, req *http.Request) error
}

// Response is a dispatched request's result: status, headers, and an
// unread body the caller is responsible for closing.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RetryConfig bounds the retry policy applied to runtime/control-plane
// calls: outbound 429 and 5xx responses are retried with exponential
// backoff and jitter, capped at MaxAttempts. 4xx (non-429) is never
// retried, and responses are never retried once any body byte has been
// read by the caller (this package only retries up to first byte: a
// caller streaming the body itself must not call Client methods again).
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig matches the spec's described policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
}

// Client dispatches signed requests to the Bedrock runtime and
// control-plane hosts for one AWS region.
type Client struct {
	HTTPClient *http.Client
	Signer     Signer
	Region     string
	Retry      RetryConfig
}

// New returns a Client wrapping httpClient with signer for region.
func New(httpClient *http.Client, signer Signer, region string) *Client {
	return &Client{HTTPClient: httpClient, Signer: signer, Region: region, Retry: DefaultRetryConfig()}
}

func (c *Client) runtimeURL(path string) string {
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com%s", c.Region, path)
}

func (c *Client) controlPlaneURL(path string) string {
	return fmt.Sprintf("https://bedrock.%s.amazonaws.com%s", c.Region, path)
}

const acceptJSON = "application/json"
const acceptEventStream = "application/vnd.amazon.eventstream"

// InvokeModel issues a signed POST to /model/<id>/invoke and returns the
// unread response; the caller decodes the body and closes it.
func (c *Client) InvokeModel(ctx context.Context, modelID string, body []byte) (*Response, error) {
	path := fmt.Sprintf("/model/%s/invoke", modelID)
	return c.doSignedWithRetry(ctx, http.MethodPost, c.runtimeURL(path), body, acceptJSON)
}

// InvokeModelWithResponseStream issues a signed POST to
// /model/<id>/invoke-with-response-stream. Streaming responses are never
// retried past the first byte, so this always dispatches exactly once.
func (c *Client) InvokeModelWithResponseStream(ctx context.Context, modelID string, body []byte) (*Response, error) {
	path := fmt.Sprintf("/model/%s/invoke-with-response-stream", modelID)
	req, err := c.newSignedRequest(ctx, http.MethodPost, c.runtimeURL(path), body, acceptEventStream)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// ListFoundationModels implements modelcache.Fetcher.
func (c *Client) ListFoundationModels(ctx context.Context) (bedrock.ListFoundationModelsResponse, error) {
	var out bedrock.ListFoundationModelsResponse
	resp, err := c.doSignedWithRetry(ctx, http.MethodGet, c.controlPlaneURL("/foundation-models?byProvider=Anthropic"), nil, acceptJSON)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("bedrockclient: decoding foundation models response: %w", err)
	}
	return out, nil
}

// ListInferenceProfiles implements modelcache.Fetcher.
func (c *Client) ListInferenceProfiles(ctx context.Context) (bedrock.ListInferenceProfilesResponse, error) {
	var out bedrock.ListInferenceProfilesResponse
	path := "/inference-profiles?maxResults=1000&typeEquals=SYSTEM_DEFINED"
	resp, err := c.doSignedWithRetry(ctx, http.MethodGet, c.controlPlaneURL(path), nil, acceptJSON)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("bedrockclient: decoding inference profiles response: %w", err)
	}
	return out, nil
}

func (c *Client) newSignedRequest(ctx context.Context, method, url string, body []byte, accept string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("bedrockclient: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if err := c.Signer.Sign(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bedrockclient: dispatching request: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// doSignedWithRetry dispatches a non-streaming request, retrying on 429
// and 5xx responses with jittered exponential backoff up to
// c.Retry.MaxAttempts attempts. The body of a retryable (429/5xx)
// response is fully buffered and its connection closed, so the last such
// response can still be returned intact once attempts run out; any other
// response is returned with its body unread.
func (c *Client) doSignedWithRetry(ctx context.Context, method, url string, body []byte, accept string) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Retry.InitialInterval
	b.MaxInterval = c.Retry.MaxInterval
	b.RandomizationFactor = 0.25
	bounded := backoff.WithMaxRetries(b, uint64(max(0, c.Retry.MaxAttempts-1)))

	var result *Response
	operation := func() error {
		req, err := c.newSignedRequest(ctx, method, url, body, accept)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.do(req)
		if err != nil {
			return backoff.Permanent(err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			buffered, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return backoff.Permanent(fmt.Errorf("bedrockclient: reading retryable response body: %w", readErr))
			}
			resp.Body = io.NopCloser(bytes.NewReader(buffered))
			result = resp
			return fmt.Errorf("bedrockclient: retryable status %d", resp.StatusCode)
		}

		result = resp
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bounded, ctx)); err != nil {
		if result != nil {
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

func statusError(resp *Response) error {
	msg, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("bedrockclient: unexpected status %d: %s", resp.StatusCode, string(msg))
}
