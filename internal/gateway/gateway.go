// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package gateway is the chat-completions orchestrator (C7) and models
// endpoint handler (C8): it wires the northbound HTTP surface to the
// model cache, the request/response translators, the EventStream
// parser, and the SSE encoder.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apikeyauth"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/bedrock"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/openai"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/bedrockclient"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/eventstream"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/jsonvalue"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/metricsobs"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/modelcache"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/proxyerr"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/sse"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/translator"
)

const maxBodyBytes = 10 << 20 // 10 MiB, spec.md §4.6 entry contract.
const heartbeatInterval = 5 * time.Second

// Dispatcher is the outbound collaborator the orchestrator dispatches
// signed Invoke calls through. Satisfied by *bedrockclient.Client.
type Dispatcher interface {
	InvokeModel(ctx context.Context, modelID string, body []byte) (*bedrockclient.Response, error)
	InvokeModelWithResponseStream(ctx context.Context, modelID string, body []byte) (*bedrockclient.Response, error)
}

// ModelResolver is the model cache's surface this package depends on.
// Satisfied by *modelcache.Cache.
type ModelResolver interface {
	List(ctx context.Context) ([]modelcache.Model, error)
	Get(ctx context.Context, id string) (modelcache.Model, error)
	Resolve(ctx context.Context, clientModel string) (string, error)
}

// Gateway holds everything the chat-completions and models handlers need.
type Gateway struct {
	Models            ModelResolver
	Dispatcher        Dispatcher
	Logger            *slog.Logger
	Recorder          metricsobs.Recorder
	Now               func() int64
	RequestTimeout    time.Duration
	ModelsTimeout     time.Duration
	HeartbeatInterval time.Duration
}

// New constructs a Gateway. now stamps `created` fields; it exists as a
// parameter so tests can inject a deterministic clock. recorder may be
// nil, in which case no metrics are recorded.
func New(models ModelResolver, dispatcher Dispatcher, logger *slog.Logger, recorder metricsobs.Recorder, now func() int64, requestTimeout, modelsTimeout time.Duration) *Gateway {
	return &Gateway{
		Models:            models,
		Dispatcher:        dispatcher,
		Logger:            logger,
		Recorder:          recorder,
		Now:               now,
		RequestTimeout:    requestTimeout,
		ModelsTimeout:     modelsTimeout,
		HeartbeatInterval: heartbeatInterval,
	}
}

// Mount registers the proxy's full HTTP surface on mux: /health
// unauthenticated, everything else behind keyAuth.
func (g *Gateway) Mount(mux *http.ServeMux, keyAuth *apikeyauth.Middleware) {
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.Handle("GET /v1/models", keyAuth.Wrap(http.HandlerFunc(g.handleListModels)))
	mux.Handle("GET /v1/models/{id}", keyAuth.Wrap(http.HandlerFunc(g.handleGetModel)))
	mux.Handle("POST /v1/chat/completions", keyAuth.Wrap(http.HandlerFunc(g.handleChatCompletions)))
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.ModelsTimeout)
	defer cancel()

	models, err := g.Models.List(ctx)
	if err != nil {
		proxyerr.Internal(err.Error()).WriteJSON(w)
		return
	}

	data := make([]openai.Model, 0, len(models))
	for _, m := range models {
		data = append(data, toOpenAIModel(m))
	}
	writeJSON(w, http.StatusOK, openai.ModelList{Object: "list", Data: data})
}

func (g *Gateway) handleGetModel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.ModelsTimeout)
	defer cancel()

	id := r.PathValue("id")
	m, err := g.Models.Get(ctx, id)
	if err != nil {
		var mcErr *modelcache.Error
		if errors.As(err, &mcErr) && mcErr.Kind == modelcache.ModelNotFound {
			proxyerr.ModelNotFound(fmt.Sprintf("model %q not found", id)).WriteJSON(w)
			return
		}
		proxyerr.Internal(err.Error()).WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, toOpenAIModel(m))
}

func toOpenAIModel(m modelcache.Model) openai.Model {
	return openai.Model{ID: m.ID, Object: "model", Created: m.Created, OwnedBy: m.OwnedBy}
}

// handleChatCompletions implements C7's ten-step pipeline.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	model := "unknown"
	status := http.StatusInternalServerError
	defer func() { g.recordRequest(model, status, time.Since(start)) }()

	fail := func(e *proxyerr.Error) {
		status = e.HTTPStatus
		e.WriteJSON(w)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		fail(proxyerr.InvalidRequest("request body exceeds the maximum allowed size"))
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		fail(proxyerr.InvalidRequest("malformed JSON request body"))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		fail(proxyerr.InvalidRequest("request must include a non-empty model and a non-empty messages array"))
		return
	}
	model = req.Model

	ctx, cancel := context.WithTimeout(r.Context(), g.RequestTimeout)
	defer cancel()

	bedrockModelID, err := g.Models.Resolve(ctx, req.Model)
	if err != nil {
		var mcErr *modelcache.Error
		if errors.As(err, &mcErr) && mcErr.Kind == modelcache.ModelNotFound {
			fail(proxyerr.ModelNotFound(fmt.Sprintf("model %q not found", req.Model)))
			return
		}
		fail(proxyerr.Internal(err.Error()))
		return
	}

	tr, err := translator.TranslateRequest(&req, bedrockModelID)
	if err != nil {
		var tErr *translator.Error
		if errors.As(err, &tErr) {
			fail(proxyerr.InvalidRequest(tErr.Error()))
			return
		}
		fail(proxyerr.Internal(err.Error()))
		return
	}

	bedrockBody, err := json.Marshal(tr.BedrockBody)
	if err != nil {
		fail(proxyerr.Internal(fmt.Sprintf("encoding Bedrock request: %v", err)))
		return
	}

	var resp *bedrockclient.Response
	if tr.IsStreaming {
		resp, err = g.Dispatcher.InvokeModelWithResponseStream(ctx, bedrockModelID, bedrockBody)
	} else {
		resp, err = g.Dispatcher.InvokeModel(ctx, bedrockModelID, bedrockBody)
	}
	if err != nil {
		fail(proxyerr.Internal(err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		fail(proxyerr.FromUpstreamStatus(resp.StatusCode, extractUpstreamMessage(raw)))
		return
	}

	status = http.StatusOK
	if tr.IsStreaming {
		g.streamResponse(ctx, w, resp.Body, tr.OriginalModel, tr.IncludeUsage)
		return
	}
	g.unaryResponse(w, resp.Body, tr.OriginalModel)
}

func (g *Gateway) unaryResponse(w http.ResponseWriter, body io.Reader, originalModel string) {
	raw, err := io.ReadAll(body)
	if err != nil {
		proxyerr.Internal(fmt.Sprintf("reading Bedrock response: %v", err)).WriteJSON(w)
		return
	}
	v, err := jsonvalue.Parse(raw)
	if err != nil {
		proxyerr.Internal(fmt.Sprintf("decoding Bedrock response: %v", err)).WriteJSON(w)
		return
	}
	out := translator.TranslateResponse(v, originalModel, g.Now())
	if out.Usage != nil {
		g.recordTokens(originalModel, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) recordRequest(model string, status int, duration time.Duration) {
	if g.Recorder == nil {
		return
	}
	g.Recorder.RecordRequest(model, strconv.Itoa(status), duration)
}

func (g *Gateway) recordTokens(model string, promptTokens, completionTokens int64) {
	if g.Recorder == nil {
		return
	}
	g.Recorder.RecordTokens(model, "input", float64(promptTokens))
	g.Recorder.RecordTokens(model, "output", float64(completionTokens))
}

// streamResponse pipes body through the EventStream parser and the SSE
// encoder, writing lines to w as they are produced, with a heartbeat
// comment line every HeartbeatInterval until the first decoded event or
// until the producer stops, whichever comes first.
func (g *Gateway) streamResponse(ctx context.Context, w http.ResponseWriter, body io.ReadCloser, originalModel string, includeUsage bool) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	var writeMu sync.Mutex
	writeLines := func(lines []string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		for _, line := range lines {
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	firstEvent := make(chan struct{})
	var closeOnce sync.Once
	signalFirstEvent := func() { closeOnce.Do(func() { close(firstEvent) }) }

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		ticker := time.NewTicker(g.heartbeatInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-firstEvent:
				return nil
			case <-ticker.C:
				if err := writeLines([]string{": processing\n\n"}); err != nil {
					return nil // client gone; producer goroutine will also observe it
				}
			}
		}
	})

	grp.Go(func() error {
		// However the producer ends, the heartbeat must stop with it.
		defer signalFirstEvent()
		parser := eventstream.NewParser()
		encoder := sse.NewEncoder(originalModel, includeUsage, g.Now)
		var state sse.StreamState

		buf := make([]byte, 32*1024)
		for {
			if err := gctx.Err(); err != nil {
				return nil
			}
			n, readErr := body.Read(buf)
			if n > 0 {
				events, err := parser.Feed(buf[:n])
				if err != nil {
					signalFirstEvent()
					var excErr *eventstream.ExceptionError
					if errors.As(err, &excErr) {
						g.logError("EventStream exception frame", err)
					} else {
						g.logError("EventStream parse error", err)
					}
					return nil
				}
				for _, ev := range events {
					signalFirstEvent()
					val, perr := jsonvalue.Parse(ev.Payload)
					if perr != nil {
						g.logError("decoding streaming event", perr)
						return nil
					}
					lines := encoder.Encode(val, &state)
					if err := writeLines(lines); err != nil {
						return nil
					}
					if typ, _ := bedrock.EventType(val); typ == "message_stop" {
						g.recordTokens(originalModel, state.InputTokens, state.OutputTokens)
						return nil
					}
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					return nil
				}
				g.logError("reading Bedrock stream body", readErr)
				return nil
			}
		}
	})

	_ = grp.Wait()
}

func (g *Gateway) heartbeatInterval() time.Duration {
	if g.HeartbeatInterval > 0 {
		return g.HeartbeatInterval
	}
	return heartbeatInterval
}

func (g *Gateway) logError(msg string, err error) {
	if g.Logger == nil {
		return
	}
	g.Logger.Error(msg, slog.String("error", err.Error()))
}

// extractUpstreamMessage pulls the first non-empty of the JSON fields
// "message" or "Message" out of a Bedrock error body, per spec.md §4.6
// step 8. A gjson path lookup is enough here: unlike the unary and
// streaming response bodies, an error body is never restructured into
// another shape, just read for a couple of known field names.
func extractUpstreamMessage(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if !gjson.ValidBytes(raw) {
		return string(bytes.TrimSpace(raw))
	}
	if s := gjson.GetBytes(raw, "message").String(); s != "" {
		return s
	}
	if s := gjson.GetBytes(raw, "Message").String(); s != "" {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
