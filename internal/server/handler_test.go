package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/chatgateway/internal/chat"
	"github.com/howard-nolan/chatgateway/internal/config"
	"github.com/howard-nolan/chatgateway/internal/transport"
)

// fakeSender plays back a canned result or error, emitting tokens first
// when the request carries a progress callback.
type fakeSender struct {
	result *chat.Result
	tokens []string
	err    error

	got chat.Request
}

func (f *fakeSender) SendMessage(_ context.Context, req chat.Request) (*chat.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if req.OnProgress != nil {
		for _, tok := range f.tokens {
			req.OnProgress(tok)
		}
	}
	return f.result, nil
}

func newTestServer(f *fakeSender) *Server {
	cfg := &config.Config{DefaultBackend: "openai"}
	return New(cfg, map[string]Sender{"openai": f}, zerolog.Nop())
}

func postChat(t *testing.T, srv *Server, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(string(raw)))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHandleChatBuffered(t *testing.T) {
	f := &fakeSender{result: &chat.Result{
		Response:       "Hi.",
		ConversationID: "c1",
		MessageID:      "m2",
		Details:        map[string]any{},
	}}
	srv := newTestServer(f)

	w := postChat(t, srv, map[string]any{
		"message":         "hello",
		"parentMessageId": "m0",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var res chat.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Hi.", res.Response)
	assert.Equal(t, "c1", res.ConversationID)

	// The handler passes the request through verbatim, without a
	// progress callback in buffered mode.
	assert.Equal(t, "hello", f.got.Message)
	assert.Equal(t, "m0", f.got.ParentMessageID)
	assert.Nil(t, f.got.OnProgress)
}

func TestHandleChatClientOptions(t *testing.T) {
	f := &fakeSender{result: &chat.Result{Response: "ok.", Details: map[string]any{}}}
	srv := newTestServer(f)

	w := postChat(t, srv, map[string]any{
		"message": "hello",
		"clientOptions": map[string]any{
			"model":       "other-model",
			"temperature": 0,
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.got.ClientOptions)
	assert.Equal(t, "other-model", f.got.ClientOptions.Model)
	require.NotNil(t, f.got.ClientOptions.Temperature)
	assert.Equal(t, 0.0, *f.got.ClientOptions.Temperature)
	assert.Nil(t, f.got.ClientOptions.TopP)
}

func TestHandleChatUnknownBackend(t *testing.T) {
	srv := newTestServer(&fakeSender{})

	w := postChat(t, srv, map[string]any{"message": "hi", "backend": "mystery"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown backend")
}

func TestHandleChatValidationError(t *testing.T) {
	srv := newTestServer(&fakeSender{err: &chat.ValidationError{Reason: "message must not be empty"}})

	w := postChat(t, srv, map[string]any{"message": ""})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "message must not be empty")
}

func TestHandleChatTransportError(t *testing.T) {
	srv := newTestServer(&fakeSender{err: &transport.TransportError{
		Status: 429,
		Body:   map[string]any{"error": "rate limited"},
	}})

	w := postChat(t, srv, map[string]any{"message": "hi"})

	require.Equal(t, http.StatusBadGateway, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(429), body["upstreamStatus"])
}

func TestHandleChatStreaming(t *testing.T) {
	f := &fakeSender{
		tokens: []string{"Hel", "lo."},
		result: &chat.Result{Response: "Hello.", ConversationID: "c1", MessageID: "m2", Details: map[string]any{}},
	}
	srv := newTestServer(f)

	w := postChat(t, srv, map[string]any{"message": "hi", "stream": true})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `"token":"Hel"`)
	assert.Contains(t, body, `"token":"lo."`)
	assert.Contains(t, body, `"response":"Hello."`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestHandleChatStreamingError(t *testing.T) {
	srv := newTestServer(&fakeSender{err: &transport.StreamError{Err: context.DeadlineExceeded}})

	w := postChat(t, srv, map[string]any{"message": "hi", "stream": true})

	body := w.Body.String()
	assert.Contains(t, body, `"error"`)
	assert.NotContains(t, body, "[DONE]")
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&fakeSender{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHandleChatBadBody(t *testing.T) {
	srv := newTestServer(&fakeSender{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
