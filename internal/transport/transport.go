// Package transport executes an assembled payload against a backend's
// completion endpoint and normalizes the reply into a single trimmed text
// completion. It is polymorphic over buffered and streaming delivery: the
// presence of a progress callback selects the mode.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/howard-nolan/chatgateway/internal/assembler"
	"github.com/howard-nolan/chatgateway/internal/backend"
)

// Client sends completion requests for one backend. One parameterized
// client serves every backend — the Profile carries the per-backend wire
// differences (payload shape, token field, sentinel behavior, headers).
type Client struct {
	profile backend.Profile
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// New creates a Client. The *http.Client is injected so tests can point it
// at an httptest server and main can tune timeouts in one place.
func New(p backend.Profile, apiKey, baseURL string, client *http.Client, log zerolog.Logger) *Client {
	return &Client{
		profile: p,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		log:     log.With().Str("component", "transport").Str("backend", p.Name).Logger(),
	}
}

// Result is a normalized completion. Raw holds the backend's decoded
// response object for buffered calls; for streamed calls there is no single
// response object, so Raw is an empty map.
type Result struct {
	Reply string
	Raw   map[string]any
}

// CallOptions are per-call overrides layered over the client's resolved
// profile. Sampling fields are pointers so that an explicit zero (e.g.
// temperature 0 for deterministic output) is distinguishable from "not
// set" — a plain float64 can't represent that difference, the zero value
// would silently mean "keep the default". Headers merge over the profile's
// headers, caller wins.
type CallOptions struct {
	Temperature     *float64
	TopP            *float64
	PresencePenalty *float64
	Headers         map[string]string
}

// doneSentinel terminates an event stream. Not every backend sends it —
// the transport also treats the stream's natural close as terminal, so a
// sentinel-less backend never hangs the caller.
const doneSentinel = "[DONE]"

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// completionRequest is the request body. Prompt and Messages are mutually
// exclusive, matching the profile's payload shape.
type completionRequest struct {
	Model           string                  `json:"model"`
	Prompt          *string                 `json:"prompt,omitempty"`
	Messages        []assembler.ChatMessage `json:"messages,omitempty"`
	Stream          bool                    `json:"stream,omitempty"`
	Temperature     float64                 `json:"temperature"`
	TopP            float64                 `json:"top_p"`
	PresencePenalty float64                 `json:"presence_penalty"`
}

// completionResponse covers both response shapes. Legacy-completion
// backends put the text in choices[0].text; chat backends nest it under
// choices[0].message.content (buffered) or choices[0].delta.content
// (streaming). All three fields live in one struct and the irrelevant ones
// stay zero-valued.
type completionResponse struct {
	ID      string   `json:"id"`
	Choices []choice `json:"choices"`
}

type choice struct {
	Text    string       `json:"text"`
	Message *chatContent `json:"message"`
	Delta   *chatContent `json:"delta"`
}

type chatContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ---------------------------------------------------------------------------
// Complete
// ---------------------------------------------------------------------------

// Complete sends the payload and returns the normalized reply. A nil
// onProgress performs one buffered request; otherwise the call streams,
// invoking onProgress once per incremental token (never with the terminal
// sentinel) before returning the accumulated reply. A nil opts uses the
// profile's defaults unchanged.
//
// Both modes finish with the same post-processing: trim whitespace, then
// cut the reply at the last sentence-ending mark.
func (c *Client) Complete(ctx context.Context, model string, payload *assembler.Payload, opts *CallOptions, onProgress func(token string)) (*Result, error) {
	if onProgress == nil {
		return c.buffered(ctx, model, payload, opts)
	}
	return c.streamed(ctx, model, payload, opts, onProgress)
}

// newRequest builds the POST with auth and profile headers applied, and
// per-call options layered over the profile's sampling defaults.
func (c *Client) newRequest(ctx context.Context, model string, payload *assembler.Payload, opts *CallOptions, stream bool) (*http.Request, error) {
	sampling := c.profile.Sampling
	if opts != nil {
		if opts.Temperature != nil {
			sampling.Temperature = *opts.Temperature
		}
		if opts.TopP != nil {
			sampling.TopP = *opts.TopP
		}
		if opts.PresencePenalty != nil {
			sampling.PresencePenalty = *opts.PresencePenalty
		}
	}

	cr := completionRequest{
		Model:           model,
		Stream:          stream,
		Temperature:     sampling.Temperature,
		TopP:            sampling.TopP,
		PresencePenalty: sampling.PresencePenalty,
	}
	if c.profile.Shape == backend.ShapeText {
		prompt := payload.Prompt
		cr.Prompt = &prompt
	} else {
		cr.Messages = payload.Messages
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.baseURL + c.profile.CompletionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.profile.Headers {
		req.Header.Set(k, v)
	}
	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// statusError drains the response body into a TransportError. The body is
// parsed as JSON when possible so the caller sees the backend's structured
// error; otherwise the raw text is carried along.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = nil
	}
	return &TransportError{
		Status:  resp.StatusCode,
		Body:    body,
		RawBody: strings.TrimSpace(string(raw)),
	}
}

// ---------------------------------------------------------------------------
// Buffered mode
// ---------------------------------------------------------------------------

func (c *Client) buffered(ctx context.Context, model string, payload *assembler.Payload, opts *CallOptions) (*Result, error) {
	// Step 1: Build and send the request.
	req, err := c.newRequest(ctx, model, payload, opts, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", c.profile.Name, err)
	}
	defer resp.Body.Close()

	// Step 2: Check for HTTP errors.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	// Step 3: Read the body once and decode it twice — typed for
	// extraction, raw map for the caller-facing details envelope. The
	// body is a stream and can only be read once, so both decodes work
	// from the same byte slice.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", c.profile.Name, err)
	}

	var cresp completionResponse
	if err := json.Unmarshal(raw, &cresp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", c.profile.Name, err)
	}
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil {
		details = map[string]any{}
	}

	if len(cresp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", c.profile.Name)
	}

	// Step 4: Extract the completion text by payload shape. Legacy
	// backends answer with choices[0].text, chat backends nest it under
	// choices[0].message.content.
	text := cresp.Choices[0].Text
	if c.profile.Shape == backend.ShapeChat && cresp.Choices[0].Message != nil {
		text = cresp.Choices[0].Message.Content
	}

	return &Result{Reply: TrimReply(text), Raw: details}, nil
}

// ---------------------------------------------------------------------------
// Streaming mode
// ---------------------------------------------------------------------------

// chunk is one normalized streaming event: a token delta, the terminal
// marker, or a mid-stream failure.
type chunk struct {
	Delta string
	Done  bool
	Err   error
}

// streamed is the consumer half of the streaming pair: stream() produces
// chunks on a channel, this loop accumulates them into the final reply
// while forwarding each token to the caller's callback. The channel is the
// only coordination between the two — no shared state, no locks.
func (c *Client) streamed(ctx context.Context, model string, payload *assembler.Payload, opts *CallOptions, onProgress func(string)) (*Result, error) {
	events, err := c.stream(ctx, model, payload, opts)
	if err != nil {
		return nil, err
	}

	var reply strings.Builder
	for ev := range events {
		if ev.Err != nil {
			// Partial reply is discarded with the builder.
			return nil, ev.Err
		}
		if ev.Done {
			return &Result{Reply: TrimReply(reply.String()), Raw: map[string]any{}}, nil
		}
		reply.WriteString(ev.Delta)
		onProgress(ev.Delta)
	}

	// The channel closed without a terminal event: the caller cancelled.
	// The partial reply is discarded, not returned.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &StreamError{Err: fmt.Errorf("%s stream ended unexpectedly", c.profile.Name)}
}

// stream opens the event-stream connection and returns a channel of
// normalized chunks. A non-200 initial response is surfaced here, before
// any goroutine starts, as the same structured error the buffered path
// produces. The goroutine owns the response body and closes it on exit.
func (c *Client) stream(ctx context.Context, model string, payload *assembler.Payload, opts *CallOptions) (<-chan chunk, error) {
	// --- Step 1: Build the request against the streaming endpoint ---
	req, err := c.newRequest(ctx, model, payload, opts, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// --- Step 2: Make the HTTP call ---
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", c.profile.Name, err)
	}

	// --- Step 3: Check the status before anything starts streaming ---
	//
	// Auth failures and rate limits arrive as a plain JSON error body,
	// not as an event stream. Catching them here means the caller gets
	// the same structured TransportError in both modes, and no goroutine
	// is ever launched for a request that already failed.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	// --- Step 4: Create the channel and launch the reader goroutine ---
	//
	// The unbuffered channel means the goroutine blocks until the
	// consumer has taken the previous chunk, so a slow consumer applies
	// backpressure to the network read instead of piling tokens up in
	// memory. The goroutine takes sole ownership of resp.Body: it reads
	// it, and its deferred Close runs no matter how the scan loop ends.
	ch := make(chan chunk)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		// Scanner splits the body into lines as they arrive — the SSE
		// protocol is line-based, so this is all the framing we need.
		scanner := bufio.NewScanner(resp.Body)

		for scanner.Scan() {
			line := scanner.Text()

			// SSE framing: blank lines separate events, ":"-prefixed
			// lines are keep-alive comments, "event:" lines are
			// redundant with the payload. Only data lines matter.
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			if data == "" {
				continue
			}

			if data == doneSentinel {
				select {
				case ch <- chunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			var ev completionResponse
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				select {
				case ch <- chunk{Err: &StreamError{Err: fmt.Errorf("decoding %s stream event: %w", c.profile.Name, err)}}:
				case <-ctx.Done():
				}
				return
			}

			if len(ev.Choices) == 0 {
				continue
			}

			// Check both token fields: legacy streams use text, chat
			// streams use delta.content. The first event of a chat
			// stream carries only the role — no token, nothing to emit.
			token := ev.Choices[0].Text
			if ev.Choices[0].Delta != nil && ev.Choices[0].Delta.Content != "" {
				token = ev.Choices[0].Delta.Content
			}
			if token == "" {
				continue
			}

			// Every send races against cancellation. If the caller gave
			// up (request cancelled, client disconnected) nobody will
			// ever receive from ch again — without the ctx.Done case
			// this send would block forever and leak the goroutine.
			select {
			case ch <- chunk{Delta: token}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- chunk{Err: &StreamError{Err: fmt.Errorf("reading %s stream: %w", c.profile.Name, err)}}:
			case <-ctx.Done():
			}
			return
		}

		// Reaching EOF means the stream closed without a sentinel: some
		// backends never send [DONE]. Treat the close as the implicit
		// terminal event so the caller is not left hanging.
		if c.profile.ExpectsDoneSentinel {
			c.log.Debug().Msg("stream closed without terminal sentinel")
		}
		select {
		case ch <- chunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// ---------------------------------------------------------------------------
// Post-processing
// ---------------------------------------------------------------------------

// TrimReply trims surrounding whitespace, then truncates the reply at the
// last sentence-ending mark, discarding any trailing partial sentence.
// Replies without any such mark are returned whitespace-trimmed.
func TrimReply(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, ".!?)"); i >= 0 {
		return s[:i+1]
	}
	return s
}
