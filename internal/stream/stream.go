// Package stream writes progress tokens to the caller as Server-Sent
// Events. It is the consumer end of the streaming pipeline:
//
//	transport goroutine → orchestrator callback → channel → Write → client
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/howard-nolan/chatgateway/internal/chat"
)

// Event is one SSE payload. Exactly one of the three cases is populated:
// an incremental token, the terminal result envelope, or a terminal error.
type Event struct {
	Token  string       `json:"token,omitempty"`
	Done   bool         `json:"done,omitempty"`
	Result *chat.Result `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Write reads events from the channel and writes them as SSE. Each event
// is flushed immediately so the caller sees tokens in real time. After a
// clean terminal event it appends the literal [DONE] sentinel; after an
// error event it stops without the sentinel, which is how clients detect a
// broken stream.
func Write(w http.ResponseWriter, events <-chan Event) error {
	// --- Step 1: Assert that the ResponseWriter supports flushing ---
	//
	// http.ResponseWriter only promises Header(), Write(), and
	// WriteHeader(), but the concrete writer the HTTP server hands us
	// also implements http.Flusher. We need Flush() to push each event
	// out immediately instead of waiting for the output buffer to fill.
	//
	// The two-value type assertion is the safe form: if the writer can't
	// flush (some middleware wrappers can't), ok is false and we bail out
	// with an error instead of panicking.
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	// --- Step 2: Set SSE headers ---
	//
	// text/event-stream tells the client to read the body as a stream of
	// events rather than waiting for it to complete; no-cache keeps
	// proxies from buffering a response that is supposed to trickle; and
	// keep-alive stops intermediaries from closing the connection after
	// the first chunk. Headers must be set before the first Write — once
	// the body starts, they're already on the wire.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// --- Step 3: Drain the channel, one SSE event per Event ---
	//
	// range blocks until the producer goroutine sends the next event and
	// exits when it closes the channel. Each event becomes a
	// "data: {json}\n\n" block — the blank line is what marks the end of
	// an event in the SSE protocol — and is flushed right away, which is
	// what makes tokens appear in the client as they're generated. In
	// Node this whole loop would be res.write(`data: ${json}\n\n`).
	for ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshaling SSE event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return fmt.Errorf("writing SSE event: %w", err)
		}
		flusher.Flush()

		if ev.Error != "" {
			// Headers are long gone, so the status code cannot change.
			// Emitting the error event and closing without [DONE] is
			// the whole failure signal.
			return fmt.Errorf("stream aborted: %s", ev.Error)
		}
	}

	// --- Step 4: Send the [DONE] sentinel ---
	//
	// The sentinel is an OpenAI convention, not JSON: a client that sees
	// it knows the stream finished cleanly, and a client that doesn't
	// knows the stream broke. That's why the error path above returns
	// before reaching this line.
	if _, err := fmt.Fprintf(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()

	return nil
}
