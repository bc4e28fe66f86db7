package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/howard-nolan/chatgateway/internal/chat"
	"github.com/howard-nolan/chatgateway/internal/metrics"
	"github.com/howard-nolan/chatgateway/internal/stream"
	"github.com/howard-nolan/chatgateway/internal/transport"
)

// chatRequest is the caller-facing request body for POST /v1/chat.
// ClientOptions lets the caller override the backend's model, sampling,
// and headers for this turn; the orchestrator validates the values.
type chatRequest struct {
	Message         string              `json:"message"`
	ConversationID  string              `json:"conversationId"`
	ParentMessageID string              `json:"parentMessageId"`
	Backend         string              `json:"backend"`
	Stream          bool                `json:"stream"`
	ClientOptions   *chat.ClientOptions `json:"clientOptions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChat runs one turn. Buffered requests get the result envelope as
// JSON; stream:true switches the response to SSE with one event per token.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	// Step 1: Decode the incoming JSON body.
	// This is like: const body = await req.json() in Node/Express.
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Step 2: Pick the backend. An absent name falls back to the
	// configured default; an unknown name is the caller's mistake, not a
	// gateway failure, so it's a 400 rather than a 502.
	name := req.Backend
	if name == "" {
		name = s.cfg.DefaultBackend
	}
	sender, ok := s.senders[name]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown backend: "+name)
		return
	}

	// Step 3: Branch on delivery mode. Streaming takes over the whole
	// response from here.
	if req.Stream {
		s.streamChat(w, r, name, sender, req)
		return
	}

	metrics.Requests.WithLabelValues(name, "buffered").Inc()

	res, err := sender.SendMessage(r.Context(), chat.Request{
		Message:         req.Message,
		ConversationID:  req.ConversationID,
		ParentMessageID: req.ParentMessageID,
		ClientOptions:   req.ClientOptions,
	})
	if err != nil {
		s.writeSendError(w, name, err)
		return
	}

	// Step 4: Return the result envelope as JSON.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// streamChat bridges the orchestrator's progress callback onto an SSE
// response. The goroutine pushes events; stream.Write consumes them. Every
// push selects on the request context so a disconnected client cannot
// strand the goroutine.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, name string, sender Sender, req chatRequest) {
	metrics.Requests.WithLabelValues(name, "stream").Inc()

	ctx := r.Context()
	events := make(chan stream.Event)

	push := func(ev stream.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)

		res, err := sender.SendMessage(ctx, chat.Request{
			Message:         req.Message,
			ConversationID:  req.ConversationID,
			ParentMessageID: req.ParentMessageID,
			ClientOptions:   req.ClientOptions,
			OnProgress: func(token string) {
				metrics.StreamTokens.WithLabelValues(name).Inc()
				push(stream.Event{Token: token})
			},
		})
		if err != nil {
			metrics.Errors.WithLabelValues(name, errorKind(err)).Inc()
			push(stream.Event{Done: true, Error: err.Error()})
			return
		}
		push(stream.Event{Done: true, Result: res})
	}()

	if err := stream.Write(w, events); err != nil {
		s.log.Error().Err(err).Str("backend", name).Msg("stream aborted")
	}
}

// writeSendError maps the error taxonomy onto HTTP statuses: validation
// failures are the caller's fault, everything from the backend surfaces as
// a bad gateway with the upstream status and body attached.
func (s *Server) writeSendError(w http.ResponseWriter, name string, err error) {
	metrics.Errors.WithLabelValues(name, errorKind(err)).Inc()

	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	var terr *transport.TransportError
	if errors.As(err, &terr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{
			"error":          terr.Error(),
			"upstreamStatus": terr.Status,
			"upstreamBody":   terr.Body,
		})
		return
	}

	s.log.Error().Err(err).Str("backend", name).Msg("send failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

func errorKind(err error) string {
	var (
		verr *chat.ValidationError
		terr *transport.TransportError
		serr *transport.StreamError
	)
	switch {
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &terr):
		return "transport"
	case errors.As(err, &serr):
		return "stream"
	default:
		return "internal"
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
