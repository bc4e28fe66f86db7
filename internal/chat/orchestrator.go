// Package chat implements the send-message use case: load or create the
// conversation, append the user turn, assemble the prompt from the message
// tree, run the completion, append the reply turn, persist, return a
// uniform result envelope.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/howard-nolan/chatgateway/internal/assembler"
	"github.com/howard-nolan/chatgateway/internal/backend"
	"github.com/howard-nolan/chatgateway/internal/store"
	"github.com/howard-nolan/chatgateway/internal/thread"
	"github.com/howard-nolan/chatgateway/internal/transport"
)

// ValidationError is a missing or unusable input, caught before any
// backend call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// Completer is the slice of the transport the orchestrator needs.
// Implemented by *transport.Client; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, model string, payload *assembler.Payload, opts *transport.CallOptions, onProgress func(token string)) (*transport.Result, error)
}

// ClientOptions are per-call backend overrides supplied by the caller and
// layered over the backend's configured defaults for this turn only. Every
// field is optional; sampling fields are pointers so an explicit zero is
// honored rather than mistaken for "unset".
type ClientOptions struct {
	Model           string            `json:"model,omitempty"`
	Temperature     *float64          `json:"temperature,omitempty"`
	TopP            *float64          `json:"top_p,omitempty"`
	PresencePenalty *float64          `json:"presence_penalty,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// validate checks the sampling overrides against the ranges the completion
// backends accept. Out-of-range values are caught here, before any store
// or network activity, and surface as a ValidationError.
func (co *ClientOptions) validate() error {
	if co == nil {
		return nil
	}
	if co.Temperature != nil && (*co.Temperature < 0 || *co.Temperature > 2) {
		return &ValidationError{Reason: "temperature must be between 0 and 2"}
	}
	if co.TopP != nil && (*co.TopP < 0 || *co.TopP > 1) {
		return &ValidationError{Reason: "top_p must be between 0 and 1"}
	}
	if co.PresencePenalty != nil && (*co.PresencePenalty < -2 || *co.PresencePenalty > 2) {
		return &ValidationError{Reason: "presence_penalty must be between -2 and 2"}
	}
	return nil
}

// Request is one caller-facing sendMessage invocation. ConversationID and
// ParentMessageID are optional: absent, a new conversation (or a new root
// turn) is started. OnProgress, when set, selects streaming delivery and is
// invoked once per incremental token, never with the terminal sentinel.
// ClientOptions, when set, override the backend's model, sampling, and
// headers for this call only.
type Request struct {
	Message         string
	ConversationID  string
	ParentMessageID string
	ClientOptions   *ClientOptions
	OnProgress      func(token string)
}

// Result is the uniform reply envelope. Details carries the backend's raw
// response object for buffered calls and is an empty object when only
// streaming was used.
type Result struct {
	Response       string         `json:"response"`
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Details        map[string]any `json:"details"`
}

// Orchestrator runs turns for one backend.
type Orchestrator struct {
	profile   backend.Profile
	model     string
	store     store.Store
	completer Completer
	asm       *assembler.Assembler
	log       zerolog.Logger

	// Turns for the same conversation id are serialized so concurrent
	// callers cannot overwrite each other's appended messages. This
	// hardens the storage contract's last-write-wins behavior; the store
	// itself stays last-write-wins.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Orchestrator for one backend profile and model.
func New(p backend.Profile, model string, st store.Store, c Completer, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		profile:   p,
		model:     model,
		store:     st,
		completer: c,
		asm:       assembler.New(p),
		log:       log.With().Str("component", "chat").Str("backend", p.Name).Logger(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// SendMessage runs one turn. Exactly one store read and one store write
// happen per call; progress callbacks (zero or more) all fire before it
// returns. Backend and network errors propagate unmodified — no retries.
func (o *Orchestrator) SendMessage(ctx context.Context, req Request) (*Result, error) {
	// Step 1: Validate inputs before touching the store or the network.
	if strings.TrimSpace(req.Message) == "" {
		return nil, &ValidationError{Reason: "message must not be empty"}
	}
	if err := req.ClientOptions.validate(); err != nil {
		return nil, err
	}

	convID := req.ConversationID
	if convID == "" {
		convID = thread.NewMessageID()
	}

	unlock := o.lock(convID)
	defer unlock()

	// Step 2: Load the conversation, or start a fresh one. A missing id
	// is not an error — the caller may be resuming a conversation that
	// was never persisted, and gets a new one.
	conv, ok, err := o.store.Get(ctx, convID)
	if err != nil {
		return nil, errors.Wrap(err, "loading conversation")
	}
	if !ok {
		conv = thread.NewConversation()
	}

	// Step 3: Append the user turn and resolve its ancestor path — the
	// branch of the message tree this turn continues.
	userMsg := thread.Message{
		ID:        thread.NewMessageID(),
		ParentID:  req.ParentMessageID,
		Role:      o.profile.UserLabel,
		Content:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	conv.Append(userMsg)

	path := conv.Path(userMsg.ID)
	payload, used, err := o.asm.Assemble(ctx, path)
	if err != nil {
		return nil, err
	}
	o.log.Debug().
		Str("conversation_id", convID).
		Int("path_len", len(path)).
		Int("context_len", len(used)).
		Msg("assembled prompt")

	// Step 4: Run the completion. Backend and network errors propagate
	// as-is so the handler can map them onto the error taxonomy.
	model, callOpts := o.callConfig(req.ClientOptions)
	res, err := o.completer.Complete(ctx, model, payload, callOpts, req.OnProgress)
	if err != nil {
		return nil, err
	}

	// Step 5: Append the reply, parented on the user turn, and persist
	// the whole conversation in one write.
	replyMsg := thread.Message{
		ID:        thread.NewMessageID(),
		ParentID:  userMsg.ID,
		Role:      o.profile.BotLabel,
		Content:   res.Reply,
		CreatedAt: time.Now().UTC(),
	}
	conv.Append(replyMsg)

	if err := o.store.Set(ctx, convID, conv); err != nil {
		return nil, errors.Wrap(err, "persisting conversation")
	}

	details := res.Raw
	if details == nil {
		details = map[string]any{}
	}
	return &Result{
		Response:       res.Reply,
		ConversationID: convID,
		MessageID:      replyMsg.ID,
		Details:        details,
	}, nil
}

// callConfig resolves the effective model and transport options for one
// turn: the backend's configured defaults, with the caller's validated
// per-call overrides layered on top. The configured profile itself is
// never mutated — overrides live only for the duration of the call.
func (o *Orchestrator) callConfig(co *ClientOptions) (string, *transport.CallOptions) {
	if co == nil {
		return o.model, nil
	}
	model := o.model
	if co.Model != "" {
		model = co.Model
	}
	return model, &transport.CallOptions{
		Temperature:     co.Temperature,
		TopP:            co.TopP,
		PresencePenalty: co.PresencePenalty,
		Headers:         co.Headers,
	}
}

// lock serializes turns per conversation id and returns the release func.
func (o *Orchestrator) lock(convID string) func() {
	o.mu.Lock()
	l, ok := o.locks[convID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[convID] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}
