// Package thread holds the conversation data model. Messages are stored as
// a tree keyed by parent-message id rather than a flat log: every message
// points at the message it replies to, so one conversation can hold several
// divergent branches (regenerated answers, edited questions). Only the
// single root-to-leaf path for the current turn is ever sent to a backend —
// Path does that resolution.
package thread

import (
	"time"

	"github.com/google/uuid"
)

// Message is one turn in a conversation. Role vocabulary is backend-specific
// (see the backend package) — we store whatever labels the owning backend
// uses rather than normalizing, because the same labels flow back out during
// prompt assembly.
type Message struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentMessageId,omitempty"` // empty for root messages
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessageID returns a fresh opaque message identifier.
func NewMessageID() string {
	return uuid.New().String()
}

// Conversation is the persisted state for one conversation id. Messages is
// append-only and kept in creation order — tree order lives entirely in the
// ParentID links, never in slice position.
type Conversation struct {
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewConversation creates an empty conversation stamped with the current time.
func NewConversation() *Conversation {
	return &Conversation{CreatedAt: time.Now().UTC()}
}

// Append adds a message. Messages are never removed or reordered once added.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// Lookup finds a message by id. Linear scan: conversations are short enough
// that an id-indexed map would be rebuilt more often than it is consulted.
func (c *Conversation) Lookup(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Path resolves the ordered ancestor chain ending at leafID: start at the
// leaf, follow ParentID links backward, prepending each message, until a
// message has no parent or the lookup fails. The result runs root→leaf.
//
// A dangling parent id truncates the path at that point instead of failing.
// The same applies to an unknown leafID, which yields an empty path. Broken
// chains are treated as truncated history, not as corruption.
func (c *Conversation) Path(leafID string) []Message {
	var path []Message
	id := leafID
	for id != "" {
		msg, ok := c.Lookup(id)
		if !ok {
			break
		}
		path = append([]Message{msg}, path...)
		id = msg.ParentID
	}
	return path
}
