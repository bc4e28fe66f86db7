// Package store persists conversation state behind a small key/value
// contract. Keys are namespaced by backend so two backends holding a
// conversation under the same id never collide. Writes are whole-object
// overwrites — last write wins; turn serialization is the orchestrator's
// concern, not the store's.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/howard-nolan/chatgateway/internal/thread"
)

// Store is the persistence contract the orchestrator depends on.
type Store interface {
	// Get loads a conversation by id. The bool reports presence; an
	// absent conversation is not an error.
	Get(ctx context.Context, id string) (*thread.Conversation, bool, error)
	// Set overwrites the conversation stored under id.
	Set(ctx context.Context, id string, conv *thread.Conversation) error
}

func key(namespace, id string) string {
	return namespace + ":conv:" + id
}

// Memory is an in-process Store. It is the default when no persistence is
// configured and the fixture of choice in tests. Conversations are held as
// JSON so Get hands back a private copy, same as the real stores.
type Memory struct {
	ns string

	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store for one backend namespace.
func NewMemory(namespace string) *Memory {
	return &Memory{ns: namespace, data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, id string) (*thread.Conversation, bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key(m.ns, id)]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var conv thread.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, false, errors.Wrap(err, "decoding stored conversation")
	}
	return &conv, true, nil
}

func (m *Memory) Set(_ context.Context, id string, conv *thread.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return errors.Wrap(err, "encoding conversation")
	}
	m.mu.Lock()
	m.data[key(m.ns, id)] = raw
	m.mu.Unlock()
	return nil
}
