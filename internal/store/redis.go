package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/howard-nolan/chatgateway/internal/thread"
)

// Redis stores conversations as JSON values in Redis, one key per
// conversation. No TTL is set: conversations live until evicted by
// whatever policy the Redis deployment runs.
type Redis struct {
	ns     string
	client *redis.Client
}

// NewRedis wraps an existing client for one backend namespace.
func NewRedis(namespace string, client *redis.Client) *Redis {
	return &Redis{ns: namespace, client: client}
}

func (r *Redis) Get(ctx context.Context, id string) (*thread.Conversation, bool, error) {
	raw, err := r.client.Get(ctx, key(r.ns, id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	var conv thread.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, false, errors.Wrap(err, "decoding stored conversation")
	}
	return &conv, true, nil
}

func (r *Redis) Set(ctx context.Context, id string, conv *thread.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return errors.Wrap(err, "encoding conversation")
	}
	if err := r.client.Set(ctx, key(r.ns, id), raw, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}
