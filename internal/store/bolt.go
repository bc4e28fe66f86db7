package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/howard-nolan/chatgateway/internal/thread"
)

// Bolt stores conversations in a local BoltDB file, one bucket per backend
// namespace. It keeps a single open handle for the process lifetime —
// BoltDB allows only one writer per file.
type Bolt struct {
	ns string
	db *bolt.DB
}

// NewBolt opens (or creates) the database file. Close must be called on
// shutdown.
func NewBolt(namespace, path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt database")
	}
	return &Bolt{ns: namespace, db: db}, nil
}

// Close releases the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Get(_ context.Context, id string) (*thread.Conversation, bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(b.ns))
		if bkt == nil {
			return nil
		}
		if v := bkt.Get([]byte(key(b.ns, id))); v != nil {
			raw = append([]byte(nil), v...) // copy out of the mmap
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "bolt view")
	}
	if raw == nil {
		return nil, false, nil
	}
	var conv thread.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, false, errors.Wrap(err, "decoding stored conversation")
	}
	return &conv, true, nil
}

func (b *Bolt) Set(_ context.Context, id string, conv *thread.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return errors.Wrap(err, "encoding conversation")
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(b.ns))
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key(b.ns, id)), raw)
	})
	return errors.Wrap(err, "bolt update")
}
