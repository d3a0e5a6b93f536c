package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATS is a Store backed by a JetStream KV bucket, for deployments where
// several consumers (a batch rebuild, an interactive lookup service)
// share one cache across hosts.
type NATS struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
}

// NewNATS connects to the given NATS URL and binds the bucket, creating
// it if needed.
func NewNATS(ctx context.Context, url, bucket string) (*NATS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("nats cache: bucket is required")
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats cache: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats cache: jetstream: %w", err)
	}

	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &NATS{conn: conn, kv: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "taxomat lookup cache",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats cache: create bucket %s: %w", name, err)
	}
	return kv, nil
}

// kvKey encodes a cache key into the restricted NATS key charset.
func kvKey(k Key) string {
	return base64.RawURLEncoding.EncodeToString([]byte(encodeKey(k)))
}

// Get implements Store.
func (n *NATS) Get(ctx context.Context, key Key) (*Entry, error) {
	kve, err := n.kv.Get(ctx, kvKey(key))
	if err != nil {
		if isKeyNotFound(err) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("nats cache: get: %w", err)
	}

	e, err := unmarshalEntry(kve.Value())
	if err != nil {
		return nil, err
	}
	if e.Expired(time.Now()) {
		return nil, ErrMiss
	}
	return e, nil
}

// Put implements Store.
func (n *NATS) Put(ctx context.Context, e *Entry) error {
	data, err := marshalEntry(e)
	if err != nil {
		return err
	}
	if _, err := n.kv.Put(ctx, kvKey(e.Key), data); err != nil {
		return fmt.Errorf("nats cache: put: %w", err)
	}
	return nil
}

// Keys implements Store.
func (n *NATS) Keys(ctx context.Context) ([]Key, error) {
	raw, err := n.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("nats cache: keys: %w", err)
	}

	keys := make([]Key, 0, len(raw))
	for _, rk := range raw {
		decoded, err := base64.RawURLEncoding.DecodeString(rk)
		if err != nil {
			continue // Skip keys written by something else
		}
		key, err := decodeKey(string(decoded))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PurgeExpired implements Store.
func (n *NATS) PurgeExpired(ctx context.Context) (int, error) {
	raw, err := n.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return 0, nil
		}
		return 0, fmt.Errorf("nats cache: keys: %w", err)
	}

	now := time.Now()
	purged := 0
	for _, rk := range raw {
		kve, err := n.kv.Get(ctx, rk)
		if err != nil {
			continue
		}
		e, err := unmarshalEntry(kve.Value())
		if err != nil || !e.Expired(now) {
			continue
		}
		if err := n.kv.Delete(ctx, rk); err == nil {
			purged++
		}
	}
	return purged, nil
}

// Clear implements Store.
func (n *NATS) Clear(ctx context.Context) error {
	raw, err := n.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil
		}
		return fmt.Errorf("nats cache: keys: %w", err)
	}
	for _, rk := range raw {
		if err := n.kv.Delete(ctx, rk); err != nil {
			return fmt.Errorf("nats cache: delete: %w", err)
		}
	}
	return nil
}

// Close implements Store.
func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

// isKeyNotFound checks if an error indicates a key was not found.
func isKeyNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
