package cache

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
	BackendRedis  = "redis"
)

// Options selects and parameterizes a cache backend.
type Options struct {
	// Backend is one of memory, sqlite, nats, redis.
	Backend string

	// Path is the SQLite database file.
	Path string

	// URL is the NATS server URL or Redis address, per backend.
	URL string

	// Bucket is the NATS KV bucket name.
	Bucket string
}

// Open constructs the Store selected by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite, "":
		return NewSQLite(opts.Path)
	case BackendNATS:
		return NewNATS(ctx, opts.URL, opts.Bucket)
	case BackendRedis:
		return NewRedis(ctx, opts.URL)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}
}
