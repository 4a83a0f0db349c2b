// Package store provides the persistent key-value abstraction the license
// engine reads and writes through. Hosts may supply their own implementation;
// Memory, SQLite, and Redis implementations are provided.
package store

import "context"

// Store is a synchronous key-value store. A missing key is not an error:
// Get returns (nil, nil). Implementations must tolerate concurrent external
// mutation of the underlying storage.
type Store interface {
	// Get returns the value for key, or (nil, nil) if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes or replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys that begin with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
