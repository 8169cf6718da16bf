// Package core defines the ports between the task engine and its storage adapters.
package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for key/value operations with expiry.
// The core defines the port and the data layer provides the implementation.
type CacheRepository interface {
	// Set stores a value with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// SetUnlessGuarded atomically sets key only while guard does not exist.
	// Returns true if the key was written. Both keys must hash to the same cluster slot.
	SetUnlessGuarded(ctx context.Context, key, guard string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// PubSub is a fire-and-forget broadcast channel keyed by name.
// Delivery is best effort; subscribers must not rely on it for correctness.
type PubSub interface {
	Publish(ctx context.Context, channel string, message []byte) error
	// Subscribe returns a channel of payloads that is closed when ctx ends or the
	// returned cancel func is called.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}
