// Package storage provides the device key-value store the sync engine
// persists its durable queue and read cache into. Values are opaque strings;
// callers own serialization.
package storage

import "context"

// ErrKeyNotFound indicates the key has never been written (or was removed).
type ErrKeyNotFound struct {
	Key string
}

func (e ErrKeyNotFound) Error() string {
	return "storage key not found: " + e.Key
}

// Is matches any ErrKeyNotFound when the target carries an empty key.
func (e ErrKeyNotFound) Is(target error) bool {
	t, ok := target.(ErrKeyNotFound)
	if !ok {
		return false
	}
	return t.Key == "" || t.Key == e.Key
}

// KV is the persistent string-keyed, string-valued store contract.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Logical keys used by the sync engine. Kept here so no two components can
// collide on the same blob.
const (
	KeyMutationQueue = "syncd.mutation_queue"
	KeyCacheSnapshot = "syncd.cache_snapshot"
)
