// Package cache persists the last known-good server page so reads have
// something to paint before the network answers. The snapshot is advisory: a
// missing or unreadable one only costs the instant first paint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/platform/storage"
)

// Snapshot is the cached view of the server's first page plus totals.
type Snapshot struct {
	Transactions []transaction.Transaction `json:"transactions"`
	Aggregates   transaction.Aggregates    `json:"aggregates"`
	Total        int64                     `json:"total"`
	SavedAt      time.Time                 `json:"saved_at"`
}

// Cache stores snapshots in the device key-value store.
type Cache struct {
	logger *slog.Logger
	store  storage.KV
	mu     sync.Mutex
}

// New creates a cache backed by the given device store.
func New(logger *slog.Logger, store storage.KV) *Cache {
	return &Cache{
		logger: logger,
		store:  store,
	}
}

// Save persists the snapshot, stamping it with the current time. Storage
// failures are logged and absorbed.
func (c *Cache) Save(ctx context.Context, snap Snapshot) {
	snap.SavedAt = time.Now().UTC()

	raw, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("Failed to encode cache snapshot", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Set(ctx, storage.KeyCacheSnapshot, string(raw)); err != nil {
		c.logger.Warn("Failed to persist cache snapshot", "error", err)
	}
}

// Load returns the persisted snapshot, if a readable one exists.
func (c *Cache) Load(ctx context.Context) (Snapshot, bool) {
	c.mu.Lock()
	raw, err := c.store.Get(ctx, storage.KeyCacheSnapshot)
	c.mu.Unlock()

	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound{}) {
			c.logger.Warn("Failed to load cache snapshot", "error", err)
		}
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn("Discarding unreadable cache snapshot", "error", err)
		return Snapshot{}, false
	}

	return snap, true
}

// Clear drops the persisted snapshot.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(ctx, storage.KeyCacheSnapshot); err != nil {
		c.logger.Warn("Failed to clear cache snapshot", "error", err)
	}
}
