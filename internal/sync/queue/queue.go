// Package queue implements the durable mutation queue. Entries live in
// memory and are mirrored to the device key-value store after every change,
// so pending work survives process restarts. The in-memory view stays
// authoritative when storage misbehaves: a failed write degrades durability,
// never correctness of the running session.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/moneybrain/syncd/internal/domain/mutation"
	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/platform/storage"
)

// Queue holds pending mutations in enqueue order, at most one entry per
// target transaction.
type Queue struct {
	logger *slog.Logger
	store  storage.KV

	mu      sync.Mutex
	loaded  bool
	entries []mutation.Mutation

	group singleflight.Group
}

// New creates a queue backed by the given device store. Entries are loaded
// lazily on first use.
func New(logger *slog.Logger, store storage.KV) *Queue {
	return &Queue{
		logger: logger,
		store:  store,
	}
}

// Add records a new intent for the target. If an entry for the target is
// already pending, the intent coalesces into it; when the two cancel out
// (local-only add followed by delete) the entry disappears and canceled is
// true.
func (q *Queue) Add(ctx context.Context, action mutation.Action, targetID string, payload transaction.Patch) (m mutation.Mutation, canceled bool) {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, existing := range q.entries {
		if existing.TargetID != targetID {
			continue
		}
		merged, drop := mutation.Coalesce(existing, action, payload)
		if drop {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.persistLocked(ctx)
			return mutation.Mutation{}, true
		}
		q.entries[i] = merged
		q.persistLocked(ctx)
		return merged, false
	}

	m = mutation.New(action, targetID, payload)
	q.entries = append(q.entries, m)
	q.persistLocked(ctx)
	return m, false
}

// Pending returns a copy of the queued mutations in enqueue order.
func (q *Queue) Pending(ctx context.Context) []mutation.Mutation {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]mutation.Mutation, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len reports the number of pending mutations.
func (q *Queue) Len(ctx context.Context) int {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Get returns the pending entry for a target, if any.
func (q *Queue) Get(ctx context.Context, targetID string) (mutation.Mutation, bool) {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.entries {
		if m.TargetID == targetID {
			return m, true
		}
	}
	return mutation.Mutation{}, false
}

// Complete removes a successfully replayed entry by its queue id.
func (q *Queue) Complete(ctx context.Context, id string) {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.entries {
		if m.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.persistLocked(ctx)
			return
		}
	}
}

// IncrementRetry bumps the retry counter of an entry and returns the new
// count. Returns 0 if the entry no longer exists.
func (q *Queue) IncrementRetry(ctx context.Context, id string) int {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Retries++
			q.persistLocked(ctx)
			return q.entries[i].Retries
		}
	}
	return 0
}

// Remove drops an entry by queue id regardless of its state. Used when a
// mutation is dead-lettered.
func (q *Queue) Remove(ctx context.Context, id string) (mutation.Mutation, bool) {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.entries {
		if m.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.persistLocked(ctx)
			return m, true
		}
	}
	return mutation.Mutation{}, false
}

// RetargetAdd rewrites a pending add's target from its provisional local id
// to the server-assigned one. Later intents against the old id would miss the
// entry otherwise.
func (q *Queue) RetargetAdd(ctx context.Context, oldID, newID string) {
	q.ensureLoaded(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].TargetID == oldID {
			q.entries[i].TargetID = newID
			q.persistLocked(ctx)
			return
		}
	}
}

// Reload discards the in-memory view and re-reads the persisted queue.
func (q *Queue) Reload(ctx context.Context) {
	q.mu.Lock()
	q.loaded = false
	q.entries = nil
	q.mu.Unlock()
	q.ensureLoaded(ctx)
}

// ensureLoaded reads the persisted queue exactly once, collapsing concurrent
// first uses into a single storage read.
func (q *Queue) ensureLoaded(ctx context.Context) {
	q.mu.Lock()
	loaded := q.loaded
	q.mu.Unlock()
	if loaded {
		return
	}

	q.group.Do("load", func() (interface{}, error) {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.loaded {
			return nil, nil
		}

		raw, err := q.store.Get(ctx, storage.KeyMutationQueue)
		switch {
		case err == nil:
			var entries []mutation.Mutation
			if jsonErr := json.Unmarshal([]byte(raw), &entries); jsonErr != nil {
				q.logger.Warn("Discarding unreadable mutation queue", "error", jsonErr)
			} else {
				q.entries = entries
			}
		case errors.Is(err, storage.ErrKeyNotFound{}):
			// First run, nothing persisted yet.
		default:
			q.logger.Warn("Failed to load mutation queue, starting empty", "error", err)
		}

		q.loaded = true
		return nil, nil
	})
}

// persistLocked mirrors the current entries to the device store. Callers
// hold q.mu.
func (q *Queue) persistLocked(ctx context.Context) {
	raw, err := json.Marshal(q.entries)
	if err != nil {
		q.logger.Warn("Failed to encode mutation queue", "error", err)
		return
	}
	if err := q.store.Set(ctx, storage.KeyMutationQueue, string(raw)); err != nil {
		q.logger.Warn("Failed to persist mutation queue", "error", err)
	}
}
