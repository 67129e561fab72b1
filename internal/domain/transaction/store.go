package transaction

import (
	"context"
	"time"
)

// Store is the remote cloud database contract. Implementations map transport
// faults to ErrUnavailable and schema/constraint rejections to ErrValidation
// so the sync layers can route errors without knowing the backend.
type Store interface {
	// List returns one page of the user's transactions ordered by date
	// descending, plus the unfiltered-or-filtered total row count.
	List(ctx context.Context, userID string, page, pageSize int, f Filter) ([]Transaction, int64, error)

	// Aggregates computes income/expense/balance server-side using the same
	// sign rule as Summarize.
	Aggregates(ctx context.Context, userID string) (Aggregates, error)

	// Create inserts a row and returns it with the server-assigned id.
	Create(ctx context.Context, userID string, t Transaction) (Transaction, error)

	Update(ctx context.Context, userID, id string, p Patch) error
	Delete(ctx context.Context, userID, id string) error

	// Ping checks reachability; used by the connectivity monitor.
	Ping(ctx context.Context) error
}

// BoundStore wraps a Store with a per-call deadline so a dead network fails
// fast instead of hanging a sync run.
type BoundStore struct {
	inner   Store
	timeout time.Duration
}

// Bound decorates store with a per-call timeout. A zero timeout returns the
// store unchanged.
func Bound(store Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return store
	}
	return &BoundStore{inner: store, timeout: timeout}
}

func (b *BoundStore) List(ctx context.Context, userID string, page, pageSize int, f Filter) ([]Transaction, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.List(ctx, userID, page, pageSize, f)
}

func (b *BoundStore) Aggregates(ctx context.Context, userID string) (Aggregates, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Aggregates(ctx, userID)
}

func (b *BoundStore) Create(ctx context.Context, userID string, t Transaction) (Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Create(ctx, userID, t)
}

func (b *BoundStore) Update(ctx context.Context, userID, id string, p Patch) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Update(ctx, userID, id, p)
}

func (b *BoundStore) Delete(ctx context.Context, userID, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Delete(ctx, userID, id)
}

func (b *BoundStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Ping(ctx)
}
