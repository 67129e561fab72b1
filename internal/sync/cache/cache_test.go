package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/platform/storage"
)

func newTestCache(store storage.KV) *Cache {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), store)
}

func TestCache_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(storage.NewMemoryKV())

	snap := Snapshot{
		Transactions: []transaction.Transaction{
			{ID: "txn-1", Amount: 1200, Title: "Lunch", Type: transaction.TypeExpense, Category: "Food", Date: time.Now().UTC()},
		},
		Aggregates: transaction.Aggregates{Income: 5000, Expense: 1200, Balance: 3800},
		Total:      1,
	}
	c.Save(ctx, snap)

	got, ok := c.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, snap.Transactions, got.Transactions)
	assert.Equal(t, snap.Aggregates, got.Aggregates)
	assert.Equal(t, snap.Total, got.Total)
	assert.False(t, got.SavedAt.IsZero())
}

func TestCache_LoadWithoutSnapshot(t *testing.T) {
	c := newTestCache(storage.NewMemoryKV())
	_, ok := c.Load(context.Background())
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(storage.NewMemoryKV())

	c.Save(ctx, Snapshot{Total: 3})
	c.Clear(ctx)

	_, ok := c.Load(ctx)
	assert.False(t, ok)
}

func TestCache_StorageFailuresAreAbsorbed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryKV()
	store.FailWrites = errors.New("disk full")
	store.FailReads = errors.New("disk gone")

	c := newTestCache(store)
	c.Save(ctx, Snapshot{Total: 1}) // must not panic

	_, ok := c.Load(ctx)
	assert.False(t, ok)
}
