package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybrain/syncd/internal/domain/transaction"
)

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

func TestCoalesce_AddThenDeleteCancels(t *testing.T) {
	existing := New(ActionAdd, "local-1", transaction.Patch{Title: strPtr("Lunch")})

	_, drop := Coalesce(existing, ActionDelete, transaction.Patch{})
	assert.True(t, drop)
}

func TestCoalesce_AddThenUpdateStaysAdd(t *testing.T) {
	existing := New(ActionAdd, "local-1", transaction.Patch{Title: strPtr("Lunch"), Amount: int64Ptr(1200)})

	merged, drop := Coalesce(existing, ActionUpdate, transaction.Patch{Amount: int64Ptr(1500)})
	require.False(t, drop)
	assert.Equal(t, ActionAdd, merged.Action)
	assert.Equal(t, "Lunch", *merged.Payload.Title)
	assert.Equal(t, int64(1500), *merged.Payload.Amount)
	assert.False(t, merged.EnqueuedAt.Before(existing.EnqueuedAt))
}

func TestCoalesce_UpdateThenDeleteUpgrades(t *testing.T) {
	existing := New(ActionUpdate, "srv-9", transaction.Patch{Title: strPtr("Rent")})

	merged, drop := Coalesce(existing, ActionDelete, transaction.Patch{})
	require.False(t, drop)
	assert.Equal(t, ActionDelete, merged.Action)
	assert.True(t, merged.Payload.IsZero())
	assert.Equal(t, "srv-9", merged.TargetID)
}

func TestCoalesce_UpdateThenUpdateMerges(t *testing.T) {
	existing := New(ActionUpdate, "srv-9", transaction.Patch{Title: strPtr("Rent"), Amount: int64Ptr(90000)})

	merged, drop := Coalesce(existing, ActionUpdate, transaction.Patch{Amount: int64Ptr(95000)})
	require.False(t, drop)
	assert.Equal(t, ActionUpdate, merged.Action)
	assert.Equal(t, "Rent", *merged.Payload.Title)
	assert.Equal(t, int64(95000), *merged.Payload.Amount)
}

func TestNew_AssignsDistinctIDs(t *testing.T) {
	a := New(ActionAdd, "local-1", transaction.Patch{})
	b := New(ActionAdd, "local-2", transaction.Patch{})
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Zero(t, a.Retries)
}
