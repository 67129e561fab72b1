package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/moneybrain/syncd/internal/domain/mutation"
	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/platform/connectivity"
	"github.com/moneybrain/syncd/internal/platform/storage"
	"github.com/moneybrain/syncd/internal/sync/cache"
	"github.com/moneybrain/syncd/internal/sync/orchestrator"
	"github.com/moneybrain/syncd/internal/sync/queue"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) List(ctx context.Context, userID string, page, pageSize int, f transaction.Filter) ([]transaction.Transaction, int64, error) {
	args := m.Called(ctx, userID, page, pageSize, f)
	var list []transaction.Transaction
	if args.Get(0) != nil {
		list = args.Get(0).([]transaction.Transaction)
	}
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *MockStore) Aggregates(ctx context.Context, userID string) (transaction.Aggregates, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(transaction.Aggregates), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, userID string, t transaction.Transaction) (transaction.Transaction, error) {
	args := m.Called(ctx, userID, t)
	return args.Get(0).(transaction.Transaction), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, userID, id string, p transaction.Patch) error {
	args := m.Called(ctx, userID, id, p)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, userID, id string) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

const testUser = "user-1"

type fixture struct {
	coord *Coordinator
	store *MockStore
	queue *queue.Queue
	cache *cache.Cache
}

func newFixture(t *testing.T, checker connectivity.Checker) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := storage.NewMemoryKV()
	q := queue.New(logger, kv)
	c := cache.New(logger, kv)
	store := new(MockStore)
	orch := orchestrator.New(logger, q, store, checker, nil, testUser, 5, time.Minute)

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	return fixture{
		coord: New(logger, store, q, c, checker, orch, pool, testUser, 20),
		store: store,
		queue: q,
		cache: c,
	}
}

func validTransaction() transaction.Transaction {
	return transaction.Transaction{
		Amount:   800,
		Title:    "Coffee",
		Type:     transaction.TypeExpense,
		Category: "Food",
		Date:     time.Now().UTC(),
	}
}

func TestCoordinator_AddOnline(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	fx.cache.Save(ctx, cache.Snapshot{
		Aggregates: transaction.Aggregates{Income: 5000, Expense: 0, Balance: 5000},
		Total:      1,
	})

	txn := validTransaction()
	fx.store.On("Create", ctx, testUser, txn).
		Return(transaction.Transaction{ID: "srv-1", Amount: 800, Title: "Coffee", Type: transaction.TypeExpense, Category: "Food"}, nil).Once()

	created, err := fx.coord.Add(ctx, txn)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", created.ID)
	assert.Equal(t, 0, fx.queue.Len(ctx))

	snap, ok := fx.cache.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, transaction.Aggregates{Income: 5000, Expense: 800, Balance: 4200}, snap.Aggregates)
	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, "srv-1", snap.Transactions[0].ID)
}

func TestCoordinator_AddOfflineQueues(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	created, err := fx.coord.Add(ctx, validTransaction())
	require.NoError(t, err)
	assert.True(t, transaction.IsLocalID(created.ID))

	pending := fx.queue.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, mutation.ActionAdd, pending[0].Action)
	assert.Equal(t, created.ID, pending[0].TargetID)
	fx.store.AssertNotCalled(t, "Create")
}

func TestCoordinator_AddValidationFailureNeverQueues(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	bad := validTransaction()
	bad.Amount = -5

	_, err := fx.coord.Add(ctx, bad)
	assert.True(t, transaction.IsValidation(err))
	assert.Equal(t, 0, fx.queue.Len(ctx))
}

func TestCoordinator_AddTransportFailureFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	txn := validTransaction()
	fx.store.On("Create", ctx, testUser, txn).
		Return(transaction.Transaction{}, &transaction.ErrUnavailable{Op: "create", Err: context.DeadlineExceeded}).Once()

	created, err := fx.coord.Add(ctx, txn)
	require.NoError(t, err)
	assert.True(t, transaction.IsLocalID(created.ID))
	assert.Equal(t, 1, fx.queue.Len(ctx))
}

func TestCoordinator_AddServerRejectionSurfaces(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	txn := validTransaction()
	fx.store.On("Create", ctx, testUser, txn).
		Return(transaction.Transaction{}, &transaction.ErrValidation{Field: "title", Message: "too long"}).Once()

	_, err := fx.coord.Add(ctx, txn)
	assert.True(t, transaction.IsValidation(err))
	assert.Equal(t, 0, fx.queue.Len(ctx))
}

func TestCoordinator_UpdateLocalIDFoldsIntoPendingAdd(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	created, err := fx.coord.Add(ctx, validTransaction())
	require.NoError(t, err)

	amount := int64(950)
	require.NoError(t, fx.coord.Update(ctx, created.ID, transaction.Patch{Amount: &amount}))

	pending := fx.queue.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, mutation.ActionAdd, pending[0].Action) // still an add
	assert.Equal(t, int64(950), *pending[0].Payload.Amount)
	fx.store.AssertNotCalled(t, "Update")
}

func TestCoordinator_UpdateUnknownLocalID(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	title := "x"
	err := fx.coord.Update(ctx, transaction.NewLocalID(), transaction.Patch{Title: &title})
	var notFound *transaction.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestCoordinator_UpdateOnlineKeepsAggregatesSymmetric(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	fx.cache.Save(ctx, cache.Snapshot{
		Transactions: []transaction.Transaction{
			{ID: "srv-1", Amount: 800, Title: "Coffee", Type: transaction.TypeExpense, Category: "Food"},
		},
		Aggregates: transaction.Aggregates{Income: 5000, Expense: 800, Balance: 4200},
		Total:      2,
	})

	// Reclassify the expense as borrowed money: the old contribution must be
	// reversed before the new one lands.
	typ := transaction.TypeBorrowed
	patch := transaction.Patch{Type: &typ}
	fx.store.On("Update", ctx, testUser, "srv-1", patch).Return(nil).Once()

	require.NoError(t, fx.coord.Update(ctx, "srv-1", patch))

	snap, _ := fx.cache.Load(ctx)
	assert.Equal(t, transaction.Aggregates{Income: 5800, Expense: 0, Balance: 5800}, snap.Aggregates)
	assert.Equal(t, transaction.TypeBorrowed, snap.Transactions[0].Type)
}

func TestCoordinator_DeleteLocalIDCancelsPendingAdd(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	created, err := fx.coord.Add(ctx, validTransaction())
	require.NoError(t, err)

	require.NoError(t, fx.coord.Delete(ctx, created.ID))
	assert.Equal(t, 0, fx.queue.Len(ctx)) // add and delete canceled out
	fx.store.AssertNotCalled(t, "Delete")
}

func TestCoordinator_DeleteOnlineUpdatesSnapshot(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	fx.cache.Save(ctx, cache.Snapshot{
		Transactions: []transaction.Transaction{
			{ID: "srv-1", Amount: 800, Type: transaction.TypeExpense},
		},
		Aggregates: transaction.Aggregates{Income: 5000, Expense: 800, Balance: 4200},
		Total:      1,
	})

	fx.store.On("Delete", ctx, testUser, "srv-1").Return(nil).Once()
	require.NoError(t, fx.coord.Delete(ctx, "srv-1"))

	snap, _ := fx.cache.Load(ctx)
	assert.Empty(t, snap.Transactions)
	assert.Equal(t, int64(0), snap.Total)
	assert.Equal(t, transaction.Aggregates{Income: 5000, Expense: 0, Balance: 5000}, snap.Aggregates)
}

func TestCoordinator_DeleteTransportFailureQueues(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	fx.store.On("Delete", ctx, testUser, "srv-1").
		Return(&transaction.ErrUnavailable{Op: "delete", Err: context.DeadlineExceeded}).Once()

	require.NoError(t, fx.coord.Delete(ctx, "srv-1"))

	pending := fx.queue.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, mutation.ActionDelete, pending[0].Action)
}

func TestCoordinator_FetchPageOnline(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	serverList := []transaction.Transaction{
		{ID: "srv-1", Amount: 5000, Title: "Salary", Type: transaction.TypeIncome, Category: "Work"},
		{ID: "srv-2", Amount: 800, Title: "Coffee", Type: transaction.TypeExpense, Category: "Food"},
	}
	fx.store.On("List", mock.Anything, testUser, 1, 2, transaction.Filter{}).
		Return(serverList, int64(5), nil).Once()
	fx.store.On("Aggregates", mock.Anything, testUser).
		Return(transaction.Aggregates{Income: 5000, Expense: 2300, Balance: 2700}, nil).Once()

	page, err := fx.coord.FetchPage(ctx, 1, 2, transaction.Filter{})
	require.NoError(t, err)
	assert.False(t, page.FromCache)
	assert.Equal(t, int64(5), page.Total)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Transactions, 2)

	// The first unfiltered page refreshes the snapshot.
	snap, ok := fx.cache.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, serverList, snap.Transactions)
}

func TestCoordinator_FetchPageOnlineOverlaysQueue(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	localID := transaction.NewLocalID()
	txn := validTransaction()
	txn.ID = localID
	fx.queue.Add(ctx, mutation.ActionAdd, localID, transaction.AsPatch(txn))

	fx.store.On("List", mock.Anything, testUser, 1, 20, transaction.Filter{}).
		Return([]transaction.Transaction{{ID: "srv-1", Amount: 5000, Type: transaction.TypeIncome}}, int64(1), nil).Once()
	fx.store.On("Aggregates", mock.Anything, testUser).
		Return(transaction.Aggregates{Income: 5000, Balance: 5000}, nil).Once()

	page, err := fx.coord.FetchPage(ctx, 1, 20, transaction.Filter{})
	require.NoError(t, err)

	require.Len(t, page.Transactions, 2)
	assert.Equal(t, localID, page.Transactions[0].ID)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, transaction.Aggregates{Income: 5000, Expense: 800, Balance: 4200}, page.Aggregates)
}

func TestCoordinator_FetchPageDeeperPagesSkipOverlay(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	localID := transaction.NewLocalID()
	txn := validTransaction()
	txn.ID = localID
	fx.queue.Add(ctx, mutation.ActionAdd, localID, transaction.AsPatch(txn))

	serverList := []transaction.Transaction{{ID: "srv-3", Amount: 1200, Type: transaction.TypeExpense}}
	fx.store.On("List", mock.Anything, testUser, 2, 1, transaction.Filter{}).
		Return(serverList, int64(3), nil).Once()
	fx.store.On("Aggregates", mock.Anything, testUser).
		Return(transaction.Aggregates{Income: 5000, Expense: 2000, Balance: 3000}, nil).Once()

	page, err := fx.coord.FetchPage(ctx, 2, 1, transaction.Filter{})
	require.NoError(t, err)

	// The pending add was already shown on page one; a load-more returns the
	// server rows verbatim with server totals.
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "srv-3", page.Transactions[0].ID)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, transaction.Aggregates{Income: 5000, Expense: 2000, Balance: 3000}, page.Aggregates)
}

func TestCoordinator_FetchPageHasMoreTracksFullPages(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	full := []transaction.Transaction{
		{ID: "srv-3", Amount: 100, Type: transaction.TypeExpense},
		{ID: "srv-4", Amount: 200, Type: transaction.TypeExpense},
	}
	fx.store.On("List", mock.Anything, testUser, 2, 2, transaction.Filter{}).
		Return(full, int64(4), nil).Once()
	fx.store.On("List", mock.Anything, testUser, 3, 2, transaction.Filter{}).
		Return([]transaction.Transaction{}, int64(4), nil).Once()
	fx.store.On("Aggregates", mock.Anything, testUser).
		Return(transaction.Aggregates{}, nil).Twice()

	// A full last page still reports more: the caller discovers the end on
	// the next, empty fetch.
	page, err := fx.coord.FetchPage(ctx, 2, 2, transaction.Filter{})
	require.NoError(t, err)
	assert.True(t, page.HasMore)

	page, err = fx.coord.FetchPage(ctx, 3, 2, transaction.Filter{})
	require.NoError(t, err)
	assert.False(t, page.HasMore)
}

func TestCoordinator_FetchPageFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	fx.cache.Save(ctx, cache.Snapshot{
		Transactions: []transaction.Transaction{{ID: "srv-1", Amount: 5000, Title: "Salary", Type: transaction.TypeIncome}},
		Aggregates:   transaction.Aggregates{Income: 5000, Balance: 5000},
		Total:        1,
	})

	unavailable := &transaction.ErrUnavailable{Op: "list", Err: context.DeadlineExceeded}
	fx.store.On("List", mock.Anything, testUser, 1, 20, transaction.Filter{}).
		Return(nil, int64(0), unavailable).Maybe()
	fx.store.On("Aggregates", mock.Anything, testUser).
		Return(transaction.Aggregates{}, unavailable).Maybe()

	page, err := fx.coord.FetchPage(ctx, 1, 20, transaction.Filter{})
	require.NoError(t, err)
	assert.True(t, page.FromCache)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "srv-1", page.Transactions[0].ID)
}

func TestCoordinator_FetchPageOfflineWithoutCache(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	page, err := fx.coord.FetchPage(ctx, 1, 20, transaction.Filter{})
	require.NoError(t, err)
	assert.True(t, page.FromCache)
	assert.Empty(t, page.Transactions)
	assert.False(t, page.HasMore)
}

func TestCoordinator_FetchPageOfflineDeepPagesAreEmpty(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	fx.cache.Save(ctx, cache.Snapshot{
		Transactions: []transaction.Transaction{{ID: "srv-1"}},
		Total:        40,
	})

	page, err := fx.coord.FetchPage(ctx, 2, 20, transaction.Filter{})
	require.NoError(t, err)
	assert.True(t, page.FromCache)
	assert.Empty(t, page.Transactions)
}

func TestCoordinator_LockMapDrainsAfterUse(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(true))

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("srv-%d", i)
		fx.store.On("Delete", ctx, testUser, id).Return(nil).Once()
		require.NoError(t, fx.coord.Delete(ctx, id))
	}

	fx.coord.locksMu.Lock()
	defer fx.coord.locksMu.Unlock()
	assert.Empty(t, fx.coord.locks)
}

func TestCoordinator_FetchPageOfflineAppliesFilter(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, connectivity.Static(false))

	fx.cache.Save(ctx, cache.Snapshot{
		Transactions: []transaction.Transaction{
			{ID: "srv-1", Title: "Salary", Type: transaction.TypeIncome, Category: "Work"},
			{ID: "srv-2", Title: "Coffee", Type: transaction.TypeExpense, Category: "Food"},
		},
		Total: 2,
	})

	page, err := fx.coord.FetchPage(ctx, 1, 20, transaction.Filter{Search: "coff"})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "srv-2", page.Transactions[0].ID)
}
