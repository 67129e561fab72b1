// Package coordinator is the write-through façade the API layer talks to.
// Every operation resolves against the remote store when the backend is
// reachable and degrades to the durable queue when it is not, so callers get
// one answer regardless of connectivity. Operations on the same transaction
// are serialized with a per-id lock, different transactions proceed in
// parallel.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/moneybrain/syncd/internal/domain/mutation"
	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/platform/connectivity"
	"github.com/moneybrain/syncd/internal/sync/cache"
	"github.com/moneybrain/syncd/internal/sync/orchestrator"
	"github.com/moneybrain/syncd/internal/sync/queue"
	"github.com/moneybrain/syncd/internal/sync/reconcile"
)

// Page is one reconciled view of the user's transactions.
type Page struct {
	Transactions []transaction.Transaction `json:"transactions"`
	Aggregates   transaction.Aggregates    `json:"aggregates"`
	Total        int64                     `json:"total"`
	Page         int                       `json:"page"`
	PageSize     int                       `json:"page_size"`
	HasMore      bool                      `json:"has_more"`
	FromCache    bool                      `json:"from_cache"`
}

// Coordinator glues the remote store, durable queue, read cache and sync
// engine together behind one API.
type Coordinator struct {
	logger  *slog.Logger
	store   transaction.Store
	queue   *queue.Queue
	cache   *cache.Cache
	checker connectivity.Checker
	orch    *orchestrator.Orchestrator
	pool    *ants.Pool
	userID  string

	locksMu sync.Mutex
	locks   map[string]*idLock

	pageSize int
}

// New wires a coordinator. The ants pool runs background refreshes and must
// outlive the coordinator's use. pageSize is the page length used for
// background snapshot refreshes.
func New(
	logger *slog.Logger,
	store transaction.Store,
	q *queue.Queue,
	c *cache.Cache,
	checker connectivity.Checker,
	orch *orchestrator.Orchestrator,
	pool *ants.Pool,
	userID string,
	pageSize int,
) *Coordinator {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Coordinator{
		logger:   logger,
		store:    store,
		queue:    q,
		cache:    c,
		checker:  checker,
		orch:     orch,
		pool:     pool,
		userID:   userID,
		locks:    map[string]*idLock{},
		pageSize: pageSize,
	}
}

// Start reacts to finished sync runs by refreshing the cached snapshot, so
// provisional local rows get replaced with their server-assigned identities.
func (c *Coordinator) Start(ctx context.Context) {
	results := c.orch.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-results:
				if res.Replayed == 0 && res.DeadLettered == 0 {
					continue
				}
				if err := c.pool.Submit(func() { c.refreshSnapshot(ctx) }); err != nil {
					c.logger.Warn("Failed to schedule snapshot refresh", "error", err)
				}
			}
		}
	}()
}

// FetchPage returns one reconciled page. Online it reads the server and
// refreshes the first-page snapshot; offline it serves the snapshot with
// pending mutations overlaid.
func (c *Coordinator) FetchPage(ctx context.Context, page, pageSize int, f transaction.Filter) (Page, error) {
	if page < 1 {
		page = 1
	}

	if c.checker.Online() {
		result, err := c.fetchRemote(ctx, page, pageSize, f)
		if err == nil {
			return result, nil
		}
		if !transaction.IsUnavailable(err) {
			return Page{}, err
		}
		c.logger.Warn("Remote fetch failed, serving cached view", "error", err)
	}

	return c.fetchCached(ctx, page, pageSize, f), nil
}

func (c *Coordinator) fetchRemote(ctx context.Context, page, pageSize int, f transaction.Filter) (Page, error) {
	var (
		list  []transaction.Transaction
		total int64
		agg   transaction.Aggregates
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, total, err = c.store.List(gctx, c.userID, page, pageSize, f)
		return err
	})
	g.Go(func() error {
		var err error
		agg, err = c.store.Aggregates(gctx, c.userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Page{}, err
	}

	if page == 1 && f.Empty() {
		c.cache.Save(ctx, cache.Snapshot{
			Transactions: list,
			Aggregates:   agg,
			Total:        total,
		})
	}

	merged := list
	mergedTotal := total
	mergedAgg := agg
	if page == 1 {
		// Pending work is overlaid on the first page only; deeper pages are
		// appended verbatim so a queued add never repeats across load-mores.
		pending := c.queue.Pending(ctx)
		merged = filterMatch(reconcile.Overlay(list, pending), f)
		mergedTotal = reconcile.OverlayTotal(total, list, pending)
		for _, m := range pending {
			adjustAggregates(&mergedAgg, list, m)
		}
	}

	return Page{
		Transactions: merged,
		Aggregates:   mergedAgg,
		Total:        mergedTotal,
		Page:         page,
		PageSize:     pageSize,
		HasMore:      len(list) == pageSize && pageSize > 0,
	}, nil
}

// fetchCached serves the first-page snapshot with the queue overlaid. Deeper
// pages are unknown offline and come back empty.
func (c *Coordinator) fetchCached(ctx context.Context, page, pageSize int, f transaction.Filter) Page {
	result := Page{
		Page:      page,
		PageSize:  pageSize,
		FromCache: true,
	}

	snap, ok := c.cache.Load(ctx)
	pending := c.queue.Pending(ctx)
	if !ok && len(pending) == 0 {
		return result
	}
	if page > 1 {
		return result
	}

	merged := reconcile.Overlay(snap.Transactions, pending)
	result.Transactions = filterMatch(merged, f)
	result.Total = reconcile.OverlayTotal(snap.Total, snap.Transactions, pending)
	result.Aggregates = snap.Aggregates
	for _, m := range pending {
		adjustAggregates(&result.Aggregates, snap.Transactions, m)
	}
	result.HasMore = len(snap.Transactions) == pageSize && pageSize > 0

	return result
}

// Summary returns the user's totals, reconciled with pending mutations. The
// fromCache flag tells the caller the backend was not consulted.
func (c *Coordinator) Summary(ctx context.Context) (transaction.Aggregates, bool, error) {
	snap, _ := c.cache.Load(ctx)
	pending := c.queue.Pending(ctx)

	if c.checker.Online() {
		agg, err := c.store.Aggregates(ctx, c.userID)
		if err == nil {
			for _, m := range pending {
				adjustAggregates(&agg, snap.Transactions, m)
			}
			return agg, false, nil
		}
		if !transaction.IsUnavailable(err) {
			return transaction.Aggregates{}, false, err
		}
		c.logger.Warn("Remote aggregates failed, serving cached totals", "error", err)
	}

	agg := snap.Aggregates
	for _, m := range pending {
		adjustAggregates(&agg, snap.Transactions, m)
	}
	return agg, true, nil
}

// Add records a new transaction. Online it writes through and returns the
// server row; on transport failure or offline it enqueues the add under a
// provisional local id. Validation failures never enqueue.
func (c *Coordinator) Add(ctx context.Context, t transaction.Transaction) (transaction.Transaction, error) {
	if err := t.Validate(); err != nil {
		return transaction.Transaction{}, err
	}

	if c.checker.Online() {
		created, err := c.store.Create(ctx, c.userID, t)
		switch {
		case err == nil:
			c.applySnapshot(ctx, func(s *cache.Snapshot) {
				s.Transactions = append([]transaction.Transaction{created}, s.Transactions...)
				s.Aggregates.Apply(created.Type, created.Amount)
				s.Total++
			})
			return created, nil
		case !transaction.IsUnavailable(err):
			return transaction.Transaction{}, err
		}
		c.logger.Warn("Create failed on transport, queueing", "error", err)
	}

	t.ID = transaction.NewLocalID()
	c.queue.Add(ctx, mutation.ActionAdd, t.ID, transaction.AsPatch(t))
	c.orch.Kick()
	return t, nil
}

// Update patches an existing transaction, online or by queueing. Updates on a
// provisional local id fold into the pending add.
func (c *Coordinator) Update(ctx context.Context, id string, p transaction.Patch) error {
	if p.IsZero() {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}

	unlock := c.lock(id)
	defer unlock()

	if transaction.IsLocalID(id) {
		if _, ok := c.queue.Get(ctx, id); !ok {
			return &transaction.ErrNotFound{ID: id}
		}
		c.queue.Add(ctx, mutation.ActionUpdate, id, p)
		return nil
	}

	if c.checker.Online() {
		err := c.store.Update(ctx, c.userID, id, p)
		switch {
		case err == nil:
			c.applySnapshot(ctx, func(s *cache.Snapshot) {
				for i := range s.Transactions {
					if s.Transactions[i].ID != id {
						continue
					}
					old := s.Transactions[i]
					p.Apply(&s.Transactions[i])
					// Reverse the old contribution and apply the new one so
					// totals stay consistent with the row.
					s.Aggregates.Reverse(old.Type, old.Amount)
					s.Aggregates.Apply(s.Transactions[i].Type, s.Transactions[i].Amount)
					return
				}
			})
			return nil
		case !transaction.IsUnavailable(err):
			return err
		}
		c.logger.Warn("Update failed on transport, queueing", "id", id, "error", err)
	}

	c.queue.Add(ctx, mutation.ActionUpdate, id, p)
	c.orch.Kick()
	return nil
}

// Delete removes a transaction, online or by queueing. Deleting a
// provisional local row cancels its pending add outright.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	unlock := c.lock(id)
	defer unlock()

	if transaction.IsLocalID(id) {
		if _, ok := c.queue.Get(ctx, id); !ok {
			return &transaction.ErrNotFound{ID: id}
		}
		c.queue.Add(ctx, mutation.ActionDelete, id, transaction.Patch{})
		return nil
	}

	if c.checker.Online() {
		err := c.store.Delete(ctx, c.userID, id)
		switch {
		case err == nil, isNotFound(err):
			c.applySnapshot(ctx, func(s *cache.Snapshot) {
				for i := range s.Transactions {
					if s.Transactions[i].ID != id {
						continue
					}
					s.Aggregates.Reverse(s.Transactions[i].Type, s.Transactions[i].Amount)
					s.Transactions = append(s.Transactions[:i], s.Transactions[i+1:]...)
					if s.Total > 0 {
						s.Total--
					}
					return
				}
			})
			return nil
		case !transaction.IsUnavailable(err):
			return err
		}
		c.logger.Warn("Delete failed on transport, queueing", "id", id, "error", err)
	}

	c.queue.Add(ctx, mutation.ActionDelete, id, transaction.Patch{})
	c.orch.Kick()
	return nil
}

// refreshSnapshot re-reads the server's first page after a sync run.
func (c *Coordinator) refreshSnapshot(ctx context.Context) {
	if _, err := c.fetchRemote(ctx, 1, c.pageSize, transaction.Filter{}); err != nil {
		c.logger.Warn("Post-sync snapshot refresh failed", "error", err)
	}
}

// applySnapshot runs fn over the cached snapshot, if one exists.
func (c *Coordinator) applySnapshot(ctx context.Context, fn func(*cache.Snapshot)) {
	snap, ok := c.cache.Load(ctx)
	if !ok {
		return
	}
	fn(&snap)
	c.cache.Save(ctx, snap)
}

// idLock is a reference-counted mutex for one transaction id. Entries leave
// the map as soon as nobody holds or waits on them, so the map stays bounded
// by in-flight operations rather than every id ever touched.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes operations on one transaction id.
func (c *Coordinator) lock(id string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &idLock{}
		c.locks[id] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.locksMu.Unlock()
	}
}

// adjustAggregates folds one pending mutation into server-side totals the
// same way the overlay folds it into the list.
func adjustAggregates(agg *transaction.Aggregates, cached []transaction.Transaction, m mutation.Mutation) {
	switch m.Action {
	case mutation.ActionAdd:
		t := m.Payload.Materialize(m.TargetID)
		agg.Apply(t.Type, t.Amount)
	case mutation.ActionUpdate:
		for _, t := range cached {
			if t.ID == m.TargetID {
				updated := t
				m.Payload.Apply(&updated)
				agg.Reverse(t.Type, t.Amount)
				agg.Apply(updated.Type, updated.Amount)
				return
			}
		}
	case mutation.ActionDelete:
		for _, t := range cached {
			if t.ID == m.TargetID {
				agg.Reverse(t.Type, t.Amount)
				return
			}
		}
	}
}

func filterMatch(list []transaction.Transaction, f transaction.Filter) []transaction.Transaction {
	if f.Empty() {
		return list
	}
	out := make([]transaction.Transaction, 0, len(list))
	for _, t := range list {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func isNotFound(err error) bool {
	var notFound *transaction.ErrNotFound
	return errors.As(err, &notFound)
}
