// Package orchestrator drains the durable mutation queue against the remote
// store. Runs are single-flight, replay strictly oldest-first, and park work
// that keeps failing on an inspectable dead-letter list instead of dropping
// it.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/moneybrain/syncd/internal/domain/mutation"
	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/platform/connectivity"
	"github.com/moneybrain/syncd/internal/platform/messaging"
	"github.com/moneybrain/syncd/internal/sync/queue"
)

// Status is a point-in-time view of the engine for UIs and health surfaces.
type Status struct {
	PendingCount    int       `json:"pending_count"`
	DeadLetterCount int       `json:"dead_letter_count"`
	IsSyncing       bool      `json:"is_syncing"`
	IsOnline        bool      `json:"is_online"`
	SyncError       string    `json:"sync_error,omitempty"`
	LastSyncTime    time.Time `json:"last_sync_time,omitempty"`
}

// DeadLetter is a mutation the engine gave up on, kept for inspection.
type DeadLetter struct {
	Mutation mutation.Mutation `json:"mutation"`
	Reason   string            `json:"reason"`
	At       time.Time         `json:"at"`
}

// Result summarizes one finished run. IDRemaps maps provisional local ids to
// the server-assigned ids minted during replay.
type Result struct {
	Replayed     int
	DeadLettered int
	Err          error
	IDRemaps     map[string]string
}

// Orchestrator owns the replay loop. All remote calls are scoped to a single
// user.
type Orchestrator struct {
	logger     *slog.Logger
	queue      *queue.Queue
	store      transaction.Store
	checker    connectivity.Checker
	publisher  *messaging.DeadLetterPublisher
	userID     string
	maxRetries int
	interval   time.Duration

	mu          sync.Mutex
	syncing     bool
	lastErr     string
	lastSync    time.Time
	deadLetters []DeadLetter
	listeners   []chan Result
	kicks       chan struct{}
}

// New wires an orchestrator. publisher may be nil (no Kafka export).
func New(
	logger *slog.Logger,
	q *queue.Queue,
	store transaction.Store,
	checker connectivity.Checker,
	publisher *messaging.DeadLetterPublisher,
	userID string,
	maxRetries int,
	interval time.Duration,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		queue:      q,
		store:      store,
		checker:    checker,
		publisher:  publisher,
		userID:     userID,
		maxRetries: maxRetries,
		interval:   interval,
		kicks:      make(chan struct{}, 1),
	}
}

// Subscribe returns a channel receiving a Result after every finished run.
// Slow listeners miss results rather than blocking the engine.
func (o *Orchestrator) Subscribe() <-chan Result {
	ch := make(chan Result, 4)
	o.mu.Lock()
	o.listeners = append(o.listeners, ch)
	o.mu.Unlock()
	return ch
}

// Start drives runs from three triggers: connectivity coming back, the
// periodic interval, and explicit kicks. It blocks until ctx is canceled, so
// callers run it in a goroutine.
func (o *Orchestrator) Start(ctx context.Context, events <-chan connectivity.Event) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Sync orchestrator stopping")
			return
		case ev := <-events:
			if ev.Online {
				o.Run(ctx)
			}
		case <-ticker.C:
			o.Run(ctx)
		case <-o.kicks:
			o.Run(ctx)
		}
	}
}

// Kick requests a run from the Start loop without blocking the caller.
func (o *Orchestrator) Kick() {
	select {
	case o.kicks <- struct{}{}:
	default:
	}
}

// Status reports the engine's current state.
func (o *Orchestrator) Status(ctx context.Context) Status {
	pending := o.queue.Len(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		PendingCount:    pending,
		DeadLetterCount: len(o.deadLetters),
		IsSyncing:       o.syncing,
		IsOnline:        o.checker.Online(),
		SyncError:       o.lastErr,
		LastSyncTime:    o.lastSync,
	}
}

// DeadLetters returns a copy of the parked mutations, newest last.
func (o *Orchestrator) DeadLetters() []DeadLetter {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]DeadLetter, len(o.deadLetters))
	copy(out, o.deadLetters)
	return out
}

// Run replays the queue once. Concurrent calls collapse: while a run is in
// flight, further calls return immediately with started=false.
func (o *Orchestrator) Run(ctx context.Context) (started bool) {
	if !o.checker.Online() {
		o.logger.Debug("Skipping sync run while offline")
		return false
	}

	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return false
	}
	o.syncing = true
	o.mu.Unlock()

	result := o.replayAll(ctx)

	o.mu.Lock()
	o.syncing = false
	o.lastSync = time.Now().UTC()
	if result.Err != nil {
		o.lastErr = result.Err.Error()
	} else {
		o.lastErr = ""
	}
	listeners := o.listeners
	o.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- result:
		default:
		}
	}

	return true
}

// replayAll reloads the persisted queue, walks it oldest-first and replays
// each entry in turn. A failed entry stays queued with a bumped retry count
// and the run moves on, so one faulting payload never blocks the rest of the
// queue; rejected or exhausted entries are parked on the dead-letter list.
func (o *Orchestrator) replayAll(ctx context.Context) Result {
	result := Result{IDRemaps: map[string]string{}}

	o.queue.Reload(ctx)
	pending := o.queue.Pending(ctx)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
	})

	for _, m := range pending {
		err := o.replay(ctx, m, result.IDRemaps)
		if err == nil {
			o.queue.Complete(ctx, m.ID)
			if serverID, ok := result.IDRemaps[m.TargetID]; ok {
				// An intent enqueued against the local id while this add was
				// in flight must follow the record to its server identity.
				o.queue.RetargetAdd(ctx, m.TargetID, serverID)
			}
			result.Replayed++
			continue
		}

		if transaction.IsValidation(err) {
			o.deadLetter(ctx, m, err.Error())
			result.DeadLettered++
			continue
		}

		retries := o.queue.IncrementRetry(ctx, m.ID)
		if retries >= o.maxRetries {
			o.deadLetter(ctx, m, "retries exhausted: "+err.Error())
			result.DeadLettered++
			continue
		}

		o.logger.Warn("Mutation replay failed, leaving queued",
			"mutation_id", m.ID,
			"retries", retries,
			"error", err,
		)
		result.Err = err
	}

	return result
}

func (o *Orchestrator) replay(ctx context.Context, m mutation.Mutation, remaps map[string]string) error {
	switch m.Action {
	case mutation.ActionAdd:
		if err := m.Payload.Complete(); err != nil {
			return err
		}
		created, err := o.store.Create(ctx, o.userID, m.Payload.Materialize(""))
		if err != nil {
			return err
		}
		remaps[m.TargetID] = created.ID
		o.logger.Info("Replayed add", "local_id", m.TargetID, "server_id", created.ID)
		return nil

	case mutation.ActionUpdate:
		targetID := resolveTarget(m.TargetID, remaps)
		if transaction.IsLocalID(targetID) {
			// The target never reached the server; there is nothing to patch.
			o.logger.Info("Completing update against unsynced local target", "target_id", targetID)
			return nil
		}
		err := o.store.Update(ctx, o.userID, targetID, m.Payload)
		if isGone(err) {
			o.logger.Warn("Update target no longer exists remotely", "target_id", targetID)
			return nil
		}
		return err

	case mutation.ActionDelete:
		targetID := resolveTarget(m.TargetID, remaps)
		if transaction.IsLocalID(targetID) {
			return nil
		}
		err := o.store.Delete(ctx, o.userID, targetID)
		if isGone(err) {
			return nil
		}
		return err

	default:
		return &transaction.ErrValidation{Field: "action", Message: "unknown mutation action " + string(m.Action)}
	}
}

// deadLetter removes the mutation from the queue, records it locally and,
// when configured, exports it to Kafka.
func (o *Orchestrator) deadLetter(ctx context.Context, m mutation.Mutation, reason string) {
	o.queue.Remove(ctx, m.ID)

	o.mu.Lock()
	o.deadLetters = append(o.deadLetters, DeadLetter{
		Mutation: m,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	o.mu.Unlock()

	o.logger.Error("Mutation dead-lettered",
		"mutation_id", m.ID,
		"target_id", m.TargetID,
		"action", m.Action,
		"reason", reason,
	)

	if err := o.publisher.Publish(ctx, m, reason); err != nil {
		o.logger.Error("Failed to export dead-lettered mutation", "mutation_id", m.ID, "error", err)
	}
}

// resolveTarget swaps a provisional local id for the server id its add was
// assigned earlier in the same run.
func resolveTarget(id string, remaps map[string]string) string {
	if serverID, ok := remaps[id]; ok {
		return serverID
	}
	return id
}

// isGone reports whether the remote already lacks the target, which replay
// treats as success.
func isGone(err error) bool {
	var notFound *transaction.ErrNotFound
	return errors.As(err, &notFound)
}
