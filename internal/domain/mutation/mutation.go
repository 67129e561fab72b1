// Package mutation defines the queued mutation record and the coalescing
// rules that keep the durable queue at one entry per target.
package mutation

import (
	"time"

	"github.com/google/uuid"

	"github.com/moneybrain/syncd/internal/domain/transaction"
)

// Action is the kind of change a queued mutation represents.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Mutation is one pending local intent awaiting remote confirmation. ID is a
// queue-entry id, independent of the transaction id it targets.
type Mutation struct {
	ID         string            `json:"id"`
	Action     Action            `json:"action"`
	TargetID   string            `json:"target_id"`
	Payload    transaction.Patch `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Retries    int               `json:"retries"`
}

// New builds a fresh queue entry.
func New(action Action, targetID string, payload transaction.Patch) Mutation {
	return Mutation{
		ID:         uuid.New().String(),
		Action:     action,
		TargetID:   targetID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Coalesce folds a new intent into an existing entry for the same target.
// The returned drop flag means both intents cancel out and the entry must be
// removed: an object that was only ever created locally needs no remote
// delete.
func Coalesce(existing Mutation, action Action, payload transaction.Patch) (merged Mutation, drop bool) {
	switch {
	case existing.Action == ActionAdd && action == ActionDelete:
		return Mutation{}, true
	case existing.Action == ActionAdd && action == ActionUpdate:
		existing.Payload = existing.Payload.Merge(payload)
		existing.EnqueuedAt = time.Now().UTC()
		return existing, false
	case existing.Action == ActionUpdate && action == ActionDelete:
		existing.Action = ActionDelete
		existing.Payload = transaction.Patch{}
		existing.EnqueuedAt = time.Now().UTC()
		return existing, false
	case existing.Action == ActionUpdate && action == ActionUpdate:
		existing.Payload = existing.Payload.Merge(payload)
		existing.EnqueuedAt = time.Now().UTC()
		return existing, false
	default:
		// Replays of the same action, or nonsensical sequences such as an
		// add over an existing entry, keep the latest intent's payload.
		existing.Action = action
		existing.Payload = existing.Payload.Merge(payload)
		existing.EnqueuedAt = time.Now().UTC()
		return existing, false
	}
}
