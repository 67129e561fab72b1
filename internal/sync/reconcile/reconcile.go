// Package reconcile merges pending local mutations over the cached server
// view. Overlay is pure and idempotent: it never touches its inputs and
// replaying it over its own output changes nothing, so callers can re-run it
// on every read.
package reconcile

import (
	"github.com/moneybrain/syncd/internal/domain/mutation"
	"github.com/moneybrain/syncd/internal/domain/transaction"
)

// Overlay applies the pending mutations, in queue order, to a copy of the
// cached list. Local-only adds are prepended so the newest optimistic entry
// paints first; updates patch in place; deletes hide the row. A nil cached
// list yields just the materialized adds.
func Overlay(cached []transaction.Transaction, pending []mutation.Mutation) []transaction.Transaction {
	out := make([]transaction.Transaction, len(cached))
	copy(out, cached)

	for _, m := range pending {
		switch m.Action {
		case mutation.ActionAdd:
			if indexOf(out, m.TargetID) < 0 {
				out = append([]transaction.Transaction{m.Payload.Materialize(m.TargetID)}, out...)
			}
		case mutation.ActionUpdate:
			if i := indexOf(out, m.TargetID); i >= 0 {
				m.Payload.Apply(&out[i])
			}
		case mutation.ActionDelete:
			if i := indexOf(out, m.TargetID); i >= 0 {
				out = append(out[:i], out[i+1:]...)
			}
		}
	}

	return out
}

// OverlayTotal adjusts the server row count for pending adds and deletes so
// pagination reflects what the user actually sees.
func OverlayTotal(total int64, cached []transaction.Transaction, pending []mutation.Mutation) int64 {
	for _, m := range pending {
		switch m.Action {
		case mutation.ActionAdd:
			if indexOf(cached, m.TargetID) < 0 {
				total++
			}
		case mutation.ActionDelete:
			if indexOf(cached, m.TargetID) >= 0 {
				total--
			}
		}
	}
	if total < 0 {
		total = 0
	}
	return total
}

func indexOf(list []transaction.Transaction, id string) int {
	for i, t := range list {
		if t.ID == id {
			return i
		}
	}
	return -1
}
