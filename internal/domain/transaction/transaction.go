// Package transaction defines the core financial transaction record shared by
// the sync engine, the remote store adapters, and the HTTP surface.
package transaction

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies a transaction. The set is closed: income and borrowed
// credit the balance, expense and lent debit it.
type Type string

const (
	TypeIncome   Type = "income"
	TypeExpense  Type = "expense"
	TypeLent     Type = "lent"
	TypeBorrowed Type = "borrowed"
)

// Types returns the closed set of transaction types.
func Types() []Type {
	return []Type{TypeIncome, TypeExpense, TypeLent, TypeBorrowed}
}

// Valid reports whether t is one of the four known types.
func (t Type) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeLent, TypeBorrowed:
		return true
	}
	return false
}

// Credits reports whether the type increases the balance.
func (t Type) Credits() bool {
	return t == TypeIncome || t == TypeBorrowed
}

// Transaction is a single financial record. Amount is stored in minor
// currency units (cents) and is always non-negative; the sign is carried by
// the Type.
type Transaction struct {
	ID       string    `json:"id" bson:"_id"`
	Amount   int64     `json:"amount" bson:"amount"`
	Title    string    `json:"title" bson:"title"`
	Type     Type      `json:"type" bson:"type"`
	Category string    `json:"category" bson:"category"`
	Date     time.Time `json:"date" bson:"date"`
}

// localIDPrefix marks client-generated ids that carry no server meaning.
const localIDPrefix = "local-"

// NewLocalID generates a temporary id for a record created while offline or
// awaiting server confirmation.
func NewLocalID() string {
	return localIDPrefix + uuid.New().String()
}

// IsLocalID reports whether id was generated on this client and has never
// been assigned by the server.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// Validate checks the fields the server requires for a create.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ErrValidation{Field: "title", Message: "title is required"}
	}
	if t.Amount < 0 {
		return &ErrValidation{Field: "amount", Message: "amount must not be negative"}
	}
	if !t.Type.Valid() {
		return &ErrValidation{Field: "type", Message: "unknown transaction type: " + string(t.Type)}
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ErrValidation{Field: "category", Message: "category is required"}
	}
	if t.Date.IsZero() {
		return &ErrValidation{Field: "date", Message: "date is required"}
	}
	return nil
}

// Filter narrows a transaction listing. The zero value matches everything.
type Filter struct {
	Search string `json:"search,omitempty" form:"search"`
	Type   Type   `json:"type,omitempty" form:"type"`
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return f.Search == "" && f.Type == ""
}

// Match applies the filter locally with the same semantics the remote store
// uses: case-insensitive substring on title or category, exact type.
func (f Filter) Match(t Transaction) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Category), needle) {
			return false
		}
	}
	return true
}
